package runner

import (
	"path/filepath"
	"time"

	"github.com/msageha/cargo-task/internal/logging"
	"github.com/msageha/cargo-task/internal/model"
	yamlutil "github.com/msageha/cargo-task/internal/yaml"
)

const (
	// RecordName is the run record kept beside the workspace after each run.
	// It stays outside ws because ws is the task's root directory.
	RecordName          = "last-run.yaml"
	recordSchemaVersion = 1
)

// RecordPath returns the run record location under an output root.
func RecordPath(outputRoot string) string {
	return filepath.Join(outputRoot, RecordName)
}

// ReadRecord loads the run record left under outputRoot.
func ReadRecord(outputRoot string) (model.RunRecord, error) {
	var rec model.RunRecord
	err := yamlutil.ReadVersioned(RecordPath(outputRoot), recordSchemaVersion, &rec)
	return rec, err
}

type recorder struct {
	path string
	rec  model.RunRecord
	now  func() time.Time
	log  *logging.Logger
}

func newRecorder(id string, def model.TaskDefinition, args []string, now func() time.Time, log *logging.Logger) *recorder {
	started := now().UTC()
	rec := model.RunRecord{
		SchemaVersion: recordSchemaVersion,
		InvocationID:  id,
		Task:          def.Name,
		Source:        def.Path,
		EnvMode:       def.Env.Mode.String(),
		Args:          len(args),
		State:         model.StateTaskResolved,
		StartedAt:     started,
		UpdatedAt:     started,
	}
	if def.Env.Mode == model.EnvAllowList {
		rec.EnvNames = def.Env.Names()
	}
	return &recorder{rec: rec, now: now, log: log}
}

// attach starts persisting once the workspace exists.
func (r *recorder) attach(outputRoot string) {
	r.path = RecordPath(outputRoot)
}

func (r *recorder) update(state model.RunState, exitCode *int, err error) {
	if r == nil {
		return
	}
	r.rec.State = state
	r.rec.ExitCode = exitCode
	if err != nil {
		r.rec.Error = err.Error()
	}
	r.rec.UpdatedAt = r.now().UTC()
	if r.path == "" {
		return
	}
	if werr := yamlutil.AtomicWrite(r.path, r.rec); werr != nil {
		r.log.Warn("write run record: %v", werr)
	}
}
