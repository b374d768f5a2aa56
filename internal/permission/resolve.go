// Package permission turns a task's declared environment permission into a
// concrete grant.
package permission

import (
	"os"

	"github.com/msageha/cargo-task/internal/model"
)

// Lookup reads one variable from an environment. It must not modify it.
type Lookup func(name string) (string, bool)

// OSLookup reads the current process environment.
var OSLookup Lookup = os.LookupEnv

// MapLookup serves lookups from a fixed map.
func MapLookup(env map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

// Resolve applies decl against env. It never fails: malformed declarations
// are rejected when the manifest is parsed.
//
// Allow-list values are copied at call time, so later changes to the
// environment do not reach an already resolved grant. Names that are not set
// are skipped, as is the empty name; a name listed twice is captured once.
func Resolve(decl model.InheritEnv, env Lookup) model.EnvVars {
	switch d := decl.(type) {
	case model.InheritEnvBool:
		if d {
			return model.AllEnv()
		}
		return model.NoEnv()
	case model.InheritEnvList:
		if env == nil {
			env = OSLookup
		}
		pairs := make([]model.EnvPair, 0, len(d))
		seen := make(map[string]bool, len(d))
		for _, name := range d {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			if value, ok := env(name); ok {
				pairs = append(pairs, model.EnvPair{Name: name, Value: value})
			}
		}
		return model.AllowListEnv(pairs)
	default:
		return model.NoEnv()
	}
}
