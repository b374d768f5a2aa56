package manifest

import (
	"os"
	"path/filepath"
)

// maxRootDepth bounds the upward search independently of the filesystem
// layout.
const maxRootDepth = 256

// FindRoot walks from start towards the filesystem root and returns the
// first directory containing a Cargo.toml.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for i := 0; i < maxRootDepth; i++ {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", ErrRootNotFound
}

// Path returns the manifest location for a project root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}
