package manifest

import (
	"errors"
	"fmt"
)

// ErrRootNotFound is returned by FindRoot when no ancestor holds a Cargo.toml.
var ErrRootNotFound = errors.New("no Cargo.toml found in any parent directory")

// ParseError reports a manifest that could not be decoded or violates the
// task schema. Key is the dotted path of the offending key when known.
type ParseError struct {
	Path    string
	Key     string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Key, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type parseErrors struct {
	errs []*ParseError
}

func (pe *parseErrors) add(path, key, message string) {
	pe.errs = append(pe.errs, &ParseError{Path: path, Key: key, Message: message})
}

// err returns the first collected error; later ones are joined behind it so
// errors.As still finds a *ParseError.
func (pe *parseErrors) err() error {
	switch len(pe.errs) {
	case 0:
		return nil
	case 1:
		return pe.errs[0]
	}
	all := make([]error, 0, len(pe.errs))
	for _, e := range pe.errs {
		all = append(all, e)
	}
	return errors.Join(all...)
}
