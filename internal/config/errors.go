package config

import "fmt"

// LoadError wraps a configuration-loading failure with the file that
// caused it, matching the teacher's LoadError (pkg/config/errors.go).
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func newLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
