package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Key     string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// ValidationErrors collects every problem found in one configuration.
type ValidationErrors struct {
	Errors []ValidationError
}

func (ve *ValidationErrors) Add(key, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Key: key, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
