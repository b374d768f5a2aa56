package model

import (
	"fmt"

	"github.com/google/uuid"
)

// NewInvocationID returns a time-ordered identifier for one cargo-task run.
func NewInvocationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate invocation id: %w", err)
	}
	return id.String(), nil
}

func ValidateInvocationID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.Version() == 7
}
