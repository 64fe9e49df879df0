package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job identifier
func NewJobID() string {
	return uuid.New().String()
}

// NewWorkerID generates a unique worker identifier
func NewWorkerID() string {
	return uuid.New().String()
}

// NewCorrelationID generates a correlation identifier used to tie together
// logs, events and errors for one job attempt.
func NewCorrelationID() string {
	return uuid.New().String()
}

// NewInstanceID generates a unique browser instance identifier
func NewInstanceID() string {
	return uuid.New().String()
}
