package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Generation is one audited request through the pipeline.
type Generation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Utterance string    `json:"utterance"`
	Query     string    `json:"query"`
	Prompt    string    `json:"prompt,omitempty"`
	Backend   string    `json:"backend"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}
