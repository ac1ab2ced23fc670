package types

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when a terminal job would be overwritten.
	ErrJobFinished = errors.New("job already finished")
)

// Job is the persisted record of one highlight request.
type Job struct {
	ID        string    `json:"job_id"`
	MediaID   string    `json:"media_id"`
	Status    Status    `json:"status"`
	Progress  Progress  `json:"progress"`
	Request   Request   `json:"request"`
	Result    *Result   `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
