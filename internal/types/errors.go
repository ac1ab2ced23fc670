package types

import (
	"context"
	"errors"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrMediaUnreadable = errors.New("media unreadable")
	ErrNoMatchTarget   = errors.New("no match target")
	ErrRenderFailed    = errors.New("render failed")
	ErrCancelled       = errors.New("cancelled")
	ErrTimedOut        = errors.New("timed out")
)

// ErrorCode maps an error to the stable code reported in results.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrMediaUnreadable):
		return "media_unreadable"
	case errors.Is(err, ErrNoMatchTarget):
		return "no_match_target"
	case errors.Is(err, ErrRenderFailed):
		return "render_failed"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return "timed_out"
	default:
		return "internal"
	}
}

// StatusFor returns the terminal status for a job that ended with err.
func StatusFor(err error) Status {
	switch ErrorCode(err) {
	case "":
		return StatusSucceeded
	case "cancelled":
		return StatusCancelled
	case "timed_out":
		return StatusTimedOut
	default:
		return StatusFailed
	}
}
