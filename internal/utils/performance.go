// Package utils provides small shared helpers.
package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Timer measures the duration of one operation
type Timer struct {
	start time.Time
	name  string
	log   zerolog.Logger
	slow  time.Duration
}

// NewTimer creates a started timer for the given operation. Operations that
// exceed slowAfter are logged at warn level; zero disables the warning.
func NewTimer(name string, log zerolog.Logger, slowAfter time.Duration) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
		log:   log,
		slow:  slowAfter,
	}
}

// Stop stops the timer, logs the duration, and returns it
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)

	t.log.Debug().
		Str("operation", t.name).
		Dur("duration_ms", duration).
		Msg("Operation completed")

	if t.slow > 0 && duration > t.slow {
		t.log.Warn().
			Str("operation", t.name).
			Dur("duration", duration).
			Dur("threshold", t.slow).
			Msg("Slow operation detected")
	}

	return duration
}

// OperationTimer provides a defer-friendly way to measure operation duration
//
// Usage:
//
//	func MyFunction() {
//	    defer utils.OperationTimer("my_function", log)()
//	}
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		log.Debug().
			Str("operation", operation).
			Dur("duration_ms", time.Since(start)).
			Msg("Operation completed")
	}
}
