package utils

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTimerStop(t *testing.T) {
	timer := NewTimer("test_op", zerolog.Nop(), 0)
	time.Sleep(5 * time.Millisecond)

	duration := timer.Stop()
	assert.GreaterOrEqual(t, duration, 5*time.Millisecond)
}

func TestOperationTimer(t *testing.T) {
	done := OperationTimer("test_op", zerolog.Nop())
	assert.NotPanics(t, done)
}
