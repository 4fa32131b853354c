package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionString(t *testing.T) {
	tests := []struct {
		name     string
		action   Action
		expected string
	}{
		{name: "buy", action: ActionBuy, expected: "buy"},
		{name: "sell", action: ActionSell, expected: "sell"},
		{name: "hold", action: ActionHold, expected: "hold"},
		{name: "unknown value defaults to hold", action: Action(7), expected: "hold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.action.String())
		})
	}
}

func TestActionValues(t *testing.T) {
	// Sign conventions matter: confidence-weighted aggregation multiplies
	// action by confidence and takes the sign of the sum.
	assert.Equal(t, -1, int(ActionSell))
	assert.Equal(t, 0, int(ActionHold))
	assert.Equal(t, 1, int(ActionBuy))
}
