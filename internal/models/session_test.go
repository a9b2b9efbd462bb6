package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    StreamStatus
		to      StreamStatus
		allowed bool
	}{
		{StatusScheduled, StatusLive, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusEnded, false},
		{StatusPreparing, StatusLive, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusLive, StatusPaused, true},
		{StatusLive, StatusEnded, true},
		{StatusLive, StatusCancelled, false},
		{StatusPaused, StatusLive, true},
		{StatusPaused, StatusEnded, true},
		{StatusPaused, StatusCancelled, false},
		{StatusEnded, StatusLive, false},
		{StatusEnded, StatusPaused, false},
		{StatusCancelled, StatusLive, false},
		{StatusLive, StatusScheduled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusEnded.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusLive.IsTerminal())
	assert.False(t, StatusScheduled.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
	assert.False(t, StatusPreparing.IsTerminal())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusLive.Valid())
	assert.False(t, StreamStatus("RUNNING").Valid())
}
