package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventEmitter_DropsWhenFull(t *testing.T) {
	e := NewEventEmitter(1, nil)
	e.Emit(CoordinationEvent{Type: EventCoordinationStarted})
	e.Emit(CoordinationEvent{Type: EventCoordinationDone})

	assert.EqualValues(t, 1, e.DroppedCount())
	ev := <-e.Events()
	assert.Equal(t, EventCoordinationStarted, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEventEmitter_CloseIsIdempotent(t *testing.T) {
	e := NewEventEmitter(4, nil)
	e.Close()
	e.Close()
	e.Emit(CoordinationEvent{Type: EventCoordinationStarted})

	_, ok := <-e.Events()
	assert.False(t, ok)
}

func TestEventEmitter_NilIsSafe(t *testing.T) {
	var e *EventEmitter
	assert.NotPanics(t, func() { e.Emit(CoordinationEvent{Type: EventCoordinationStarted}) })
}
