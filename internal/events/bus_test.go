package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusRoutesByType(t *testing.T) {
	b := NewBus()

	var indexed, errored int
	b.Subscribe(IndexUpdated, func(ev Event) { indexed++ })
	b.Subscribe(ErrorRecorded, func(ev Event) { errored++ })

	b.Publish(Event{Type: IndexUpdated, Payload: "sync 1"})
	b.Publish(Event{Type: IndexUpdated, Payload: "sync 2"})
	b.Publish(Event{Type: ErrorRecorded, Payload: "boom"})

	assert.Equal(t, 2, indexed)
	assert.Equal(t, 1, errored)
}

func TestBusSubscribeAll(t *testing.T) {
	b := NewBus()

	var seen []Type
	b.SubscribeAll(func(ev Event) { seen = append(seen, ev.Type) })

	b.Publish(Event{Type: IndexUpdated})
	b.Publish(Event{Type: HealthSnapshot})

	assert.Equal(t, []Type{IndexUpdated, HealthSnapshot}, seen)
	assert.False(t, seen == nil)
}

func TestBusFillsTimestamp(t *testing.T) {
	b := NewBus()

	b.Subscribe(EnrichmentCompleted, func(ev Event) {
		assert.False(t, ev.At.IsZero())
	})
	b.Publish(Event{Type: EnrichmentCompleted})
}
