/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueFansInMultipleEventTypes(t *testing.T) {
	bus := NewBus()
	q := NewQueue(bus, EventPipelineReleased, EventBusNameVanished)
	defer q.Close()

	bus.Publish(EventPipelineReleased, Payload{"uuid": "a"})
	bus.Publish(EventBusNameVanished, Payload{"bus_name": ":1.42"})

	seen := map[EventType]Payload{}
	for i := 0; i < 2; i++ {
		select {
		case env := <-q.C():
			seen[env.Type] = env.Payload
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	require.Equal(t, "a", seen[EventPipelineReleased]["uuid"])
	require.Equal(t, ":1.42", seen[EventBusNameVanished]["bus_name"])
}

func TestQueueIgnoresUnsubscribedEventTypes(t *testing.T) {
	bus := NewBus()
	q := NewQueue(bus, EventPipelineReleased)
	defer q.Close()

	bus.Publish(EventFocusChanged, Payload{"x": 1})

	select {
	case env := <-q.C():
		t.Fatalf("unexpected event: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}
