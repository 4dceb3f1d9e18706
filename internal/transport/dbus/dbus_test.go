/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dbus

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

func TestUnwrapVariantsReturnsNilForEmpty(t *testing.T) {
	require.Nil(t, unwrapVariants(nil))
	require.Nil(t, unwrapVariants(map[string]dbus.Variant{}))
}

func TestUnwrapVariantsUnwrapsEachValue(t *testing.T) {
	options := map[string]dbus.Variant{
		"volume": dbus.MakeVariant(0.5),
		"loop":   dbus.MakeVariant(true),
	}
	out := unwrapVariants(options)
	require.Equal(t, 0.5, out["volume"])
	require.Equal(t, true, out["loop"])
}

// fakeDispatcher lets watchNameOwnerChanges/WatchBusName be exercised
// without a real session-bus connection, since Server.New's RequestName
// call needs a live *dbus.Conn that is out of reach in a unit test.
type fakeDispatcher struct {
	playCalls int
}

func (f *fakeDispatcher) PlaySound(sender, soundEventID string, options map[string]any) (string, string, string) {
	f.playCalls++
	return "uuid-1", "", ""
}
func (f *fakeDispatcher) UpdateProperties(sender, uuid string, transitionMS int, options map[string]any) {
}
func (f *fakeDispatcher) StopSound(sender, uuidOrEventID string)      {}
func (f *fakeDispatcher) TerminateSound(sender, uuidOrEventID string) {}

func TestWatchNameOwnerChangesInvokesCallbackOnlyForWatchedNames(t *testing.T) {
	var vanished []string
	s := &Server{
		dispatcher:        &fakeDispatcher{},
		watched:           map[string]bool{":1.42": true},
		onBusNameVanished: func(name string) { vanished = append(vanished, name) },
	}

	signals := make(chan *dbus.Signal, 4)
	done := make(chan struct{})
	go func() {
		s.watchNameOwnerChanges(signals)
		close(done)
	}()

	signals <- &dbus.Signal{
		Name: "org.freedesktop.DBus.NameOwnerChanged",
		Body: []any{":1.99", ":1.99", ""},
	}
	signals <- &dbus.Signal{
		Name: "org.freedesktop.DBus.NameOwnerChanged",
		Body: []any{":1.42", ":1.42", ""},
	}
	signals <- &dbus.Signal{
		Name: "org.freedesktop.DBus.NameOwnerChanged",
		Body: []any{":1.42", "", ":1.43"}, // still has an owner, not a vanish
	}
	close(signals)
	<-done

	require.Equal(t, []string{":1.42"}, vanished)
}

func TestWatchBusNameIsIdempotent(t *testing.T) {
	s := &Server{watched: map[string]bool{}}
	s.WatchBusName(":1.1")
	s.WatchBusName(":1.1")
	require.Len(t, s.watched, 1)
	require.True(t, s.watched[":1.1"])
}
