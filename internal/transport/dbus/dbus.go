/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dbus exports the daemon's public surface on the D-Bus session
// bus and watches callers' bus names for vanish notifications. Grounded on
// original_source/src/server.py's HackSoundServer (_DBUS_XML, do_dbus_register,
// _watch_bus_name/_bus_name_disconnect_cb) translated to godbus/dbus/v5's
// Export/AddMatchSignal idiom, and on
// other_examples/b0bbywan-go-odio-api's systemd listener for the
// Signal(ch)-draining-goroutine pattern.
package dbus

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	objectPath    = "/com/endlessm/HackSoundServer"
	interfaceName = "com.endlessm.HackSoundServer"

	errUnknownSoundEventID   = "com.endlessm.HackSoundServer.UnknownSoundEventID"
	errUnknownOverlapBehavior = "com.endlessm.HackSoundServer.UnknownOverlapBehavior"
)

// Dispatcher is the orchestrator's method surface, invoked from Server's
// exported D-Bus methods with the caller's bus name already resolved.
type Dispatcher interface {
	PlaySound(sender, soundEventID string, options map[string]any) (uuid string, dbusErr string, dbusErrMsg string)
	UpdateProperties(sender, uuid string, transitionMS int, options map[string]any)
	StopSound(sender, uuidOrEventID string)
	TerminateSound(sender, uuidOrEventID string)
}

// Server exports the daemon's D-Bus interface and watches every caller's bus
// name, publishing vanish notifications through onBusNameVanished.
type Server struct {
	conn    *dbus.Conn
	logger  zerolog.Logger
	dispatcher Dispatcher

	onBusNameVanished func(busName string)

	mu      sync.Mutex
	watched map[string]bool
}

// New uses conn (an already-connected session bus) to request busName and
// export the interface's methods bound to dispatcher.
func New(conn *dbus.Conn, busName string, dispatcher Dispatcher, logger zerolog.Logger, onBusNameVanished func(string)) (*Server, error) {
	s := &Server{
		conn:              conn,
		logger:            logger,
		dispatcher:        dispatcher,
		onBusNameVanished: onBusNameVanished,
		watched:           map[string]bool{},
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, &dbus.Error{Name: "com.endlessm.HackSoundServer.NameTaken"}
	}

	if err := conn.Export(methods{s}, objectPath, interfaceName); err != nil {
		return nil, err
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return nil, err
	}
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	go s.watchNameOwnerChanges(signals)

	return s, nil
}

func (s *Server) watchNameOwnerChanges(signals <-chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
			continue
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if newOwner != "" {
			continue // name still has an owner
		}
		s.mu.Lock()
		watched := s.watched[name]
		s.mu.Unlock()
		if watched {
			s.onBusNameVanished(name)
		}
	}
}

// WatchBusName ensures name's vanish is reported once, the daemon-side half
// of _watch_bus_name (the refcounting half lives in the orchestrator).
func (s *Server) WatchBusName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched[name] = true
}

// methods is the value actually Export()ed; a thin wrapper so Server itself
// doesn't need every method to carry a *dbus.Sender/*dbus.Message signature.
type methods struct{ s *Server }

func (m methods) PlaySound(soundEvent string, sender dbus.Sender) (string, *dbus.Error) {
	return m.dispatch(string(sender), soundEvent, nil)
}

func (m methods) PlayFull(soundEvent string, options map[string]dbus.Variant, sender dbus.Sender) (string, *dbus.Error) {
	return m.dispatch(string(sender), soundEvent, unwrapVariants(options))
}

func (m methods) dispatch(sender, soundEvent string, options map[string]any) (string, *dbus.Error) {
	uuid, dbusErr, dbusErrMsg := m.s.dispatcher.PlaySound(sender, soundEvent, options)
	if dbusErr != "" {
		return "", dbus.NewError(dbusErr, []any{dbusErrMsg})
	}
	m.s.WatchBusName(sender)
	return uuid, nil
}

func (m methods) UpdateProperties(uuid string, transitionMS int32, options map[string]dbus.Variant, sender dbus.Sender) *dbus.Error {
	m.s.dispatcher.UpdateProperties(string(sender), uuid, int(transitionMS), unwrapVariants(options))
	return nil
}

func (m methods) StopSound(uuid string, sender dbus.Sender) *dbus.Error {
	m.s.dispatcher.StopSound(string(sender), uuid)
	return nil
}

func (m methods) TerminateSound(uuid string, sender dbus.Sender) *dbus.Error {
	m.s.dispatcher.TerminateSound(string(sender), uuid)
	return nil
}

func unwrapVariants(options map[string]dbus.Variant) map[string]any {
	if len(options) == 0 {
		return nil
	}
	out := make(map[string]any, len(options))
	for k, v := range options {
		out[k] = v.Value()
	}
	return out
}

// ErrUnknownSoundEventID and ErrUnknownOverlapBehavior are the D-Bus error
// names the original _DBUS_UNKNOWN_SOUND_EVENT_ID/_DBUS_UNKNOWN_OVERLAP_BEHAVIOR
// constants define, reused verbatim as the wire contract.
const (
	ErrUnknownSoundEventID    = errUnknownSoundEventID
	ErrUnknownOverlapBehavior = errUnknownOverlapBehavior
)
