/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package shell wires focus.Tracker to the real org.gnome.Shell proxy and
// org.freedesktop.DBus over the session bus, grounded on
// original_source/src/dbus/system.py's Desktop class (FocusedApp/
// OverviewActive cached-property reads, the PropertiesChanged signal watch,
// and the async GetNameOwner call). godbus/dbus/v5 usage (signal channel,
// AddMatchSignal, a goroutine draining Signal(ch)) follows
// other_examples/b0bbywan-go-odio-api's systemd listener pattern.
package shell

import (
	"github.com/endlessm/hacksoundserver/internal/focus"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	shellDest   = "org.gnome.Shell"
	shellPath   = "/org/gnome/Shell"
	shellIface  = "org.gnome.Shell"
	dbusDest    = "org.freedesktop.DBus"
	dbusPath    = "/org/freedesktop/DBus"
	dbusIface   = "org.freedesktop.DBus"
	propsIface  = "org.freedesktop.DBus.Properties"

	hackableAppsDest  = "com.endlessm.HackableAppsManager"
	hackableAppsPath  = "/com/endlessm/HackableAppsManager"
	hackableAppsIface = "com.endlessm.HackableAppsManager"
)

// Watcher owns the session-bus connection used to read the shell's
// FocusedApp/OverviewActive properties and to resolve bus-name owners.
type Watcher struct {
	conn   *dbus.Conn
	logger zerolog.Logger

	onFocusedAppChanged     func(desktopFile *string)
	onOverviewActiveChanged func(active bool)
}

// NewWatcher subscribes conn (an already-connected session bus) to the
// shell's PropertiesChanged signal. onFocusedAppChanged/onOverviewActiveChanged are
// invoked on the goroutine that drains the D-Bus signal channel; callers
// must forward them onto the orchestrator's single-reader loop rather than
// mutate focus.Tracker state directly from here.
func NewWatcher(conn *dbus.Conn, logger zerolog.Logger, onFocusedAppChanged func(*string), onOverviewActiveChanged func(bool)) (*Watcher, error) {
	w := &Watcher{
		conn:                    conn,
		logger:                  logger,
		onFocusedAppChanged:     onFocusedAppChanged,
		onOverviewActiveChanged: onOverviewActiveChanged,
	}

	rule := dbus.WithMatchInterface(propsIface)
	pathRule := dbus.WithMatchObjectPath(shellPath)
	if err := w.conn.AddMatchSignal(rule, pathRule); err != nil {
		return nil, err
	}

	signals := make(chan *dbus.Signal, 16)
	w.conn.Signal(signals)
	go w.drain(signals)

	return w, nil
}

func (w *Watcher) drain(signals <-chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
			continue
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != shellIface {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		if v, ok := changed["FocusedApp"]; ok {
			w.onFocusedAppChanged(variantToDesktopFile(v))
		}
		if v, ok := changed["OverviewActive"]; ok {
			if active, ok := v.Value().(bool); ok {
				w.onOverviewActiveChanged(active)
			}
		}
	}
}

func variantToDesktopFile(v dbus.Variant) *string {
	s, ok := v.Value().(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// FocusedApp reads the shell's cached FocusedApp property synchronously.
// cmd/hacksoundserverd does not call it; the Tracker starts with no focused
// app and learns of one from the PropertiesChanged signal.
func (w *Watcher) FocusedApp() (*string, error) {
	obj := w.conn.Object(shellDest, shellPath)
	var s string
	if err := obj.Call(propsIface+".Get", 0, shellIface, "FocusedApp").Store(&s); err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// OverviewActive reads the shell's cached OverviewActive property.
func (w *Watcher) OverviewActive() (bool, error) {
	obj := w.conn.Object(shellDest, shellPath)
	var active bool
	err := obj.Call(propsIface+".Get", 0, shellIface, "OverviewActive").Store(&active)
	return active, err
}

// NameOwnerResolver implements focus.NameOwnerResolver against
// org.freedesktop.DBus.GetNameOwner, called asynchronously per request so
// the Tracker's 30ms timeout genuinely races the D-Bus round trip.
type NameOwnerResolver struct {
	conn     *dbus.Conn
	logger   zerolog.Logger
	onResult func(requestID int, uniqueName string, found bool)
}

// NewNameOwnerResolver constructs a resolver that reports results via
// onResult, invoked on a call-specific goroutine; callers must route it
// through the orchestrator's single-reader loop before touching Tracker
// state.
func NewNameOwnerResolver(conn *dbus.Conn, logger zerolog.Logger, onResult func(requestID int, uniqueName string, found bool)) *NameOwnerResolver {
	return &NameOwnerResolver{conn: conn, logger: logger, onResult: onResult}
}

func (r *NameOwnerResolver) Resolve(wellKnownName string, requestID int) {
	go func() {
		obj := r.conn.Object(dbusDest, dbusPath)
		var owner string
		err := obj.Call(dbusIface+".GetNameOwner", 0, wellKnownName).Store(&owner)
		if err != nil {
			r.onResult(requestID, "", false)
			return
		}
		r.onResult(requestID, owner, true)
	}()
}

// HackableAppsWatcher mirrors com.endlessm.HackableAppsManager's
// CurrentlyHackableApps property into onChanged, grounded on
// original_source/src/dbus/hackableapp.py's HackableAppsManager proxy
// (get_by_app_id reads this same property snapshot).
type HackableAppsWatcher struct {
	conn      *dbus.Conn
	logger    zerolog.Logger
	onChanged func(apps []focus.HackableApp)
}

// NewHackableAppsWatcher uses conn (an already-connected session bus) to
// fetch the initial CurrentlyHackableApps snapshot and watch it for changes.
// onChanged is invoked on the goroutine draining the watcher's own signal
// channel: first with the initial snapshot (when the fetch succeeded), then
// once per change. It is never invoked from NewHackableAppsWatcher's caller's
// goroutine; callers must route it onto the orchestrator's single-reader
// loop before calling focus/hackableapps.Manager.Update.
func NewHackableAppsWatcher(conn *dbus.Conn, logger zerolog.Logger, onChanged func(apps []focus.HackableApp)) (*HackableAppsWatcher, error) {
	w := &HackableAppsWatcher{conn: conn, logger: logger, onChanged: onChanged}

	rule := dbus.WithMatchInterface(propsIface)
	pathRule := dbus.WithMatchObjectPath(hackableAppsPath)
	if err := w.conn.AddMatchSignal(rule, pathRule); err != nil {
		return nil, err
	}
	signals := make(chan *dbus.Signal, 16)
	w.conn.Signal(signals)

	apps, err := w.fetch()
	if err != nil {
		w.logger.Warn().Err(err).Msg("initial CurrentlyHackableApps fetch failed")
	}
	go func() {
		if err == nil {
			onChanged(apps)
		}
		w.drain(signals)
	}()

	return w, nil
}

func (w *HackableAppsWatcher) drain(signals <-chan *dbus.Signal) {
	for sig := range signals {
		if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
			continue
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != hackableAppsIface {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		if v, ok := changed["CurrentlyHackableApps"]; ok {
			w.onChanged(decodeHackableApps(v))
		}
	}
}

func (w *HackableAppsWatcher) fetch() ([]focus.HackableApp, error) {
	obj := w.conn.Object(hackableAppsDest, hackableAppsPath)
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, hackableAppsIface, "CurrentlyHackableApps").Store(&v); err != nil {
		return nil, err
	}
	return decodeHackableApps(v), nil
}

// decodeHackableApps unmarshals the a(ss) CurrentlyHackableApps wire value:
// pairs of (app id, presentation state), where state "toolbox" maps to
// HackableAppStateToolbox and anything else to HackableAppStateApp.
func decodeHackableApps(v dbus.Variant) []focus.HackableApp {
	entries, ok := v.Value().([][]interface{})
	if !ok {
		return nil
	}
	apps := make([]focus.HackableApp, 0, len(entries))
	for _, entry := range entries {
		if len(entry) != 2 {
			continue
		}
		appID, ok1 := entry[0].(string)
		stateStr, ok2 := entry[1].(string)
		if !ok1 || !ok2 {
			continue
		}
		state := focus.HackableAppStateApp
		if stateStr == "toolbox" {
			state = focus.HackableAppStateToolbox
		}
		apps = append(apps, focus.HackableApp{AppID: appID, State: state})
	}
	return apps
}
