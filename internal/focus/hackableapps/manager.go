/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hackableapps implements focus.HackableAppsCatalog by mirroring
// com.endlessm.HackableAppsManager's currently-hackable-apps property and a
// static app-id whitelist, grounded on original_source/src/dbus/hackableapp.py
// (referenced from watcher.py's HackableAppsManager.get_by_app_id /
// .whitelisted_app_ids, which this package re-implements as a plain Go map
// instead of a GObject property cache).
package hackableapps

import "github.com/endlessm/hacksoundserver/internal/focus"

// Manager is an in-memory snapshot of the hackable-applications catalog,
// refreshed wholesale by focus/shell.HackableAppsWatcher whenever
// com.endlessm.HackableAppsManager publishes a new CurrentlyHackableApps
// property value.
type Manager struct {
	whitelist map[string]bool
	apps      map[string]focus.HackableApp
}

// New constructs a Manager with a fixed whitelist of app ids the daemon will
// ever consider "hackable", matching the original's app-whitelist config
// entry. The initial hackable-apps catalog is empty until Update is called.
func New(whitelist []string) *Manager {
	w := make(map[string]bool, len(whitelist))
	for _, id := range whitelist {
		w[id] = true
	}
	return &Manager{whitelist: w, apps: map[string]focus.HackableApp{}}
}

// Update replaces the currently-hackable-apps snapshot wholesale, mirroring
// the shell's property semantics (no incremental add/remove).
func (m *Manager) Update(apps []focus.HackableApp) {
	next := make(map[string]focus.HackableApp, len(apps))
	for _, app := range apps {
		next[app.AppID] = app
	}
	m.apps = next
}

// Lookup implements focus.HackableAppsCatalog.
func (m *Manager) Lookup(appID string) (focus.HackableApp, bool) {
	app, ok := m.apps[appID]
	return app, ok
}

// IsWhitelisted implements focus.HackableAppsCatalog.
func (m *Manager) IsWhitelisted(appID string) bool {
	return m.whitelist[appID]
}
