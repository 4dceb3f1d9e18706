/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry implements the Registry of spec §4.4: the synchronous,
// in-memory bookkeeping of live Sound instances, their reference counts, the
// per-(event, bus-name) reuse index OverlapPolicy searches against, and the
// background-sound LIFO stack. Every operation here runs on the
// orchestrator's single goroutine; nothing in this package is safe for
// concurrent use from multiple goroutines, matching spec §5's "no internal
// locking" design note.
package registry

import "github.com/endlessm/hacksoundserver/internal/hserr"

// Identity is the subset of Sound a Registry needs to index and count it.
// internal/sound.Sound implements this; registry is deliberately ignorant of
// playback control so it has no import-cycle dependency on internal/sound or
// internal/pipeline.
type Identity interface {
	UUID() string
	BusName() string
	SoundEventID() string
	IsBackground() bool
}

// Registry holds every live Sound instance plus the indices Orchestrator and
// OverlapPolicy query against. Grounded on original_source/src/registry.py's
// SoundEventsRegistry, adapted per spec §4.4.a to a single process-wide
// BGStack (the original's per-bus-name/server-wide split is explicitly
// rejected — see SPEC_FULL.md §4.4.a).
type Registry struct {
	byUUID       map[string]Identity
	byEventBus   map[eventBusKey]Identity
	refcount     map[string]int
	bgStack      []Identity
}

type eventBusKey struct {
	eventID string
	busName string
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byUUID:     make(map[string]Identity),
		byEventBus: make(map[eventBusKey]Identity),
		refcount:   make(map[string]int),
	}
}

// AddSound inserts s, indexes it by (event, bus-name), and returns the
// previously-playing background sound the caller must pause, if any, per the
// bg LIFO rule (spec §4.4). ok is false when there is nothing to pause.
func (r *Registry) AddSound(s Identity) (toPause Identity, ok bool) {
	r.byUUID[s.UUID()] = s
	r.byEventBus[eventBusKey{s.SoundEventID(), s.BusName()}] = s
	r.refcount[s.UUID()] = 0

	if !s.IsBackground() {
		return nil, false
	}
	return r.bgPush(s)
}

// bgPush implements the 4-step add_sound bg rule of spec §4.4.
func (r *Registry) bgPush(s Identity) (toPause Identity, ok bool) {
	if len(r.bgStack) == 0 {
		r.bgStack = append(r.bgStack, s)
		return nil, false
	}

	top := r.bgStack[len(r.bgStack)-1]
	if top.UUID() == s.UUID() {
		return nil, false
	}

	if idx := r.bgIndexOf(s.UUID()); idx >= 0 {
		r.bgStack = append(r.bgStack[:idx], r.bgStack[idx+1:]...)
		r.bgStack = append(r.bgStack, s)
		if top.UUID() == s.UUID() {
			return nil, false
		}
		return top, true
	}

	r.bgStack = append(r.bgStack, s)
	return top, true
}

func (r *Registry) bgIndexOf(uuid string) int {
	for i, s := range r.bgStack {
		if s.UUID() == uuid {
			return i
		}
	}
	return -1
}

// RemoveSound removes s from every index and from refcount, and returns the
// background sound the caller must resume, if any, per the bg LIFO rule.
func (r *Registry) RemoveSound(s Identity) (toResume Identity, ok bool) {
	delete(r.byUUID, s.UUID())
	delete(r.byEventBus, eventBusKey{s.SoundEventID(), s.BusName()})
	delete(r.refcount, s.UUID())

	if !s.IsBackground() {
		return nil, false
	}

	idx := r.bgIndexOf(s.UUID())
	if idx < 0 {
		return nil, false
	}
	wasTop := idx == len(r.bgStack)-1
	r.bgStack = append(r.bgStack[:idx], r.bgStack[idx+1:]...)

	if !wasTop || len(r.bgStack) == 0 {
		return nil, false
	}
	newTop := r.bgStack[len(r.bgStack)-1]
	if r.refcount[newTop.UUID()] > 0 {
		return newTop, true
	}
	return nil, false
}

// Ref increments s's refcount by one.
func (r *Registry) Ref(s Identity) {
	r.refcount[s.UUID()]++
}

// Unref decrements s's refcount by one, or to zero in one step if clearAll is
// set. The count never goes below zero. It returns true when the count
// reached zero as a result of this call, signaling the caller must stop s.
// err is hserr.ErrNotInRegistry if s has no tracked refcount at all, or
// hserr.ErrRefcountAlreadyZero if the count was already zero before this
// call (a no-op unref the caller should log but not act on).
func (r *Registry) Unref(s Identity, clearAll bool) (reachedZero bool, err error) {
	count, ok := r.refcount[s.UUID()]
	if !ok {
		return false, hserr.ErrNotInRegistry
	}
	if count == 0 {
		return false, hserr.ErrRefcountAlreadyZero
	}
	if clearAll {
		count = 0
	} else {
		count--
	}
	r.refcount[s.UUID()] = count
	return count == 0, nil
}

// Refcount reads the current reference count for s.
func (r *Registry) Refcount(s Identity) (int, error) {
	count, ok := r.refcount[s.UUID()]
	if !ok {
		return 0, hserr.ErrNotInRegistry
	}
	return count, nil
}

// GetByUUID looks up a live Sound by its instance UUID.
func (r *Registry) GetByUUID(uuid string) (Identity, bool) {
	s, ok := r.byUUID[uuid]
	return s, ok
}

// GetByEventAndBus looks up the single reusable Sound for (eventID, busName),
// the tie-break OverlapPolicy relies on: at most one exists under
// restart/ignore, and an absent entry is treated as no-existing.
func (r *Registry) GetByEventAndBus(eventID, busName string) (Identity, bool) {
	s, ok := r.byEventBus[eventBusKey{eventID, busName}]
	return s, ok
}

// All returns every live Sound, in no particular order. Used by the
// orchestrator's focus-change and bus-name-vanished sweeps.
func (r *Registry) All() []Identity {
	out := make([]Identity, 0, len(r.byUUID))
	for _, s := range r.byUUID {
		out = append(out, s)
	}
	return out
}

// CountForEvent returns how many live Sound instances exist for eventID
// across all bus names, the input OverlapPolicy's MAX_SIMULTANEOUS_SOUNDS
// check needs.
func (r *Registry) CountForEvent(eventID string) int {
	count := 0
	for _, s := range r.byUUID {
		if s.SoundEventID() == eventID {
			count++
		}
	}
	return count
}

// Empty reports whether no Sound is currently registered, the signal the
// orchestrator's idle-release countdown arms on.
func (r *Registry) Empty() bool {
	return len(r.byUUID) == 0
}
