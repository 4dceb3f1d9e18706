/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package overlap implements the OverlapPolicy of spec §4.3: given a
// (sound-event, requesting bus-name) pair and the event's catalog-declared
// overlap-behavior, decide whether the Orchestrator must create a new Sound
// or reuse an existing one. Modeled as an explicit tagged-outcome result type
// per spec §9's design note, rather than exceptions or a bare error.
package overlap

import "github.com/endlessm/hacksoundserver/internal/metadata"

// Outcome is the tagged result of Decide. Exactly one of the Is* predicates
// is true for any Outcome value.
type Outcome struct {
	kind        outcomeKind
	existingUUID string
	eventID     string
}

type outcomeKind int

const (
	kindCreated outcomeKind = iota
	kindReused
	kindOverLimit
	kindUnknownEvent
)

// Created indicates the caller must construct a new Sound.
func Created() Outcome { return Outcome{kind: kindCreated} }

// Reused indicates the caller must reuse the Sound identified by uuid and,
// if behavior is "restart", call its Reset method.
func Reused(uuid string) Outcome { return Outcome{kind: kindReused, existingUUID: uuid} }

// OverLimit indicates MAX_SIMULTANEOUS_SOUNDS was hit; the caller must drop
// the request silently (spec §4.6).
func OverLimit() Outcome { return Outcome{kind: kindOverLimit} }

// UnknownEvent indicates eventID is not in the catalog; the caller must
// reject with UnknownSoundEventID.
func UnknownEvent(eventID string) Outcome { return Outcome{kind: kindUnknownEvent, eventID: eventID} }

func (o Outcome) IsCreated() bool      { return o.kind == kindCreated }
func (o Outcome) IsReused() bool       { return o.kind == kindReused }
func (o Outcome) IsOverLimit() bool    { return o.kind == kindOverLimit }
func (o Outcome) IsUnknownEvent() bool { return o.kind == kindUnknownEvent }

// ExistingUUID returns the reused Sound's UUID; only meaningful when
// IsReused is true.
func (o Outcome) ExistingUUID() string { return o.existingUUID }

// EventID returns the rejected event id; only meaningful when
// IsUnknownEvent is true.
func (o Outcome) EventID() string { return o.eventID }

// ExistingLookup resolves an existing reusable Sound UUID for (eventID,
// busName), mirroring Registry.get_by_event_and_bus scoped to one bus-name.
type ExistingLookup func(eventID, busName string) (uuid string, found bool)

// CountLookup returns how many distinct Sound instances currently exist for
// eventID across all clients.
type CountLookup func(eventID string) int

// Decide implements spec §4.3's reuse/restart/ignore/overlap dispatch plus
// the §4.6 MAX_SIMULTANEOUS_SOUNDS cap, which is only enforced on the create
// path (reuse never creates a new instance, so it cannot contribute to the
// cap being exceeded).
func Decide(model *metadata.Model, eventID, busName string, maxSimultaneous int, existing ExistingLookup, count CountLookup) Outcome {
	entry, ok := model.Lookup(eventID)
	if !ok {
		return UnknownEvent(eventID)
	}

	behavior := entry.EffectiveOverlapBehavior()
	if behavior == metadata.OverlapRestart || behavior == metadata.OverlapIgnore {
		if uuid, found := existing(eventID, busName); found {
			return Reused(uuid)
		}
	}

	if count(eventID) >= maxSimultaneous {
		return OverLimit()
	}
	return Created()
}
