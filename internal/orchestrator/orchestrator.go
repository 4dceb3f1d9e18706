/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package orchestrator wires the Registry, OverlapPolicy, Sound control
// surfaces, FocusTracker, and MetadataModel together into the single-reader
// run loop of spec §4.6 and §5. Grounded on
// friendsincode-grimnir_radio/internal/playout/director.go for the run-loop
// shape (one goroutine selecting on a fanned-in event channel, every mutating
// call confined to it) and on original_source/src/server.py's
// HackSoundServer class for the per-method contracts, with three explicit
// deviations recorded in DESIGN.md: refcounts are per-UUID only (not per
// (uuid, bus-name)), the overlap-behavior reuse key is per (event, bus-name)
// rather than global per event, and the background stack is a single
// process-wide LIFO rather than split per bus-name.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/endlessm/hacksoundserver/internal/clock"
	"github.com/endlessm/hacksoundserver/internal/config"
	"github.com/endlessm/hacksoundserver/internal/events"
	"github.com/endlessm/hacksoundserver/internal/focus"
	"github.com/endlessm/hacksoundserver/internal/hserr"
	"github.com/endlessm/hacksoundserver/internal/metadata"
	"github.com/endlessm/hacksoundserver/internal/overlap"
	"github.com/endlessm/hacksoundserver/internal/pipeline"
	"github.com/endlessm/hacksoundserver/internal/registry"
	"github.com/endlessm/hacksoundserver/internal/sound"
	"github.com/endlessm/hacksoundserver/internal/transport/dbus"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProcessHold is the daemon-lifetime keep-alive seam. Hold/Release nest: the
// run loop calls Hold exactly once per Sound created (released exactly once
// when that Sound leaves the Registry) and, separately, once for the
// duration of the idle-release grace period (released when that period is
// canceled by a new play or expires), matching original_source/src/server.py's
// Gio.Application hold()/release() pairing and its extra
// _ensure_release_countdown hold. cmd/hacksoundserverd supplies an
// implementation that cancels the process's main context once every hold
// drops to zero; tests supply a no-op counter.
type ProcessHold interface {
	Hold()
	Release()
}

// PipelineFactory constructs a fresh, unstarted pipeline.Pipeline for one
// Sound instance. The orchestrator owns exactly one factory, selected by
// config.Config.PipelineBackend at construction time in cmd/hacksoundserverd.
type PipelineFactory func() pipeline.Pipeline

// HackableAppsUpdater receives a freshly fetched hackable-apps catalog
// snapshot, implemented by focus/hackableapps.Manager. May be nil if no
// hackable-apps source is wired (as in this package's tests; cmd/hacksoundserverd
// always passes its Manager), in which case HandleHackableAppsChanged only re-resolves
// focusTracker's pending inquiry against whatever catalog it already holds.
type HackableAppsUpdater interface {
	Update(apps []focus.HackableApp)
}

// New constructs an Orchestrator. model is the initial MetadataModel
// snapshot; subsequent reloads arrive as EventMetadataReloaded on bus.
func New(
	cfg *config.Config,
	model *metadata.Model,
	clk clock.Clock,
	bus *events.Bus,
	focusTracker *focus.Tracker,
	hackableApps HackableAppsUpdater,
	pipelineFactory PipelineFactory,
	processHold ProcessHold,
	logger zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		cfg:             cfg,
		model:           model,
		clk:             clk,
		bus:             bus,
		focusTracker:    focusTracker,
		hackableApps:    hackableApps,
		pipelineFactory: pipelineFactory,
		processHold:     processHold,
		logger:          logger,
		reg:             registry.New(),
		watchedBusNames: map[string]bool{},
		heldFor:         map[string][]registry.Identity{},
		forwarders:      map[string]context.CancelFunc{},
		jobs:            make(chan job, 32),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	o.queue = events.NewQueue(bus,
		events.EventPipelineMessage,
		events.EventBusNameVanished,
		events.EventFocusChanged,
		events.EventFocusTimeoutFired,
		events.EventIdleTimerFired,
		events.EventMetadataReloaded,
	)
	return o
}

// job is a closure routed onto the orchestrator's single goroutine by
// invoke, the synchronization primitive every Dispatcher method uses: a
// D-Bus method call arrives on godbus's own call goroutine but must execute
// (and, for PlaySound, produce its reply) only on the run loop.
type job struct{ fn func() }

// Orchestrator is the single owner of every live Sound and the only
// component permitted to mutate Registry, Sound, or FocusTracker state. All
// of that happens inside Run's select loop, on one goroutine.
type Orchestrator struct {
	cfg             *config.Config
	model           *metadata.Model
	clk             clock.Clock
	bus             *events.Bus
	queue           *events.Queue
	focusTracker    *focus.Tracker
	hackableApps    HackableAppsUpdater
	pipelineFactory PipelineFactory
	processHold     ProcessHold
	logger          zerolog.Logger
	rng             *rand.Rand

	jobs chan job

	reg             *registry.Registry
	watchedBusNames map[string]bool
	forwarders      map[string]context.CancelFunc
	idleTimer       clock.Timer

	// heldFor maps an initiating Sound's UUID to the Sounds its
	// apply-state-on bucket paused/silenced, resumed once it releases.
	heldFor map[string][]registry.Identity
}

// Run drains the fanned-in event queue until ctx is canceled, dispatching
// every event on the single orchestrator goroutine. It returns when ctx is
// done or the queue is closed.
func (o *Orchestrator) Run(ctx context.Context) {
	defer o.queue.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.jobs:
			j.fn()
		case env, ok := <-o.queue.C():
			if !ok {
				return
			}
			o.dispatch(env)
		}
	}
}

// invoke routes fn onto the run loop and blocks until it has executed,
// the mechanism every Dispatcher method uses to satisfy spec §5's
// single-goroutine-mutation invariant while still returning a synchronous
// D-Bus reply.
func (o *Orchestrator) invoke(fn func()) {
	done := make(chan struct{})
	o.jobs <- job{fn: func() { fn(); close(done) }}
	<-done
}

func (o *Orchestrator) dispatch(env events.Envelope) {
	switch env.Type {
	case events.EventPipelineMessage:
		o.handlePipelineMessage(env.Payload)
	case events.EventBusNameVanished:
		if name, ok := env.Payload["bus_name"].(string); ok {
			o.handleBusNameVanished(name)
		}
	case events.EventFocusChanged:
		var info *focus.FocusInfo
		if v, ok := env.Payload["focus_info"]; ok {
			info, _ = v.(*focus.FocusInfo)
		}
		o.applyFocusPolicy(info)
	case events.EventFocusTimeoutFired:
		if id, ok := env.Payload["request_id"].(int); ok {
			o.focusTracker.HandleTimeoutFired(id)
		}
	case events.EventIdleTimerFired:
		o.handleIdleTimerFired()
	case events.EventMetadataReloaded:
		if m, ok := env.Payload["model"].(*metadata.Model); ok {
			o.logger.Info().Msg("metadata catalog reloaded")
			o.model = m
		}
	}
}

// PlaySound implements transport/dbus.Dispatcher.PlaySound/PlayFull (options
// is nil for the simple PlaySound call).
func (o *Orchestrator) PlaySound(sender, soundEventID string, options map[string]any) (uuidStr, dbusErr, dbusErrMsg string) {
	o.invoke(func() {
		uuidStr, dbusErr, dbusErrMsg = o.playSound(sender, soundEventID, parseExtras(options))
	})
	return
}

func (o *Orchestrator) playSound(sender, soundEventID string, extras metadata.Extras) (uuidStr, dbusErr, dbusErrMsg string) {
	decision := overlap.Decide(o.model, soundEventID, sender, o.cfg.MaxSimultaneousSounds, o.existingLookup, o.reg.CountForEvent)

	switch {
	case decision.IsUnknownEvent():
		o.logger.Warn().Str("sound_event_id", soundEventID).Msg("PlaySound: unknown sound event id")
		return "", dbus.ErrUnknownSoundEventID, fmt.Sprintf("unknown sound event id %q", soundEventID)

	case decision.IsOverLimit():
		o.logger.Info().Str("sound_event_id", soundEventID).Msg("PlaySound: over MAX_SIMULTANEOUS_SOUNDS, dropping")
		return "", "", ""

	case decision.IsReused():
		id, ok := o.reg.GetByUUID(decision.ExistingUUID())
		if !ok {
			return "", "", ""
		}
		existing := id.(*sound.Sound)
		entry, _ := o.model.Lookup(soundEventID)
		if entry.EffectiveOverlapBehavior() == metadata.OverlapRestart {
			existing.Reset()
		}
		o.watchAndRef(existing, sender)
		return existing.UUID(), "", ""

	default:
		return o.createSound(sender, soundEventID, extras)
	}
}

func (o *Orchestrator) existingLookup(eventID, busName string) (string, bool) {
	id, ok := o.reg.GetByEventAndBus(eventID, busName)
	if !ok {
		return "", false
	}
	return id.UUID(), true
}

func (o *Orchestrator) createSound(sender, soundEventID string, extras metadata.Extras) (uuidStr, dbusErr, dbusErrMsg string) {
	entry, ok := o.model.Lookup(soundEventID)
	if !ok {
		return "", dbus.ErrUnknownSoundEventID, fmt.Sprintf("unknown sound event id %q", soundEventID)
	}

	o.cancelIdleTimer()
	o.processHold.Hold()

	resolved := metadata.Resolve(entry, extras, o.rng.Intn)
	id := uuid.NewString()
	p := o.pipelineFactory()
	s, err := sound.New(id, sender, soundEventID, resolved, p, o.logger)
	if err != nil {
		o.logger.Error().Err(err).Str("sound_event_id", soundEventID).Msg("PlaySound: failed to start pipeline")
		o.processHold.Release()
		return "", "", ""
	}

	if toPause, pauseOK := o.reg.AddSound(s); pauseOK {
		if bg, ok := toPause.(*sound.Sound); ok {
			bg.PauseWithFadeOut()
		}
	}
	o.watchAndRef(s, sender)
	o.startForwarder(s, p)

	s.Play()
	o.applyStateOnStart(s, resolved)
	o.applyFocusPolicyToOne(s, o.focusTracker.FocusedAppInfo())

	return s.UUID(), "", ""
}

// watchAndRef increments s's refcount and records sender's bus name in
// watchedBusNames. The NameOwnerChanged watch itself is set up by
// transport/dbus.Server.WatchBusName after a successful PlaySound.
func (o *Orchestrator) watchAndRef(s *sound.Sound, sender string) {
	o.reg.Ref(s)
	if !o.watchedBusNames[sender] {
		o.watchedBusNames[sender] = true
	}
}

// applyStateOnStart implements spec §4.6's apply-state-on dispatch: entries
// named under "pause" are paused with fade-out, entries under "silence" are
// faded to 0, and the affected Sounds are remembered so initiator's release
// resumes them.
func (o *Orchestrator) applyStateOnStart(initiator *sound.Sound, resolved metadata.Resolved) {
	if len(resolved.ApplyStateOn) == 0 {
		return
	}
	var affected []registry.Identity
	for state, eventIDs := range resolved.ApplyStateOn {
		for _, eventID := range eventIDs {
			for _, id := range o.reg.All() {
				if id.UUID() == initiator.UUID() || id.SoundEventID() != eventID {
					continue
				}
				target, ok := id.(*sound.Sound)
				if !ok {
					continue
				}
				switch state {
				case metadata.ApplyStatePause:
					target.PauseWithFadeOut()
				case metadata.ApplyStateSilence:
					target.UpdateProperties(0, floatPtr(0), nil)
				}
				affected = append(affected, id)
			}
		}
	}
	if len(affected) > 0 {
		o.heldFor[initiator.UUID()] = affected
	}
}

func floatPtr(v float64) *float64 { return &v }

// UpdateProperties implements transport/dbus.Dispatcher.UpdateProperties.
func (o *Orchestrator) UpdateProperties(sender, uuidStr string, transitionMS int, options map[string]any) {
	o.invoke(func() { o.updateProperties(uuidStr, transitionMS, options) })
}

func (o *Orchestrator) updateProperties(uuidStr string, transitionMS int, options map[string]any) {
	id, ok := o.reg.GetByUUID(uuidStr)
	if !ok {
		o.logger.Info().Str("uuid", uuidStr).Msg("UpdateProperties: unknown uuid, ignoring")
		return
	}
	s, ok := id.(*sound.Sound)
	if !ok {
		return
	}
	extras := parseExtras(options)
	var volume, rate *float64
	if extras.HasVolume {
		volume = extras.Volume
	}
	if extras.HasRate {
		rate = extras.Rate
	}
	s.UpdateProperties(transitionMS, volume, rate)
}

// StopSound implements transport/dbus.Dispatcher.StopSound: uuidOrEventID is
// tried as a live UUID first, then as a sound-event id unreffed for every
// Sound (event, sender) owns.
func (o *Orchestrator) StopSound(sender, uuidOrEventID string) {
	o.invoke(func() { o.release(sender, uuidOrEventID, false) })
}

// TerminateSound implements transport/dbus.Dispatcher.TerminateSound.
func (o *Orchestrator) TerminateSound(sender, uuidOrEventID string) {
	o.invoke(func() { o.release(sender, uuidOrEventID, true) })
}

// HandleFocusedAppChanged forwards focus/shell.Watcher's FocusedApp callback
// onto the run loop. The watcher invokes it from the goroutine draining its
// own D-Bus signal channel, so it must not touch focusTracker directly.
func (o *Orchestrator) HandleFocusedAppChanged(desktopFile *string) {
	o.invoke(func() { o.focusTracker.HandleFocusedAppChanged(desktopFile) })
}

// HandleOverviewActiveChanged forwards focus/shell.Watcher's OverviewActive
// callback onto the run loop, for the same reason as HandleFocusedAppChanged.
func (o *Orchestrator) HandleOverviewActiveChanged(active bool) {
	o.invoke(func() { o.focusTracker.HandleOverviewActiveChanged(active) })
}

// HandleNameOwnerResolved forwards focus/shell.NameOwnerResolver's async
// GetNameOwner reply onto the run loop.
func (o *Orchestrator) HandleNameOwnerResolved(requestID int, uniqueName string, found bool) {
	o.invoke(func() { o.focusTracker.HandleNameOwnerResolved(requestID, uniqueName, found) })
}

// HandleHackableAppsChanged forwards focus/shell.HackableAppsWatcher's fresh
// CurrentlyHackableApps snapshot onto the run loop: it replaces the catalog
// focusTracker reads and re-resolves any pending inquiry that was waiting on
// it, matching _currently_hackable_apps_changed_cb.
func (o *Orchestrator) HandleHackableAppsChanged(apps []focus.HackableApp) {
	o.invoke(func() {
		if o.hackableApps != nil {
			o.hackableApps.Update(apps)
		}
		o.focusTracker.HandleHackableAppsChanged()
	})
}

func (o *Orchestrator) release(sender, uuidOrEventID string, clearAll bool) {
	if id, ok := o.reg.GetByUUID(uuidOrEventID); ok {
		if id.BusName() != sender {
			o.logger.Warn().Err(hserr.ErrNotRefcountedByBusName).Str("uuid", uuidOrEventID).Str("sender", sender).Msg("StopSound/TerminateSound: sender is not the owner, ignoring")
			return
		}
		o.unrefAndMaybeStop(id, clearAll)
		return
	}

	for _, id := range o.reg.All() {
		if id.SoundEventID() != uuidOrEventID || id.BusName() != sender {
			continue
		}
		o.unrefAndMaybeStop(id, clearAll)
	}
}

func (o *Orchestrator) unrefAndMaybeStop(id registry.Identity, clearAll bool) {
	reachedZero, err := o.reg.Unref(id, clearAll)
	if err != nil {
		o.logger.Warn().Err(err).Str("uuid", id.UUID()).Msg("unref")
		return
	}
	if reachedZero {
		if s, ok := id.(*sound.Sound); ok {
			s.Stop()
		}
	}
}

func (o *Orchestrator) handleBusNameVanished(busName string) {
	for _, id := range o.reg.All() {
		if id.BusName() != busName {
			continue
		}
		o.unrefAndMaybeStop(id, true)
	}
	delete(o.watchedBusNames, busName)
}

func (o *Orchestrator) handlePipelineMessage(payload events.Payload) {
	uuidStr, _ := payload["uuid"].(string)
	msg, ok := payload["message"].(pipeline.Message)
	if !ok {
		return
	}
	id, found := o.reg.GetByUUID(uuidStr)
	if !found {
		return
	}
	s, ok := id.(*sound.Sound)
	if !ok {
		return
	}

	switch s.HandlePipelineMessage(msg) {
	case sound.OutcomeReleased:
		o.onSoundGone(s)
	case sound.OutcomeFailed:
		o.logger.Warn().Str("uuid", uuidStr).Err(s.LastError()).Msg("sound pipeline failed")
		o.onSoundGone(s)
	}
}

// onSoundGone implements the shared tail of spec §4.6's sound-released and
// sound-error handlers: remove from the Registry, resume the new BGStack
// top if one emerged, resume anything this sound's apply-state-on bucket
// had paused, release the process-hold, and arm the idle timer if nothing
// is left.
func (o *Orchestrator) onSoundGone(s *sound.Sound) {
	o.stopForwarder(s.UUID())

	if toResume, ok := o.reg.RemoveSound(s); ok {
		if bg, ok := toResume.(*sound.Sound); ok {
			bg.Play()
		}
	}

	if affected, ok := o.heldFor[s.UUID()]; ok {
		for _, id := range affected {
			if target, ok := id.(*sound.Sound); ok {
				target.Play()
			}
		}
		delete(o.heldFor, s.UUID())
	}

	o.processHold.Release()

	if o.reg.Empty() {
		o.armIdleTimer()
	}
}

func (o *Orchestrator) startForwarder(s *sound.Sound, p pipeline.Pipeline) {
	ctx, cancel := context.WithCancel(context.Background())
	o.forwarders[s.UUID()] = cancel
	go forwardPipelineEvents(ctx, s.UUID(), p, o.bus)
}

func (o *Orchestrator) stopForwarder(uuidStr string) {
	if cancel, ok := o.forwarders[uuidStr]; ok {
		cancel()
		delete(o.forwarders, uuidStr)
	}
}

// forwardPipelineEvents runs on its own goroutine per spec §5: it never
// touches Sound/Registry state directly, only republishes each message onto
// the bus so the orchestrator's single reader applies it.
func forwardPipelineEvents(ctx context.Context, uuidStr string, p pipeline.Pipeline, bus *events.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.Events():
			if !ok {
				return
			}
			bus.Publish(events.EventPipelineMessage, events.Payload{"uuid": uuidStr, "message": msg})
		}
	}
}

// armIdleTimer starts the 10s grace-period countdown and takes an extra
// process-hold for its duration, mirroring original_source/src/server.py's
// _ensure_release_countdown: by the time the Registry empties, every
// per-Sound hold has already been released in onSoundGone, so without this
// extra hold the process would have nothing keeping it alive for the grace
// window at all. cancelIdleTimer or handleIdleTimerFired releases it.
func (o *Orchestrator) armIdleTimer() {
	o.cancelIdleTimer()
	o.processHold.Hold()
	o.idleTimer = o.clk.AfterFunc(o.cfg.IdleReleaseTimeout, func() {
		o.bus.Publish(events.EventIdleTimerFired, events.Payload{})
	})
}

func (o *Orchestrator) cancelIdleTimer() {
	if o.idleTimer != nil {
		o.idleTimer.Stop()
		o.idleTimer = nil
		o.processHold.Release()
	}
}

func (o *Orchestrator) handleIdleTimerFired() {
	if o.idleTimer == nil {
		return // cancelIdleTimer already released this arming's hold.
	}
	o.idleTimer = nil
	if !o.reg.Empty() {
		return // a play raced the timer; cancelIdleTimer already released the grace hold.
	}
	o.processHold.Release()
}

// applyFocusPolicy implements spec §4.6's "on every focus change" sweep.
func (o *Orchestrator) applyFocusPolicy(info *focus.FocusInfo) {
	for _, id := range o.reg.All() {
		s, ok := id.(*sound.Sound)
		if !ok {
			continue
		}
		o.applyFocusPolicyToOne(s, info)
	}
}

func (o *Orchestrator) applyFocusPolicyToOne(s *sound.Sound, info *focus.FocusInfo) {
	focused := info != nil && info.TargetUniqueName == s.BusName()
	if focused {
		s.UpdateProperties(0, floatPtr(s.ResolvedMetadata().Volume), nil)
	} else {
		s.UpdateProperties(0, floatPtr(0), nil)
	}
}

func parseExtras(options map[string]any) metadata.Extras {
	var e metadata.Extras
	if v, ok := numericOption(options, "volume"); ok {
		e.Volume, e.HasVolume = &v, true
	}
	if v, ok := numericOption(options, "pitch"); ok {
		e.Pitch, e.HasPitch = &v, true
	}
	if v, ok := numericOption(options, "rate"); ok {
		e.Rate, e.HasRate = &v, true
	}
	return e
}

func numericOption(options map[string]any, key string) (float64, bool) {
	raw, ok := options[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
