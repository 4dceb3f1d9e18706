/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sound implements the Sound control surface of spec §4.2: the
// per-playing-instance state machine that drives a pipeline.Pipeline through
// play/pause/stop/reset/update-properties and turns its asynchronous
// messages into Released/Error outcomes. Grounded on
// original_source/src/sound.py's Sound class; re-architected per
// SPEC_FULL.md §9's note into an explicit State enum and a pipeline.Pipeline
// port instead of a GObject holding a concrete Gst.Pipeline.
package sound

import (
	"context"
	"fmt"
	"time"

	"github.com/endlessm/hacksoundserver/internal/metadata"
	"github.com/endlessm/hacksoundserver/internal/pipeline"
	"github.com/rs/zerolog"
)

// State is the Sound's own lifecycle state, distinct from the underlying
// pipeline.State.
type State int

const (
	StateCreated State = iota
	StatePlaying
	StatePaused
	StateReleasing
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateReleasing:
		return "releasing"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Outcome is what HandlePipelineMessage asks the caller (always the
// orchestrator's single goroutine) to do next.
type Outcome int

const (
	// OutcomeNone means the message was absorbed internally; no action
	// required from the caller.
	OutcomeNone Outcome = iota
	// OutcomeReleased means the Sound has released its pipeline; the
	// caller must remove it from the Registry.
	OutcomeReleased
	// OutcomeFailed means the pipeline reported an unrecoverable error;
	// the caller must remove it from the Registry and surface the error.
	OutcomeFailed
)

// Sound is one playing instance of a sound event. Every method here must
// only be called from the orchestrator's single goroutine; the type carries
// no internal locking (spec §5).
type Sound struct {
	uuid         string
	busName      string
	soundEventID string
	resolved     metadata.Resolved
	pipeline     pipeline.Pipeline
	logger       zerolog.Logger

	state              State
	stopLoop           bool
	loopCount          int
	isInitialSeek      bool
	pendingStateChange *pipeline.State
	releasing          bool
	lastErr            error
}

// New constructs a Sound and starts its pipeline. The pipeline starts at
// volume 0 when the sound loops and has a non-zero fade-in, so the
// subsequent Play call's fade-in envelope has a base to animate from,
// matching _build_pipeline's "set the initial volume to 0 for looping
// sounds that fade in" comment.
func New(uuid, busName, soundEventID string, resolved metadata.Resolved, p pipeline.Pipeline, logger zerolog.Logger) (*Sound, error) {
	s := &Sound{
		uuid:         uuid,
		busName:      busName,
		soundEventID: soundEventID,
		resolved:     resolved,
		pipeline:     p,
		logger:       logger.With().Str("uuid", uuid).Str("bus_name", busName).Str("sound_event_id", soundEventID).Logger(),
		state:        StateCreated,
	}

	startVolume := resolved.Volume
	if resolved.Loop && resolved.FadeInMS > 0 {
		startVolume = 0
	}
	if err := p.Start(pipeline.StartSpec{
		SoundFile: resolved.SoundFile,
		Loop:      resolved.Loop,
		Volume:    startVolume,
		Pitch:     resolved.Pitch,
		Rate:      resolved.Rate,
		DelayMS:   resolved.DelayMS,
	}); err != nil {
		return nil, fmt.Errorf("starting pipeline: %w", err)
	}
	return s, nil
}

// UUID, BusName, SoundEventID, IsBackground implement registry.Identity.
func (s *Sound) UUID() string         { return s.uuid }
func (s *Sound) BusName() string      { return s.busName }
func (s *Sound) SoundEventID() string { return s.soundEventID }
func (s *Sound) IsBackground() bool   { return s.resolved.Type == metadata.TypeBG }

// State reports the Sound's current lifecycle state.
func (s *Sound) State() State { return s.state }

// Play transitions to Playing and fades in if looping. No-op if Releasing or
// Stopping.
func (s *Sound) Play() {
	if s.releasing {
		s.logger.Info().Msg("cannot play because being released")
		return
	}
	if s.stopLoop {
		s.logger.Info().Msg("cannot play because being stopped")
		return
	}
	s.logger.Info().Msg("playing")
	s.stopLoop = false
	if err := s.pipeline.SetState(pipeline.StatePlaying); err != nil {
		s.logger.Warn().Err(err).Msg("failed to set pipeline to playing")
	}
	s.state = StatePlaying
	s.addFadeIn()
}

// PauseWithFadeOut schedules a fade-out to volume 0 and enters Paused once
// it settles, or immediately if already at 0. Refused if Releasing/Stopping.
func (s *Sound) PauseWithFadeOut() {
	s.logger.Info().Msg("pausing")
	if s.releasing {
		s.logger.Info().Msg("cannot pause because being released")
		return
	}
	if s.stopLoop {
		s.logger.Info().Msg("cannot pause because being stopped")
		return
	}

	volume, _ := s.pipeline.CurrentValue(pipeline.PropertyVolume)
	if volume == 0 {
		_ = s.pipeline.SetState(pipeline.StatePaused)
		s.state = StatePaused
		s.pendingStateChange = nil
		return
	}

	paused := pipeline.StatePaused
	s.pendingStateChange = &paused
	if err := s.addFadeOut(); err != nil {
		s.logger.Warn().Err(err).Msg("fade out effect could not be applied, pausing immediately")
		_ = s.pipeline.SetState(pipeline.StatePaused)
		s.state = StatePaused
		s.pendingStateChange = nil
	}
}

// Stop releases a non-looping sound immediately; a looping sound with
// non-zero fade-out fades out then releases; a zero fade-out or
// already-paused pipeline releases immediately.
func (s *Sound) Stop() {
	if !s.resolved.Loop {
		s.release()
		return
	}
	if s.resolved.FadeOutMS == 0 || s.pipeline.State() == pipeline.StatePaused {
		s.stopLoop = true
		s.release()
		return
	}

	s.stopLoop = true
	if err := s.addFadeOut(); err != nil {
		s.logger.Error().Err(err).Msg("fade out effect could not be applied, stopping")
		s.release()
	}
}

// Reset seeks to 0 and rebuilds the fade-in envelope from a clean slate,
// used by OverlapPolicy's restart path.
func (s *Sound) Reset() {
	_ = s.pipeline.Seek(0)
	_ = s.pipeline.ClearKeyframes(pipeline.PropertyVolume)
	_ = s.pipeline.ClearKeyframes(pipeline.PropertyRate)
	s.loopCount = 0
	s.isInitialSeek = false
	s.addFadeIn()
}

// UpdateProperties installs a wall-clock-based linear transition to the
// given target(s) over transitionMS, ignoring loop duration.
func (s *Sound) UpdateProperties(transitionMS int, volume, rate *float64) {
	if volume != nil {
		s.updatePropertyWithKeyframes(pipeline.PropertyVolume, transitionMS, *volume)
	}
	if rate != nil {
		s.updatePropertyWithKeyframes(pipeline.PropertyRate, transitionMS, *rate)
	}
}

func (s *Sound) updatePropertyWithKeyframes(prop pipeline.Property, transitionMS int, target float64) {
	if _, ok := s.pipeline.CurrentValue(prop); !ok {
		return
	}
	d := time.Duration(transitionMS) * time.Millisecond
	if err := s.pipeline.AddKeyframe(prop, target, d, false); err != nil {
		s.logger.Warn().Err(err).Str("property", string(prop)).Msg("failed to install property transition")
	}
}

func (s *Sound) addFadeIn() {
	if !s.resolved.Loop || s.resolved.FadeInMS == 0 {
		return
	}
	s.logger.Debug().Msg("fading in")
	d := time.Duration(s.resolved.FadeInMS) * time.Millisecond
	if err := s.pipeline.AddKeyframe(pipeline.PropertyVolume, s.resolved.Volume, d, false); err != nil {
		s.logger.Warn().Err(err).Msg("fade in effect could not be applied")
	}
}

// addFadeOut mirrors original_source/src/sound.py's _add_fade_out, including
// the AssertionError edge case: fading out while the pipeline is still
// within its initial delay window is rejected, since the position query that
// would anchor the envelope is not yet meaningful.
func (s *Sound) addFadeOut() error {
	if !s.resolved.Loop || s.resolved.FadeOutMS == 0 {
		return nil
	}
	s.logger.Debug().Msg("fading out")
	position, ok := s.pipeline.Position()
	if !ok {
		return fmt.Errorf("error querying position")
	}
	if s.resolved.DelayMS > 0 && position < time.Duration(s.resolved.DelayMS)*time.Millisecond {
		return fmt.Errorf("cannot fade out while in an in-progress delay")
	}
	d := time.Duration(s.resolved.FadeOutMS) * time.Millisecond
	return s.pipeline.AddKeyframe(pipeline.PropertyVolume, 0, d, true)
}

func (s *Sound) release() {
	s.logger.Debug().Msg("releasing")
	s.releasing = true
	s.state = StateReleasing
}

// HandlePipelineMessage applies one asynchronous pipeline message to the
// Sound's state machine and reports what the caller must do next. This is
// the only other place (besides the public methods above) Sound state is
// mutated, and both run exclusively on the orchestrator's single goroutine.
func (s *Sound) HandlePipelineMessage(msg pipeline.Message) Outcome {
	switch msg.Kind {
	case pipeline.MessageEOS:
		return s.doRelease()

	case pipeline.MessageSegmentDone:
		if s.resolved.Loop && !s.stopLoop {
			s.loopCount++
			_ = s.pipeline.Seek(0)
			return OutcomeNone
		}
		return s.doRelease()

	case pipeline.MessageAsyncDone:
		if s.resolved.Loop && !s.isInitialSeek {
			_ = s.pipeline.Seek(0)
			s.isInitialSeek = true
		}
		return OutcomeNone

	case pipeline.MessagePropertyReachedZero:
		if msg.Property != pipeline.PropertyVolume {
			return OutcomeNone
		}
		if s.pendingStateChange != nil {
			_ = s.pipeline.SetState(*s.pendingStateChange)
			if *s.pendingStateChange == pipeline.StatePaused {
				s.state = StatePaused
			}
			s.pendingStateChange = nil
		}
		if s.stopLoop {
			return s.doRelease()
		}
		return OutcomeNone

	case pipeline.MessageError:
		s.logger.Warn().Err(msg.Err).Msg("pipeline error")
		_ = s.pipeline.SetState(pipeline.StateNull)
		s.lastErr = msg.Err
		s.state = StateReleased
		return OutcomeFailed

	default:
		return OutcomeNone
	}
}

func (s *Sound) doRelease() Outcome {
	if s.state == StateReleased {
		return OutcomeNone
	}
	s.releasing = true
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.pipeline.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("error tearing down pipeline")
	}
	s.state = StateReleased
	return OutcomeReleased
}

// LastError returns the error reported by the most recent MessageError, if
// any.
func (s *Sound) LastError() error { return s.lastErr }

// ResolvedMetadata exposes the resolved catalog entry this Sound was
// constructed from, used by the orchestrator's apply-state-on dispatch.
func (s *Sound) ResolvedMetadata() metadata.Resolved { return s.resolved }
