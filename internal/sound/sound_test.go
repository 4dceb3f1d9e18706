/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sound

import (
	"context"
	"testing"
	"time"

	"github.com/endlessm/hacksoundserver/internal/metadata"
	"github.com/endlessm/hacksoundserver/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type keyframe struct {
	prop             pipeline.Property
	target           float64
	in               time.Duration
	considerDuration bool
}

type fakePipeline struct {
	started   pipeline.StartSpec
	state     pipeline.State
	position  time.Duration
	hasPos    bool
	duration  time.Duration
	hasDur    bool
	values    map[pipeline.Property]float64
	keyframes []keyframe
	stopped   bool
	events    chan pipeline.Message
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		values: map[pipeline.Property]float64{},
		events: make(chan pipeline.Message, 8),
		hasPos: true,
	}
}

func (f *fakePipeline) Start(spec pipeline.StartSpec) error {
	f.started = spec
	f.values[pipeline.PropertyVolume] = spec.Volume
	f.values[pipeline.PropertyRate] = spec.Rate
	f.state = pipeline.StatePlaying
	return nil
}
func (f *fakePipeline) SetState(state pipeline.State) error { f.state = state; return nil }
func (f *fakePipeline) State() pipeline.State                { return f.state }
func (f *fakePipeline) Seek(d time.Duration) error           { f.position = d; return nil }
func (f *fakePipeline) Position() (time.Duration, bool)      { return f.position, f.hasPos }
func (f *fakePipeline) Duration() (time.Duration, bool)      { return f.duration, f.hasDur }
func (f *fakePipeline) CurrentValue(prop pipeline.Property) (float64, bool) {
	v, ok := f.values[prop]
	return v, ok
}
func (f *fakePipeline) AddKeyframe(prop pipeline.Property, target float64, in time.Duration, considerDuration bool) error {
	f.keyframes = append(f.keyframes, keyframe{prop, target, in, considerDuration})
	f.values[prop] = target
	return nil
}
func (f *fakePipeline) ClearKeyframes(prop pipeline.Property) error {
	delete(f.values, prop)
	return nil
}
func (f *fakePipeline) Events() <-chan pipeline.Message { return f.events }
func (f *fakePipeline) Stop(ctx context.Context) error  { f.stopped = true; f.state = pipeline.StateNull; return nil }

func newSound(t *testing.T, resolved metadata.Resolved) (*Sound, *fakePipeline) {
	t.Helper()
	p := newFakePipeline()
	s, err := New("u1", ":1.1", "ui/click", resolved, p, zerolog.Nop())
	require.NoError(t, err)
	return s, p
}

func TestNewStartsAtZeroVolumeForLoopingFadeIn(t *testing.T) {
	_, p := newSound(t, metadata.Resolved{Loop: true, FadeInMS: 1000, Volume: 0.8})
	require.Equal(t, 0.0, p.started.Volume)
}

func TestNewStartsAtFullVolumeForNonLooping(t *testing.T) {
	_, p := newSound(t, metadata.Resolved{Loop: false, Volume: 0.8})
	require.Equal(t, 0.8, p.started.Volume)
}

func TestPlayIsNoopWhenReleasing(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: false, Volume: 1})
	s.HandlePipelineMessage(pipeline.Message{Kind: pipeline.MessageEOS})
	require.Equal(t, StateReleased, s.State())

	p.state = pipeline.StatePaused
	s.Play()
	require.Equal(t, pipeline.StatePaused, p.state, "Play must not touch the pipeline once released")
}

func TestStopNonLoopingReleasesImmediately(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: false, Volume: 1})
	s.Stop()
	require.True(t, p.stopped)
	require.Equal(t, StateReleasing, s.State())
}

func TestStopLoopingZeroFadeOutReleasesImmediately(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: true, FadeOutMS: 0, Volume: 1})
	s.Stop()
	require.True(t, p.stopped)
}

func TestStopLoopingWithFadeOutSchedulesFadeThenReleasesOnVolumeZero(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: true, FadeOutMS: 500, Volume: 1})
	p.state = pipeline.StatePlaying
	s.Stop()
	require.False(t, p.stopped, "must fade out before releasing")
	require.Len(t, p.keyframes, 1)
	require.Equal(t, pipeline.PropertyVolume, p.keyframes[0].prop)
	require.Equal(t, 0.0, p.keyframes[0].target)

	outcome := s.HandlePipelineMessage(pipeline.Message{Kind: pipeline.MessagePropertyReachedZero, Property: pipeline.PropertyVolume})
	require.Equal(t, OutcomeReleased, outcome)
	require.True(t, p.stopped)
}

func TestPauseWithFadeOutEntersPausedImmediatelyWhenAlreadyZero(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: true, FadeOutMS: 500, Volume: 0})
	p.values[pipeline.PropertyVolume] = 0
	s.PauseWithFadeOut()
	require.Equal(t, pipeline.StatePaused, p.state)
	require.Equal(t, StatePaused, s.State())
}

func TestPauseWithFadeOutRefusedWhileStopping(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: true, FadeOutMS: 500, Volume: 1})
	s.stopLoop = true
	s.PauseWithFadeOut()
	require.Empty(t, p.keyframes)
}

func TestSegmentDoneLoopsAgainWhenNotStopping(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: true, Volume: 1})
	p.position = 5 * time.Second
	outcome := s.HandlePipelineMessage(pipeline.Message{Kind: pipeline.MessageSegmentDone})
	require.Equal(t, OutcomeNone, outcome)
	require.Equal(t, time.Duration(0), p.position, "loop restart seeks to 0")
	require.Equal(t, 1, s.loopCount)
}

func TestSegmentDoneReleasesWhenStopping(t *testing.T) {
	s := &Sound{resolved: metadata.Resolved{Loop: true}, stopLoop: true, pipeline: newFakePipeline(), logger: zerolog.Nop()}
	outcome := s.HandlePipelineMessage(pipeline.Message{Kind: pipeline.MessageSegmentDone})
	require.Equal(t, OutcomeReleased, outcome)
}

func TestErrorMessageReturnsFailedOutcome(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: false, Volume: 1})
	outcome := s.HandlePipelineMessage(pipeline.Message{Kind: pipeline.MessageError, Err: context.DeadlineExceeded})
	require.Equal(t, OutcomeFailed, outcome)
	require.Equal(t, pipeline.StateNull, p.state)
	require.ErrorIs(t, s.LastError(), context.DeadlineExceeded)
}

func TestUpdatePropertiesInstallsWallClockKeyframe(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: false, Volume: 1, Rate: 1})
	vol := 0.2
	s.UpdateProperties(300, &vol, nil)
	require.Len(t, p.keyframes, 1)
	require.False(t, p.keyframes[0].considerDuration, "update_properties transitions are wall-clock based")
	require.Equal(t, 300*time.Millisecond, p.keyframes[0].in)
}

func TestAddFadeInIgnoresSoundDuration(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: true, FadeInMS: 500, Volume: 1})
	s.addFadeIn()
	require.Len(t, p.keyframes, 1)
	require.False(t, p.keyframes[0].considerDuration, "fade in is wall-clock based, not anchored to sound duration")
}

func TestAddFadeOutRejectsDuringInProgressDelay(t *testing.T) {
	s, p := newSound(t, metadata.Resolved{Loop: true, FadeOutMS: 500, DelayMS: 1000, Volume: 1})
	p.position = 100 * time.Millisecond
	p.state = pipeline.StatePlaying
	s.Stop()
	require.True(t, p.stopped, "fade out rejected during delay falls back to immediate release")
}
