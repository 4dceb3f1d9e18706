/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package simulated implements pipeline.Pipeline entirely in memory, driven
// by an injected clock.Clock instead of a real decoder/audio sink. It is the
// test double spec §8.1 requires: Sound's state machine can be exercised
// deterministically (including "volume reached 0" and segment/EOS timing)
// without a GStreamer process. It also backs the "simulated" pipeline
// backend a deployment can select when no audio hardware is present.
package simulated

import (
	"context"
	"sync"
	"time"

	"github.com/endlessm/hacksoundserver/internal/clock"
	"github.com/endlessm/hacksoundserver/internal/pipeline"
)

// SegmentDuration is the simulated length of every decoded file, standing in
// for a real file's query_duration result.
const SegmentDuration = 3 * time.Second

// Pipeline is an in-memory fake driven by clk.
type Pipeline struct {
	clk clock.Clock

	mu        sync.Mutex
	state     pipeline.State
	startedAt time.Time
	values    map[pipeline.Property]float64
	timers    map[pipeline.Property]clock.Timer
	events    chan pipeline.Message
	loop      bool
}

// New constructs a Pipeline driven by clk.
func New(clk clock.Clock) *Pipeline {
	return &Pipeline{
		clk:    clk,
		values: map[pipeline.Property]float64{},
		timers: map[pipeline.Property]clock.Timer{},
		events: make(chan pipeline.Message, 16),
	}
}

func (p *Pipeline) Start(spec pipeline.StartSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[pipeline.PropertyVolume] = spec.Volume
	p.values[pipeline.PropertyRate] = spec.Rate
	p.loop = spec.Loop
	p.startedAt = p.clk.Now()
	p.state = pipeline.StatePlaying
	return nil
}

func (p *Pipeline) SetState(state pipeline.State) error {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) State() pipeline.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Seek(d time.Duration) error {
	p.mu.Lock()
	p.startedAt = p.clk.Now().Add(-d)
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) Position() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		return 0, false
	}
	return p.clk.Now().Sub(p.startedAt), true
}

func (p *Pipeline) Duration() (time.Duration, bool) {
	return SegmentDuration, true
}

func (p *Pipeline) CurrentValue(prop pipeline.Property) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[prop]
	return v, ok
}

// AddKeyframe jumps prop directly to target once "in" elapses. Unlike the
// real gstreamer adapter, this fake does not interpolate intermediate
// values on the way there: nothing in the Sound state machine inspects a
// transition mid-flight, only its start value (read before the call) and
// its settled end value (read once MessagePropertyReachedZero, if any,
// arrives), so a single deadline timer is sufficient and keeps this adapter
// exact under clock.Fake's instantaneous Advance semantics.
func (p *Pipeline) AddKeyframe(prop pipeline.Property, target float64, in time.Duration, considerDuration bool) error {
	p.mu.Lock()
	if timer, ok := p.timers[prop]; ok {
		timer.Stop()
	}

	if considerDuration {
		if pos, ok := p.positionLocked(); ok {
			remaining := SegmentDuration - pos
			if in > remaining {
				in = remaining
			}
		}
	}
	if in < 0 {
		in = 0
	}

	settle := func() {
		p.mu.Lock()
		p.values[prop] = target
		p.mu.Unlock()
		p.maybeSignalZero(prop, target)
	}

	if in == 0 {
		p.mu.Unlock()
		settle()
		return nil
	}

	timer := p.clk.AfterFunc(in, settle)
	p.timers[prop] = timer
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) positionLocked() (time.Duration, bool) {
	if p.startedAt.IsZero() {
		return 0, false
	}
	return p.clk.Now().Sub(p.startedAt), true
}

func (p *Pipeline) maybeSignalZero(prop pipeline.Property, value float64) {
	if prop == pipeline.PropertyVolume && value == 0 {
		p.publish(pipeline.Message{Kind: pipeline.MessagePropertyReachedZero, Property: prop})
	}
}

func (p *Pipeline) publish(msg pipeline.Message) {
	select {
	case p.events <- msg:
	default:
	}
}

func (p *Pipeline) ClearKeyframes(prop pipeline.Property) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.timers[prop]; ok {
		timer.Stop()
		delete(p.timers, prop)
	}
	return nil
}

func (p *Pipeline) Events() <-chan pipeline.Message { return p.events }

func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for prop, timer := range p.timers {
		timer.Stop()
		delete(p.timers, prop)
	}
	p.state = pipeline.StateNull
	return nil
}

// SimulateEOS injects an EOS message, for tests driving non-looping
// playback to completion.
func (p *Pipeline) SimulateEOS() { p.publish(pipeline.Message{Kind: pipeline.MessageEOS}) }

// SimulateSegmentDone injects a SEGMENT_DONE message, for tests driving a
// looping sound's restart path.
func (p *Pipeline) SimulateSegmentDone() {
	p.publish(pipeline.Message{Kind: pipeline.MessageSegmentDone})
}

// SimulateError injects an ERROR message.
func (p *Pipeline) SimulateError(err error) {
	p.publish(pipeline.Message{Kind: pipeline.MessageError, Err: err})
}
