/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package simulated

import (
	"testing"
	"time"

	"github.com/endlessm/hacksoundserver/internal/clock"
	"github.com/endlessm/hacksoundserver/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestStartSetsInitialValuesAndPlayingState(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := New(clk)
	require.NoError(t, p.Start(pipeline.StartSpec{Volume: 0.5, Rate: 1.2}))

	v, ok := p.CurrentValue(pipeline.PropertyVolume)
	require.True(t, ok)
	require.Equal(t, 0.5, v)
	require.Equal(t, pipeline.StatePlaying, p.State())
}

func TestAddKeyframeReachesTargetAndSignalsZeroVolume(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := New(clk)
	require.NoError(t, p.Start(pipeline.StartSpec{Volume: 1}))

	require.NoError(t, p.AddKeyframe(pipeline.PropertyVolume, 0, 200*time.Millisecond, false))
	clk.Advance(210 * time.Millisecond)

	v, _ := p.CurrentValue(pipeline.PropertyVolume)
	require.Equal(t, 0.0, v)

	select {
	case msg := <-p.Events():
		require.Equal(t, pipeline.MessagePropertyReachedZero, msg.Kind)
	default:
		t.Fatal("expected a PropertyReachedZero message")
	}
}

func TestPositionAdvancesWithClock(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := New(clk)
	require.NoError(t, p.Start(pipeline.StartSpec{}))

	clk.Advance(1500 * time.Millisecond)
	pos, ok := p.Position()
	require.True(t, ok)
	require.Equal(t, 1500*time.Millisecond, pos)
}

func TestClearKeyframesStopsPendingEnvelope(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := New(clk)
	require.NoError(t, p.Start(pipeline.StartSpec{Volume: 1}))
	require.NoError(t, p.AddKeyframe(pipeline.PropertyVolume, 0, 200*time.Millisecond, false))

	require.NoError(t, p.ClearKeyframes(pipeline.PropertyVolume))
	clk.Advance(500 * time.Millisecond)

	select {
	case msg := <-p.Events():
		t.Fatalf("unexpected event after ClearKeyframes: %+v", msg)
	default:
	}
}
