/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := false
	f.AfterFunc(10*time.Second, func() { fired = true })

	f.Advance(5 * time.Second)
	require.False(t, fired)

	f.Advance(5 * time.Second)
	require.True(t, fired)
}

func TestFakeTimerStopIsIdempotent(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := false
	timer := f.AfterFunc(10*time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	f.Advance(20 * time.Second)
	require.False(t, fired)
}

func TestFakeAfterFiresAllDueWaiters(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ch1 := f.After(5 * time.Second)
	ch2 := f.After(1 * time.Second)
	ch3 := f.After(20 * time.Second)

	f.Advance(10 * time.Second)

	require.NotPanics(t, func() {
		<-ch1
		<-ch2
	})
	select {
	case <-ch3:
		t.Fatal("ch3 should not have fired yet")
	default:
	}

	require.Equal(t, 1, f.Pending())
}
