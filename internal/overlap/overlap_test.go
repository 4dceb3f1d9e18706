/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package overlap

import (
	"testing"

	"github.com/endlessm/hacksoundserver/internal/metadata"
	"github.com/stretchr/testify/require"
)

func modelWith(entries map[string]metadata.Entry) *metadata.Model {
	return metadata.NewModel(entries)
}

func TestDecideUnknownEvent(t *testing.T) {
	model := modelWith(nil)
	out := Decide(model, "missing", ":1.1", 5, nil, nil)
	require.True(t, out.IsUnknownEvent())
	require.Equal(t, "missing", out.EventID())
}

func TestDecideOverlapAlwaysCreatesUntilLimit(t *testing.T) {
	model := modelWith(map[string]metadata.Entry{"click": {OverlapBehavior: metadata.OverlapOverlap}})
	count := 0
	out := Decide(model, "click", ":1.1", 5, nil, func(string) int { return count })
	require.True(t, out.IsCreated())

	count = 5
	out = Decide(model, "click", ":1.1", 5, nil, func(string) int { return count })
	require.True(t, out.IsOverLimit())
}

func TestDecideRestartReusesExisting(t *testing.T) {
	model := modelWith(map[string]metadata.Entry{"alarm": {OverlapBehavior: metadata.OverlapRestart}})
	existing := func(eventID, busName string) (string, bool) {
		require.Equal(t, "alarm", eventID)
		return "uuid-1", true
	}
	out := Decide(model, "alarm", ":1.1", 5, existing, func(string) int { return 99 })
	require.True(t, out.IsReused())
	require.Equal(t, "uuid-1", out.ExistingUUID())
}

func TestDecideIgnoreIsPerBusName(t *testing.T) {
	model := modelWith(map[string]metadata.Entry{"ding": {OverlapBehavior: metadata.OverlapIgnore}})
	existing := func(eventID, busName string) (string, bool) {
		return "", busName != ":1.A"
	}
	outA := Decide(model, "ding", ":1.A", 5, existing, func(string) int { return 0 })
	require.True(t, outA.IsCreated())

	outB := Decide(model, "ding", ":1.B", 5, existing, func(string) int { return 0 })
	require.True(t, outB.IsReused())
}
