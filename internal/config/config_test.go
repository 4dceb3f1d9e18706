/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultBusName, cfg.BusName)
	require.Equal(t, 5, cfg.MaxSimultaneousSounds)
	require.Equal(t, 10*time.Second, cfg.IdleReleaseTimeout)
	require.Equal(t, 30*time.Millisecond, cfg.FocusResolutionTimeout)
	require.Equal(t, PipelineBackendGStreamer, cfg.PipelineBackend)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("HACK_SOUND_SERVER_BUS_NAME", "com.example.Test")
	t.Setenv("HACK_SOUND_SERVER_MAX_SOUNDS", "3")
	t.Setenv("HACK_SOUND_SERVER_PIPELINE_BACKEND", "simulated")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "com.example.Test", cfg.BusName)
	require.Equal(t, 3, cfg.MaxSimultaneousSounds)
	require.Equal(t, PipelineBackendSimulated, cfg.PipelineBackend)
}

func TestLoadFallsBackToLegacyKeyAndWarns(t *testing.T) {
	t.Setenv("HACK_SOUND_SERVER_MAX_SIMULTANEOUS_SOUNDS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxSimultaneousSounds)
	require.NotEmpty(t, cfg.LegacyEnvWarnings)
}

func TestLoadRejectsUnknownPipelineBackend(t *testing.T) {
	t.Setenv("HACK_SOUND_SERVER_PIPELINE_BACKEND", "nonsense")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveMaxSounds(t *testing.T) {
	t.Setenv("HACK_SOUND_SERVER_MAX_SOUNDS", "0")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadParsesHackableAppWhitelist(t *testing.T) {
	t.Setenv("HACK_SOUND_SERVER_HACKABLE_APP_WHITELIST", "com.endlessm.Fizzics, com.endlessm.LightSpeed ,,")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"com.endlessm.Fizzics", "com.endlessm.LightSpeed"}, cfg.HackableAppWhitelist)
}

func TestLoadDefaultsDebugLogBufferToDisabled(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Zero(t, cfg.DebugLogBufferSize)
}
