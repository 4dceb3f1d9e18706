/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package config loads process configuration from the environment following
// spec §6 and §6.1: a primary key with optional legacy fallback keys,
// defaults applied when nothing is set, and validation in Load.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PipelineBackend selects which pipeline.Pipeline adapter the daemon uses.
type PipelineBackend string

const (
	PipelineBackendGStreamer PipelineBackend = "gstreamer"
	PipelineBackendSimulated PipelineBackend = "simulated"
)

// Config is the daemon's process-wide, immutable-after-Load configuration.
type Config struct {
	LogLevel string

	BusName string

	MaxSimultaneousSounds int
	IdleReleaseTimeout    time.Duration
	FocusResolutionTimeout time.Duration

	SystemDataDir string
	UserDataDir   string
	WatchMetadata bool

	PipelineBackend PipelineBackend

	HackableAppWhitelist []string

	DebugLogBufferSize int

	LegacyEnvWarnings []string
}

// SystemMetadataPath is the system catalog file under SystemDataDir.
func (c *Config) SystemMetadataPath() string {
	return filepath.Join(c.SystemDataDir, "metadata.json")
}

// UserMetadataPath is the user catalog file under UserDataDir.
func (c *Config) UserMetadataPath() string {
	return filepath.Join(c.UserDataDir, "metadata.json")
}

// SystemSoundsDir is the directory system catalog sound-files are relative to.
func (c *Config) SystemSoundsDir() string {
	return filepath.Join(c.SystemDataDir, "sounds")
}

// UserSoundsDir is the directory user catalog sound-files are relative to.
func (c *Config) UserSoundsDir() string {
	return filepath.Join(c.UserDataDir, "sounds")
}

const defaultBusName = "com.endlessm.HackSoundServer"

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvAny([]string{"HACK_SOUND_SERVER_LOGLEVEL", "HACK_SOUND_SERVER_LOG_LEVEL"}, "warn"),

		BusName: getEnvAny([]string{"HACK_SOUND_SERVER_BUS_NAME"}, defaultBusName),

		MaxSimultaneousSounds: getEnvIntAny([]string{"HACK_SOUND_SERVER_MAX_SOUNDS", "HACK_SOUND_SERVER_MAX_SIMULTANEOUS_SOUNDS"}, 5),
		IdleReleaseTimeout:    time.Duration(getEnvIntAny([]string{"HACK_SOUND_SERVER_IDLE_TIMEOUT_MS"}, 10000)) * time.Millisecond,
		FocusResolutionTimeout: time.Duration(getEnvIntAny([]string{"HACK_SOUND_SERVER_FOCUS_TIMEOUT_MS"}, 30)) * time.Millisecond,

		SystemDataDir: getEnvAny([]string{"HACK_SOUND_SERVER_SYSTEM_DATADIR", "XDG_DATA_DIRS"}, "/usr/share/hack-sound-server"),
		UserDataDir:   getEnvAny([]string{"HACK_SOUND_SERVER_USER_DATADIR", "XDG_DATA_HOME"}, defaultUserDataDir()),
		WatchMetadata: getEnvBoolAny([]string{"HACK_SOUND_SERVER_WATCH_METADATA"}, false),

		PipelineBackend: PipelineBackend(getEnvAny([]string{"HACK_SOUND_SERVER_PIPELINE_BACKEND"}, string(PipelineBackendGStreamer))),

		HackableAppWhitelist: getEnvListAny([]string{"HACK_SOUND_SERVER_HACKABLE_APP_WHITELIST"}, nil),

		DebugLogBufferSize: getEnvIntAny([]string{"HACK_SOUND_SERVER_DEBUG_LOG_BUFFER"}, 0),
	}

	// XDG_DATA_DIRS is a colon-separated list; only the first entry is a
	// sensible single system datadir.
	if idx := strings.IndexByte(cfg.SystemDataDir, ':'); idx >= 0 {
		cfg.SystemDataDir = cfg.SystemDataDir[:idx]
	}
	if !strings.HasSuffix(cfg.SystemDataDir, "hack-sound-server") {
		cfg.SystemDataDir = filepath.Join(cfg.SystemDataDir, "hack-sound-server")
	}
	if !strings.HasSuffix(cfg.UserDataDir, "hack-sound-server") {
		cfg.UserDataDir = filepath.Join(cfg.UserDataDir, "hack-sound-server")
	}

	if cfg.BusName == "" {
		return nil, fmt.Errorf("HACK_SOUND_SERVER_BUS_NAME must not be empty")
	}
	if cfg.MaxSimultaneousSounds <= 0 {
		return nil, fmt.Errorf("HACK_SOUND_SERVER_MAX_SOUNDS must be positive, got %d", cfg.MaxSimultaneousSounds)
	}
	if cfg.PipelineBackend != PipelineBackendGStreamer && cfg.PipelineBackend != PipelineBackendSimulated {
		return nil, fmt.Errorf("unsupported pipeline backend %q", cfg.PipelineBackend)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func defaultUserDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share")
	}
	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		return filepath.Join(u.HomeDir, ".local", "share")
	}
	return filepath.Join(os.TempDir(), "hack-sound-server-home")
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"HACK_SOUND_SERVER_LOG_LEVEL":               "use HACK_SOUND_SERVER_LOGLEVEL",
		"HACK_SOUND_SERVER_MAX_SIMULTANEOUS_SOUNDS": "use HACK_SOUND_SERVER_MAX_SOUNDS",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvListAny returns the first set comma-separated environment variable value
// from keys, split and trimmed, or def if none set.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}
