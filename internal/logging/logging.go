/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process-wide zerolog logger from the
// HACK_SOUND_SERVER_LOGLEVEL environment variable (spec §6): an integer
// zerolog level or a level name, defaulting to Warning.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process from the given level string
// (as read from HACK_SOUND_SERVER_LOGLEVEL) and assigns the global logger.
func Setup(levelSpec string) zerolog.Logger {
	return SetupWithWriter(levelSpec, nil)
}

// SetupWithWriter configures zerolog with an additional writer (for example a
// ring-buffer sink useful in an interactive debugging session) alongside the
// human-readable console writer.
func SetupWithWriter(levelSpec string, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := ParseLevel(levelSpec)

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout}

	var writer io.Writer = consoleWriter
	if additionalWriter != nil {
		writer = zerolog.MultiLevelWriter(consoleWriter, additionalWriter)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}

// ParseLevel accepts either an integer zerolog level or a level name
// ("debug", "info", "warn", "error", ...), defaulting to Warning when empty
// or unrecognized.
func ParseLevel(spec string) zerolog.Level {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return zerolog.WarnLevel
	}
	if n, err := strconv.Atoi(spec); err == nil {
		lvl := zerolog.Level(n)
		if lvl >= zerolog.TraceLevel && lvl <= zerolog.Disabled {
			return lvl
		}
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(spec))
	if err != nil {
		return zerolog.WarnLevel
	}
	return lvl
}
