/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Command hacksoundserverd is the session-bus sound-event daemon: it loads
// the metadata catalog, connects to the D-Bus session bus, and runs the
// orchestrator's single-reader loop until signaled to stop.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/endlessm/hacksoundserver/internal/config"
)

var (
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hacksoundserverd",
	Short: "Session-scoped sound-event D-Bus daemon",
	Long: `hacksoundserverd exports com.endlessm.HackSoundServer on the session bus,
plays short UI/background sounds named in a JSON catalog, and tracks the
focused application so that only the sounds it owns are audible; every
other application's sounds are muted.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(validateCatalogCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
