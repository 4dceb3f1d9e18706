/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/endlessm/hacksoundserver/internal/logging"
	"github.com/endlessm/hacksoundserver/internal/metadata"
)

var validateCatalogCmd = &cobra.Command{
	Use:   "validate-catalog",
	Short: "Load the system and user sound-event catalogs and list their entries",
	Long: `validate-catalog loads the same system/user metadata.json catalogs the
daemon would load at startup, merges them, and prints how many sound events
were loaded followed by each event id with its file count and type. A
catalog that is missing or fails to parse is logged and treated as empty;
it does not make the command exit non-zero.`,
	RunE: runValidateCatalog,
}

func runValidateCatalog(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger = logging.Setup(cfg.LogLevel)

	loader := metadata.NewLoader(cfg.SystemMetadataPath(), cfg.SystemSoundsDir(), cfg.UserMetadataPath(), cfg.UserSoundsDir(), logger)
	model, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	ids := model.EventIDs()
	fmt.Printf("%d sound event(s) loaded\n", len(ids))
	for _, id := range ids {
		entry, _ := model.Lookup(id)
		fmt.Printf("  %s (%d file(s), type=%s)\n", id, len(entry.SoundFiles), entry.Type)
	}
	return nil
}
