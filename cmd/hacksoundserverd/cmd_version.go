/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/endlessm/hacksoundserver/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hacksoundserverd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Version)
		return nil
	},
}
