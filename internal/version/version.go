/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries the daemon's build-time version string.
package version

// Version is the current version of hacksoundserverd, set at build time via
// ldflags:
//
//	-X github.com/endlessm/hacksoundserver/internal/version.Version=X.Y.Z
var Version = "0.1.0"
