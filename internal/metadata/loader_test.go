/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadMergesUserOverSystemAtWholeEntryGranularity(t *testing.T) {
	dir := t.TempDir()
	systemPath := filepath.Join(dir, "system", "metadata.json")
	userPath := filepath.Join(dir, "user", "metadata.json")

	writeJSON(t, systemPath, `{
		"ui/click": {"sound-file": "click.ogg", "volume": 0.5},
		"ui/alarm": {"sound-file": "alarm.ogg", "overlap-behavior": "restart"}
	}`)
	writeJSON(t, userPath, `{
		"ui/click": {"sound-file": "custom-click.ogg"}
	}`)

	loader := NewLoader(systemPath, filepath.Join(dir, "system", "sounds"), userPath, filepath.Join(dir, "user", "sounds"), zerolog.Nop())
	model, err := loader.Load()
	require.NoError(t, err)

	click, ok := model.Lookup("ui/click")
	require.True(t, ok)
	require.Equal(t, []string{filepath.Join(dir, "user", "sounds", "custom-click.ogg")}, click.SoundFiles)
	require.Equal(t, 1.0, click.Volume, "user entry overrides the whole entry, including volume")

	alarm, ok := model.Lookup("ui/alarm")
	require.True(t, ok)
	require.Equal(t, OverlapRestart, alarm.EffectiveOverlapBehavior())
}

func TestLoadMissingSystemCatalogYieldsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(filepath.Join(dir, "nope.json"), dir, filepath.Join(dir, "nope2.json"), dir, zerolog.Nop())
	model, err := loader.Load()
	require.NoError(t, err)
	require.False(t, model.Has("anything"))
}

func TestLoadMergesSoundFileIntoSoundFilesDeduped(t *testing.T) {
	dir := t.TempDir()
	systemPath := filepath.Join(dir, "metadata.json")
	writeJSON(t, systemPath, `{
		"ui/ding": {"sound-file": "a.ogg", "sound-files": ["a.ogg", "b.ogg"]}
	}`)

	loader := NewLoader(systemPath, dir, filepath.Join(dir, "nope.json"), dir, zerolog.Nop())
	model, err := loader.Load()
	require.NoError(t, err)

	ding, ok := model.Lookup("ui/ding")
	require.True(t, ok)
	require.Len(t, ding.SoundFiles, 2)
}

func TestResolveNullTimesXEqualsX(t *testing.T) {
	entry := Entry{Volume: 0.5, Pitch: 1.0, Rate: 1.0, SoundFiles: []string{"a.ogg"}}
	resolved := Resolve(entry, Extras{}, func(int) int { return 0 })
	require.Equal(t, 0.5, resolved.Volume)

	extraVol := 2.0
	resolved = Resolve(entry, Extras{Volume: &extraVol, HasVolume: true}, func(int) int { return 0 })
	require.Equal(t, 1.0, resolved.Volume)
}

func TestResolveChoosesAmongSoundFiles(t *testing.T) {
	entry := Entry{SoundFiles: []string{"a.ogg", "b.ogg", "c.ogg"}}
	resolved := Resolve(entry, Extras{}, func(n int) int { return 1 })
	require.Equal(t, "b.ogg", resolved.SoundFile)
}

func TestResolveLoopDefaultsFades(t *testing.T) {
	entry := Entry{Loop: true, Volume: 1, Pitch: 1, Rate: 1}
	resolved := Resolve(entry, Extras{}, func(int) int { return 0 })
	require.Equal(t, 1000, resolved.FadeInMS)
	require.Equal(t, 1000, resolved.FadeOutMS)
}

func TestResolveLoopKeepsExplicitZeroFades(t *testing.T) {
	entry := Entry{Loop: true, Volume: 1, Pitch: 1, Rate: 1, HasFadeIn: true, HasFadeOut: true}
	resolved := Resolve(entry, Extras{}, func(int) int { return 0 })
	require.Equal(t, 0, resolved.FadeInMS)
	require.Equal(t, 0, resolved.FadeOutMS)
}

func TestLoadSetsHasFadeFromExplicitCatalogKeys(t *testing.T) {
	dir := t.TempDir()
	systemPath := filepath.Join(dir, "metadata.json")
	writeJSON(t, systemPath, `{
		"ui/loop": {"sound-file": "a.ogg", "loop": true, "fade-in": 0, "fade-out": 0},
		"ui/unset": {"sound-file": "a.ogg", "loop": true}
	}`)

	loader := NewLoader(systemPath, dir, filepath.Join(dir, "nope.json"), dir, zerolog.Nop())
	model, err := loader.Load()
	require.NoError(t, err)

	withZero, ok := model.Lookup("ui/loop")
	require.True(t, ok)
	require.True(t, withZero.HasFadeIn)
	require.True(t, withZero.HasFadeOut)

	unset, ok := model.Lookup("ui/unset")
	require.True(t, ok)
	require.False(t, unset.HasFadeIn)
	require.False(t, unset.HasFadeOut)
}
