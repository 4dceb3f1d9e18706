/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// rawEntry mirrors the JSON shape of one catalog entry, grounded on
// original_source/src/utils/metadata.py and src/sound.py's property reads.
type rawEntry struct {
	SoundFile       *string                `json:"sound-file"`
	SoundFiles      []string               `json:"sound-files"`
	Type            string                 `json:"type"`
	Loop            bool                   `json:"loop"`
	Volume          *float64               `json:"volume"`
	Pitch           *float64               `json:"pitch"`
	Rate            *float64               `json:"rate"`
	FadeIn          *int                   `json:"fade-in"`
	FadeOut         *int                   `json:"fade-out"`
	Delay           int                    `json:"delay"`
	OverlapBehavior string                 `json:"overlap-behavior"`
	ApplyStateOn    map[string][]string    `json:"apply-state-on"`
}

// Loader reads and merges the system and user JSON catalogs. Grounded on
// original_source/src/utils/metadata.py's read_and_parse_metadata: the system
// catalog is loaded first, the user catalog "updates" it at whole-entry
// granularity, and sound-file/sound-files are merged into a deduped,
// absolute-path list relative to each catalog's own sounds directory.
type Loader struct {
	systemMetadataPath string
	systemSoundsDir    string
	userMetadataPath   string
	userSoundsDir      string
	logger             zerolog.Logger
}

// NewLoader constructs a Loader for the given system/user catalog and sounds
// directories.
func NewLoader(systemMetadataPath, systemSoundsDir, userMetadataPath, userSoundsDir string, logger zerolog.Logger) *Loader {
	return &Loader{
		systemMetadataPath: systemMetadataPath,
		systemSoundsDir:    systemSoundsDir,
		userMetadataPath:   userMetadataPath,
		userSoundsDir:      userSoundsDir,
		logger:             logger,
	}
}

// Load reads both catalogs and merges them into one Model.
func (l *Loader) Load() (*Model, error) {
	system := l.loadOne(l.systemMetadataPath, l.systemSoundsDir, true)
	user := l.loadOne(l.userMetadataPath, l.userSoundsDir, false)

	merged := make(map[string]Entry, len(system)+len(user))
	for id, e := range system {
		merged[id] = e
	}
	for id, e := range user {
		merged[id] = e
	}
	return NewModel(merged), nil
}

func (l *Loader) loadOne(path, soundsDir string, isSystem bool) map[string]Entry {
	result := map[string]Entry{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if isSystem {
				l.logger.Error().Str("path", path).Msg("system metadata catalog does not exist")
			} else {
				l.logger.Info().Str("path", path).Msg("user metadata catalog does not exist")
			}
			return result
		}
		l.logger.Error().Err(err).Str("path", path).Msg("failed to read metadata catalog")
		return result
	}

	var raw map[string]rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		l.logger.Error().Err(err).Str("path", path).Msg("failed to decode metadata catalog")
		return result
	}

	for id, re := range raw {
		result[id] = convertEntry(re, soundsDir)
	}
	return result
}

func convertEntry(re rawEntry, soundsDir string) Entry {
	files := make([]string, 0, len(re.SoundFiles)+1)
	seen := map[string]bool{}
	addFile := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		files = append(files, filepath.Join(soundsDir, f))
	}
	for _, f := range re.SoundFiles {
		addFile(f)
	}
	if re.SoundFile != nil {
		addFile(*re.SoundFile)
	}

	volume := 1.0
	if re.Volume != nil {
		volume = *re.Volume
	}
	pitch := 1.0
	if re.Pitch != nil {
		pitch = *re.Pitch
	}
	rate := 1.0
	if re.Rate != nil {
		rate = *re.Rate
	}

	entryType := TypeSFX
	if re.Type == string(TypeBG) {
		entryType = TypeBG
	}

	fadeIn := 0
	if re.FadeIn != nil {
		fadeIn = *re.FadeIn
	}
	fadeOut := 0
	if re.FadeOut != nil {
		fadeOut = *re.FadeOut
	}

	var applyStateOn map[ApplyState][]string
	if len(re.ApplyStateOn) > 0 {
		applyStateOn = make(map[ApplyState][]string, len(re.ApplyStateOn))
		for k, v := range re.ApplyStateOn {
			applyStateOn[ApplyState(k)] = v
		}
	}

	return Entry{
		SoundFiles:      files,
		Type:            entryType,
		Loop:            re.Loop,
		Volume:          volume,
		Pitch:           pitch,
		Rate:            rate,
		FadeInMS:        fadeIn,
		FadeOutMS:       fadeOut,
		HasFadeIn:       re.FadeIn != nil,
		HasFadeOut:      re.FadeOut != nil,
		DelayMS:         re.Delay,
		OverlapBehavior: OverlapBehavior(re.OverlapBehavior),
		ApplyStateOn:    applyStateOn,
	}
}

// Watch starts an fsnotify watcher on the parent directories of both catalog
// files and republishes a freshly-loaded Model on out whenever either file
// changes. This is a supplement to the original implementation (which loads
// once at startup); callers that don't set Config.WatchMetadata never call
// this. The returned stop function closes the underlying watcher; it does
// not close out.
func (l *Loader) Watch(out chan<- *Model) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := map[string]bool{
		filepath.Dir(l.systemMetadataPath): true,
		filepath.Dir(l.userMetadataPath):   true,
	}
	for dir := range dirs {
		// A missing directory simply never fires events; that's fine,
		// hot-reload is best-effort.
		_ = watcher.Add(dir)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != l.systemMetadataPath && ev.Name != l.userMetadataPath {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				model, loadErr := l.Load()
				if loadErr != nil {
					l.logger.Error().Err(loadErr).Msg("failed to reload metadata catalog")
					continue
				}
				select {
				case out <- model:
				default:
					l.logger.Warn().Msg("metadata reload channel full, dropping update")
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error().Err(werr).Msg("metadata watcher error")
			}
		}
	}()

	return watcher.Close, nil
}
