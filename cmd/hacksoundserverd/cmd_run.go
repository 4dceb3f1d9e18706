/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	godbus "github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/endlessm/hacksoundserver/internal/clock"
	"github.com/endlessm/hacksoundserver/internal/events"
	"github.com/endlessm/hacksoundserver/internal/focus"
	"github.com/endlessm/hacksoundserver/internal/focus/hackableapps"
	"github.com/endlessm/hacksoundserver/internal/focus/shell"
	"github.com/endlessm/hacksoundserver/internal/logbuffer"
	"github.com/endlessm/hacksoundserver/internal/logging"
	"github.com/endlessm/hacksoundserver/internal/metadata"
	"github.com/endlessm/hacksoundserver/internal/orchestrator"
	"github.com/endlessm/hacksoundserver/internal/pipeline"
	"github.com/endlessm/hacksoundserver/internal/pipeline/gstreamer"
	"github.com/endlessm/hacksoundserver/internal/pipeline/simulated"
	"github.com/endlessm/hacksoundserver/internal/transport/dbus"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	var logBuffer *logbuffer.Buffer
	if cfg.DebugLogBufferSize > 0 {
		logBuffer = logbuffer.New(cfg.DebugLogBufferSize)
		logger = logging.SetupWithWriter(cfg.LogLevel, logbuffer.NewWriter(logBuffer, nil))
	} else {
		logger = logging.Setup(cfg.LogLevel)
	}
	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warning)
	}

	loader := metadata.NewLoader(cfg.SystemMetadataPath(), cfg.SystemSoundsDir(), cfg.UserMetadataPath(), cfg.UserSoundsDir(), logger)
	model, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load metadata catalog: %w", err)
	}

	conn, err := godbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	defer conn.Close()

	clk := clock.Real{}
	bus := events.NewBus()
	hackableAppsManager := hackableapps.New(cfg.HackableAppWhitelist)

	// o is assigned below, after the orchestrator exists; the resolver and
	// Tracker must be built first, but their callbacks only ever fire
	// asynchronously (a later D-Bus reply, a later timer), so capturing o by
	// reference here and assigning it before Run starts is safe.
	var o *orchestrator.Orchestrator

	resolver := shell.NewNameOwnerResolver(conn, logger, func(requestID int, uniqueName string, found bool) {
		o.HandleNameOwnerResolved(requestID, uniqueName, found)
	})

	tracker := focus.New(clk, hackableAppsManager, resolver, logger, cfg.FocusResolutionTimeout,
		func(info *focus.FocusInfo) {
			bus.Publish(events.EventFocusChanged, events.Payload{"focus_info": info})
		},
		func(requestID int) {
			bus.Publish(events.EventFocusTimeoutFired, events.Payload{"request_id": requestID})
		},
	)

	var pipelineFactory orchestrator.PipelineFactory
	switch cfg.PipelineBackend {
	case "simulated":
		pipelineFactory = func() pipeline.Pipeline { return simulated.New(clk) }
	default:
		pipelineFactory = func() pipeline.Pipeline { return gstreamer.New(logger) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	hold := newAppHold(cancel)

	o = orchestrator.New(cfg, model, clk, bus, tracker, hackableAppsManager, pipelineFactory, hold, logger)

	if cfg.WatchMetadata {
		reloads := make(chan *metadata.Model, 1)
		stop, err := loader.Watch(reloads)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to start metadata watcher")
		} else {
			defer stop()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case m, ok := <-reloads:
						if !ok {
							return
						}
						bus.Publish(events.EventMetadataReloaded, events.Payload{"model": m})
					}
				}
			}()
		}
	}

	if _, err := shell.NewWatcher(conn, logger, o.HandleFocusedAppChanged, o.HandleOverviewActiveChanged); err != nil {
		return fmt.Errorf("watch shell focus properties: %w", err)
	}
	if _, err := shell.NewHackableAppsWatcher(conn, logger, o.HandleHackableAppsChanged); err != nil {
		return fmt.Errorf("watch hackable apps: %w", err)
	}

	if _, err := dbus.New(conn, cfg.BusName, o, logger, func(name string) {
		bus.Publish(events.EventBusNameVanished, events.Payload{"bus_name": name})
	}); err != nil {
		return fmt.Errorf("export D-Bus interface: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("signal received, shutting down")
		cancel()
	}()

	if logBuffer != nil {
		dump := make(chan os.Signal, 1)
		signal.Notify(dump, syscall.SIGUSR1)
		go func() {
			for range dump {
				for _, entry := range logBuffer.All() {
					fmt.Fprintln(os.Stderr, entry.Raw)
				}
			}
		}()
	}

	logger.Info().Str("bus_name", cfg.BusName).Msg("hacksoundserverd started")
	o.Run(ctx)
	logger.Info().Msg("hacksoundserverd stopped")
	return nil
}
