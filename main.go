// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"spectra/cmd"
	"spectra/internal/app"
	"spectra/internal/config"
	applog "spectra/internal/log"
	"spectra/pkg/build"
)

// main is the entry point for the visualizer.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Configure logging
//   - Build pools, pipeline, surfaces, server and capture source
//
// 2. Concurrent Phase (Hot Path):
//   - Capture callback submits buffers to the analysis worker
//   - Surfaces render on their own timers
//   - SIGHUP reloads the configuration and hot-swaps what it can
//
// 3. Shutdown Phase (Cold Path):
//   - SIGINT/SIGTERM (or quitting the terminal UI) stops capture first,
//     then analysis, surfaces, transports and the HTTP server
//   - Flush logs
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Development builds carry no ldflags; placeholders are fine.
	buildErr := build.Initialize()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx, os.Args[1:], func(ctx context.Context, load cmd.Loader) error {
		return run(ctx, load, buildErr)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		_ = applog.Sync()
		os.Exit(1)
	}
}

// run builds the app from the loaded configuration and blocks until ctx is
// cancelled or the terminal UI exits.
func run(ctx context.Context, load cmd.Loader, buildErr error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	configureLogging(cfg)
	defer applog.Sync()

	if buildErr != nil {
		applog.Debugf("Build: missing ldflags, using placeholders: %v", buildErr)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	reloadDone := make(chan struct{})
	go func() {
		defer close(reloadDone)
		for {
			select {
			case <-hup:
				next, err := load()
				if err != nil {
					applog.Errorf("Reload: keeping current settings: %v", err)
					continue
				}
				applog.Infof("Reload: configuration reloaded")
				a.Apply(next)
			case <-runCtx.Done():
				return
			}
		}
	}()

	// Run returns after shutting everything down.
	err = a.Run(runCtx)

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	cancel()
	<-reloadDone
	return err
}

// configureLogging applies the debug and level settings. With the terminal
// UI on, logs go to a file so they do not tear the screen.
func configureLogging(cfg *config.Config) {
	if cfg.Transport.TUI {
		applog.Init(cfg.Debug, config.DefaultTUILogFile)
	} else {
		applog.Init(cfg.Debug)
	}

	if lvl, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(lvl)
	}
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
	}
}
