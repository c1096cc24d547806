package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarteridge/galleryd/internal/app"
	"github.com/quarteridge/galleryd/internal/fetch"
	"github.com/quarteridge/galleryd/internal/infra/config"
	"github.com/quarteridge/galleryd/internal/infra/logger"
	"github.com/quarteridge/galleryd/internal/scheduler"
	"github.com/quarteridge/galleryd/internal/state"
	"github.com/quarteridge/galleryd/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "galleryd",
	Short:         "Coordinated gallery downloader",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to config file")
}

// buildApp assembles the shared environment every command runs on.
func buildApp() (*app.Context, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return nil, fmt.Errorf("logger error: %w", err)
	}

	appCtx := app.NewContext(cfg, log)

	appCtx.State = state.New(log, cfg.Download.StateBuffer, cfg.Download.PollTimeout())
	appCtx.State.Start()

	appCtx.Scheduler = scheduler.New(cfg, log, appCtx.State, fetch.New(log))

	snapshots, err := store.NewPersistentStore(cfg.Store.SQLitePath)
	if err != nil {
		appCtx.State.Stop()
		return nil, fmt.Errorf("store error: %w", err)
	}
	appCtx.Snapshots = snapshots

	return appCtx, nil
}

func teardown(appCtx *app.Context) {
	appCtx.State.Stop()
	if err := appCtx.Snapshots.Close(); err != nil {
		appCtx.Logger.Error("closing store: %v", err)
	}
}
