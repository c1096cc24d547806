package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/quarteridge/galleryd/internal/api"
	"github.com/quarteridge/galleryd/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx, err := buildApp()
		if err != nil {
			return err
		}
		defer teardown(appCtx)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Pick the previous session set back up, if one was saved.
		if snap, err := appCtx.Snapshots.Latest(ctx); err == nil {
			appCtx.State.Import(snap)
			appCtx.Logger.Info("restored %d sessions from last snapshot", len(snap.Sessions))
		} else if !errors.Is(err, store.ErrNoSnapshot) {
			appCtx.Logger.Warn("could not restore snapshot: %v", err)
		}

		go func() {
			if err := appCtx.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appCtx.Logger.Error("scheduler: %v", err)
			}
		}()

		e := echo.New()
		api.RegisterRoutes(e, appCtx)

		srv := &http.Server{
			Addr:    ":" + appCtx.Config.Port,
			Handler: e,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				appCtx.Logger.Error("server shutdown: %v", err)
			}
		}()

		appCtx.Logger.Info("API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		// Persist sessions so a restart can resume where this run
		// left off.
		appCtx.State.Sync()
		if _, err := appCtx.Snapshots.Save(context.Background(), appCtx.State.Export()); err != nil {
			appCtx.Logger.Error("saving shutdown snapshot: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
