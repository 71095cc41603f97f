package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatianab/storyloom/internal/app"
	"github.com/tatianab/storyloom/internal/config"
	"github.com/tatianab/storyloom/internal/httpapi"
	"github.com/tatianab/storyloom/internal/logging"
	"github.com/tatianab/storyloom/internal/tui"
)

// build loads configuration, applies flag overrides and wires the app.
// quiet sends logs nowhere unless --log-file is set, for the TUI.
func build(ctx context.Context, flags *rootFlags, quiet bool) (*app.App, *config.Config, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.store != "" {
		cfg.Store.Kind = flags.store
	}

	var out io.Writer = os.Stderr
	closeLog := func() {}
	switch {
	case flags.logFile != "":
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, err
		}
		out = f
		closeLog = func() { f.Close() }
	case quiet:
		out = io.Discard
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, out)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		closeLog()
		return nil, nil, nil, err
	}
	return a, cfg, func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("closing")
		}
		closeLog()
	}, nil
}

func newPlayCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Play in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, cleanup, err := build(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer cleanup()
			return tui.Run(a.Controller)
		},
	}
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, cleanup, err := build(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer cleanup()
			if addr == "" {
				addr = cfg.HTTP.Addr
			}

			srv := &http.Server{
				Addr: addr,
				Handler: httpapi.New(httpapi.Config{
					Controller:     a.Controller,
					Registry:       a.Metrics.Registry(),
					AllowedOrigins: cfg.HTTP.AllowedOrigins,
					Log:            a.Log,
				}),
				ReadTimeout:  cfg.HTTP.ReadTimeout,
				WriteTimeout: cfg.HTTP.WriteTimeout,
			}

			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGTERM)
			errc := make(chan error, 1)
			go func() {
				a.Log.Info().Str("addr", addr).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			select {
			case err := <-errc:
				return err
			case <-done:
			}
			a.Log.Info().Msg("shutting down")
			a.Controller.Quit()
			ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}

func newSavesCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saves",
		Short: "Inspect and delete save slots",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saves, newest first, and any unreadable records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, cleanup, err := build(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer cleanup()

			listing, err := a.Controller.ListSaves(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSAVED\tPROVIDER\tSUMMARY")
			for _, s := range listing.Saves {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, time.UnixMilli(s.Timestamp).Format(time.DateTime), s.Provider, s.Summary)
			}
			for _, c := range listing.Corrupted {
				fmt.Fprintf(w, "%s\t-\t-\tCORRUPT: %s\n", c.ID, c.Reason)
			}
			return w.Flush()
		},
	}, &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete save slots, including corrupted ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, cleanup, err := build(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer cleanup()
			for _, id := range args {
				if err := a.Controller.DeleteSave(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", id)
			}
			return nil
		},
	})
	return cmd
}
