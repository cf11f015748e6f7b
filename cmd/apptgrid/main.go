package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"apptgrid/internal/agenda"
	"apptgrid/internal/capture"
	"apptgrid/internal/config"
	"apptgrid/internal/ics"
	"apptgrid/internal/layout"
	appLog "apptgrid/internal/log"
	"apptgrid/internal/practice"
	"apptgrid/internal/render"
	"apptgrid/internal/view"
	"apptgrid/internal/web"
)

const version = "0.3.0"

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "apptgrid",
		Short:        "Lay out clinic appointments into day, week and month grids",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/apptgrid/config.yaml", "Path to config file")

	root.AddCommand(serveCmd())
	root.AddCommand(layoutCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(snapshotCmd())
	return root
}

// loadConfig reads the config file, creating it with defaults on first run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// peekConfig is loadConfig for one-shot commands: a missing file means
// defaults and nothing is written.
func peekConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		cfg := config.DefaultConfig()
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
		return cfg, nil
	}
	return loadConfig()
}

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve grids over HTTP and refresh them on schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// --listen overrides the config file.
			if listen != "" {
				cfg.Listen = listen
			}
			return runServer(cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServer(cfg *config.Config) error {
	appLog.Info("apptgrid starting", "version", version)

	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}
	width, _ := layout.ParseWidthMode(cfg.WidthMode)

	sources := buildSources(cfg, loc)
	if len(sources) == 0 {
		appLog.Warn("no appointment sources configured; grids will be empty")
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"week_start", cfg.WeekStart,
		"refresh", cfg.RefreshCron,
		"width_mode", width.String(),
		"feeds", len(cfg.Feeds),
		"practice_api", cfg.PracticeAPI != nil && cfg.PracticeAPI.BaseURL != "",
	)

	svc := agenda.NewService(agenda.Options{
		Location:  loc,
		WeekStart: view.ParseWeekStart(cfg.WeekStart),
		Width:     width,
		Geometry: layout.GeometryOptions{
			HourHeight: cfg.HourHeight,
		},
		HideCancelled: cfg.HideCancelled,
		CacheTTL:      cfg.CacheTTL(),
	}, sources...)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := svc.Start(ctx, cfg.RefreshCron); err != nil {
		return err
	}
	defer svc.Stop()

	srv := web.NewServer(cfg, svc, render.Options{})
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("HTTP server stopped", err)
		return err
	}
	appLog.Info("apptgrid exiting")
	return nil
}

func buildSources(cfg *config.Config, loc *time.Location) []agenda.Source {
	var sources []agenda.Source
	if len(cfg.Feeds) > 0 {
		feeds := make([]ics.Feed, 0, len(cfg.Feeds))
		for _, f := range cfg.Feeds {
			feeds = append(feeds, ics.Feed{ID: f.Key(), URL: f.URL})
		}
		sources = append(sources, &agenda.FeedSource{
			Fetcher: ics.NewFetcher(cfg.CacheDir, &http.Client{Timeout: 30 * time.Second}),
			Feeds:   feeds,
			Loc:     loc,
		})
	}
	if api := cfg.PracticeAPI; api != nil && api.BaseURL != "" {
		sources = append(sources, practice.NewClient(api.BaseURL,
			practice.WithToken(api.Token),
			practice.WithHTTPClient(&http.Client{Timeout: time.Duration(api.TimeoutSeconds) * time.Second}),
			practice.WithLocation(loc),
		))
	}
	return sources
}

func snapshotCmd() *cobra.Command {
	var (
		url, out      string
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the rendered calendar as a PNG with headless Chromium",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := peekConfig()
			if err != nil {
				return err
			}
			if url == "" {
				url = "http://" + cfg.Listen + "/calendar.svg"
			}
			if out == "" {
				out = cfg.PreviewPath
			}
			if err := capture.PNG(cmd.Context(), capture.Options{
				URL:        url,
				OutputPath: out,
				Width:      width,
				Height:     height,
			}); err != nil {
				return err
			}
			appLog.Info("snapshot written", "path", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Page to capture (default: this server's /calendar.svg)")
	cmd.Flags().StringVar(&out, "out", "", "PNG output path (default: preview_path from config)")
	cmd.Flags().IntVar(&width, "width", capture.DefaultWidth, "Viewport width in pixels")
	cmd.Flags().IntVar(&height, "height", capture.DefaultHeight, "Viewport height in pixels")
	return cmd
}
