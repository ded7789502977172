// Command framez is the terminal client for the Framez photo-sharing app.
//
// main only wires things together:
//
//	config → logger → credential cache → provider client → session store
//	       → handlers → app shell ← console
//
// and then hands control to the console until the user quits.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sakif/framez/internal/app"
	"github.com/sakif/framez/internal/config"
	"github.com/sakif/framez/internal/console"
	"github.com/sakif/framez/internal/logger"
	"github.com/sakif/framez/internal/provider"
	"github.com/sakif/framez/internal/repository/sqlite"
	"github.com/sakif/framez/internal/server"
	"github.com/sakif/framez/internal/service"
	"github.com/sakif/framez/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "framez:", err)
		os.Exit(1)
	}
}

func run() error {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	// stdout belongs to the UI, so logs go to stderr.
	log, err := logger.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	// === 3. CREDENTIAL CACHE ===
	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sqlite.New(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("opening credential cache: %w", err)
	}
	defer db.Close()

	// === 4. PROVIDER CLIENT ===
	client, err := provider.New(provider.Options{
		URL:               cfg.SupabaseURL,
		AnonKey:           cfg.SupabaseAnonKey,
		Cache:             db,
		RequestsPerSecond: cfg.RequestsPerSecond,
		RefreshTick:       cfg.RefreshTick,
		Logger:            log,
	})
	if err != nil {
		return err
	}
	client.StartAutoRefresh()
	defer client.Close()

	store := session.NewStore(client, log)
	defer store.Close()

	// === 5. HANDLERS AND APP SHELL ===
	uiOpts, restoreTerminal := consoleOptions(os.Stdin)
	defer restoreTerminal()
	ui := console.New(os.Stdin, os.Stdout, uiOpts...)
	browser := server.NewLoopback(func(authURL string) error {
		fmt.Fprintf(os.Stdout, "\nSign in at:\n  %s\n", authURL)
		return openBrowser(authURL)
	}, log)

	authSvc := service.NewAuthService(client, browser, service.AuthConfig{
		RedirectURL:   cfg.RedirectURL,
		OAuthProvider: cfg.OAuthProvider,
	}, log)
	postSvc := service.NewPostService(client, store, cfg.StorageBucket, log)
	a := app.New(store, authSvc, postSvc, ui, log)
	defer a.Close()

	// === 6. RUN ===
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- a.Run(ctx) }()

	if err := a.Start(ctx); err != nil {
		log.Warn("could not restore session", slog.String("error", err.Error()))
	}

	err = ui.Run(ctx, a)
	a.Close()
	<-loopDone

	switch {
	case err == nil, errors.Is(err, console.ErrQuit), errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}
