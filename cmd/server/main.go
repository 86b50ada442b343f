package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/marathon-draft/internal/config"
	"github.com/DoyleJ11/marathon-draft/internal/draft"
	"github.com/DoyleJ11/marathon-draft/internal/draftapi"
	"github.com/DoyleJ11/marathon-draft/internal/httpapi"
	"github.com/DoyleJ11/marathon-draft/internal/hub"
	"github.com/DoyleJ11/marathon-draft/internal/logging"
	"github.com/DoyleJ11/marathon-draft/internal/session"
)

const purgeEvery = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sealer, err := session.NewSealer(cfg.SessionSecret)
	if err != nil {
		return err
	}
	sessions, err := session.Open(cfg.SessionDBPath, sealer, log.Named("session"))
	if err != nil {
		return err
	}
	defer sessions.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Lobbies stop with the hub when ctx is cancelled.
	h := hub.NewHub(ctx)
	api := draftapi.New(cfg.APIBaseURL, log.Named("draftapi"))
	drafts := draft.NewService(api, h, log.Named("draft"))

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Drafts:         drafts,
		Remote:         api,
		Sessions:       sessions,
		PublicURL:      cfg.PublicBaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            log.Named("http"),
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("api", cfg.APIBaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		t := time.NewTicker(purgeEvery)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				n, err := sessions.Purge(gctx)
				if err != nil {
					log.Warn("purging sessions failed", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("purged expired sessions", zap.Int64("count", n))
				}
			}
		}
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}
