package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/reelcast/reelcast/internal/adapter"
	"github.com/reelcast/reelcast/internal/adapter/backend"
	"github.com/reelcast/reelcast/internal/blob"
	"github.com/reelcast/reelcast/internal/domain"
	"github.com/reelcast/reelcast/internal/feed"
	"github.com/reelcast/reelcast/internal/interaction"
	"github.com/reelcast/reelcast/internal/loader"
	"github.com/reelcast/reelcast/internal/ratelimit"
	"github.com/reelcast/reelcast/internal/service"
	"github.com/reelcast/reelcast/internal/store"
	"github.com/reelcast/reelcast/internal/watch"
)

// App wires the components for one command invocation. Everything is
// created on first use so commands only open what they need.
type App struct {
	cfg       *adapter.Config
	logger    *slog.Logger
	logCloser io.Closer

	be      backend.Backend
	cache   *store.VideoStore
	urls    *blob.Registry
	limiter *ratelimit.Limiter
}

// NewApp creates the application container
func NewApp(cfg *adapter.Config, logger *slog.Logger, logCloser io.Closer) *App {
	return &App{cfg: cfg, logger: logger, logCloser: logCloser}
}

// Backend returns the configured backend
func (a *App) Backend() (backend.Backend, error) {
	if a.be != nil {
		return a.be, nil
	}
	if !a.cfg.IsConfigured() {
		return nil, errors.New("backend not configured: set backend.url and backend.anon_key in config.yaml " +
			"(or REELCAST_BACKEND_URL and REELCAST_BACKEND_ANON_KEY), or use backend.type: local")
	}

	be, err := backend.New(&a.cfg.Backend, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	a.be = be
	return be, nil
}

// Cache returns the video cache store
func (a *App) Cache() (*store.VideoStore, error) {
	if a.cache != nil {
		return a.cache, nil
	}
	cache, err := store.Open(store.Options{
		Dir:       a.cfg.Cache.Dir,
		Namespace: a.cfg.CacheNamespace(),
		MaxBytes:  a.cfg.Cache.MaxBytes,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	a.cache = cache
	return cache, nil
}

// Limiter returns the per-user action limiter
func (a *App) Limiter() (*ratelimit.Limiter, error) {
	if a.limiter != nil {
		return a.limiter, nil
	}
	be, err := a.Backend()
	if err != nil {
		return nil, err
	}
	a.limiter = ratelimit.New(a.cfg.RateLimit.PerMinute, a.cfg.RateLimit.Burst, be, a.logger)
	return a.limiter, nil
}

// Feed returns the episode feed service
func (a *App) Feed() (*feed.Service, error) {
	be, err := a.Backend()
	if err != nil {
		return nil, err
	}
	return feed.NewService(be, a.logger), nil
}

// Tracker returns the watch progress tracker
func (a *App) Tracker() (*watch.Tracker, error) {
	be, err := a.Backend()
	if err != nil {
		return nil, err
	}
	return watch.NewTracker(be, be, a.logger), nil
}

// Observer returns the like/comment observer
func (a *App) Observer() (*interaction.Observer, error) {
	be, err := a.Backend()
	if err != nil {
		return nil, err
	}
	limiter, err := a.Limiter()
	if err != nil {
		return nil, err
	}
	return interaction.NewObserver(be, be, be, limiter, a.logger), nil
}

// Comments returns the comment service
func (a *App) Comments() (*interaction.Comments, error) {
	be, err := a.Backend()
	if err != nil {
		return nil, err
	}
	limiter, err := a.Limiter()
	if err != nil {
		return nil, err
	}
	return interaction.NewComments(be, be, be, limiter, a.logger), nil
}

// Playback returns the playback service with a listening blob server
func (a *App) Playback() (*service.PlaybackService, error) {
	be, err := a.Backend()
	if err != nil {
		return nil, err
	}
	cache, err := a.Cache()
	if err != nil {
		return nil, err
	}
	tracker, err := a.Tracker()
	if err != nil {
		return nil, err
	}

	if a.urls == nil {
		urls := blob.NewRegistry(a.logger)
		addr, err := urls.Listen("127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to start blob server: %w", err)
		}
		a.logger.Debug("blob server listening", "addr", addr)
		a.urls = urls
	}

	videos := loader.New(cache, a.urls, loader.Options{
		PartialBytes: a.cfg.Loader.PartialBytes,
		FetchTimeout: a.cfg.Loader.FetchTimeout,
		Logger:       a.logger,
	})
	launcher := adapter.NewLauncher(a.cfg.Player.Command, a.cfg.Player.Args, a.cfg.Player.StartFlag, a.logger)
	return service.NewPlaybackService(launcher, videos, tracker, be, a.logger), nil
}

// Session returns the sign-in/out service
func (a *App) Session() (*service.SessionService, error) {
	cache, err := a.Cache()
	if err != nil {
		return nil, err
	}
	return service.NewSessionService(cache, a.logger), nil
}

// Close releases everything that was opened
func (a *App) Close() {
	if a.urls != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.urls.Close(ctx); err != nil {
			a.logger.Warn("failed to stop blob server", "error", err)
		}
		cancel()
	}
	if a.be != nil {
		if err := a.be.Close(); err != nil {
			a.logger.Warn("failed to close backend", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close cache", "error", err)
		}
	}

	a.logger.Info("shutting down")
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// target builds a domain.Target from command arguments
func target(id, kind string) (domain.Target, error) {
	t, err := domain.ParseTargetType(kind)
	if err != nil {
		return domain.Target{}, err
	}
	return domain.Target{ID: id, Type: t}, nil
}
