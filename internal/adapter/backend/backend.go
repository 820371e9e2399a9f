// Package backend builds the configured record store, change feed and RPC client.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reelcast/reelcast/internal/adapter"
	"github.com/reelcast/reelcast/internal/adapter/backend/local"
	"github.com/reelcast/reelcast/internal/adapter/backend/realtime"
	"github.com/reelcast/reelcast/internal/adapter/backend/rest"
	"github.com/reelcast/reelcast/internal/domain"
)

// Backend combines everything the client needs from a backend-as-a-service
type Backend interface {
	domain.RecordStore // Collections: episodes, interactions, comments, watch_progress
	domain.ChangeFeed  // Realtime insert/update/delete notifications
	domain.Procedures  // Remote procedures: views, roles, rate limits
	domain.Identity    // Signed-in user
	Close() error
}

// remote pairs the REST client with the websocket change feed
type remote struct {
	*rest.Client
	feed *realtime.Client
}

func (r *remote) Subscribe(ctx context.Context, sub domain.Subscription, handler domain.ChangeHandler) (domain.Unsubscribe, error) {
	return r.feed.Subscribe(ctx, sub, handler)
}

func (r *remote) Close() error {
	return r.feed.Close()
}

// New creates the backend selected by cfg
func New(cfg *adapter.BackendConfig, logger *slog.Logger) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend config is nil")
	}

	switch cfg.Type {
	case adapter.BackendTypeREST, "":
		if cfg.URL == "" {
			return nil, fmt.Errorf("backend URL is required")
		}
		if cfg.AnonKey == "" {
			return nil, fmt.Errorf("backend anon key is required")
		}

		client := rest.NewClient(cfg.URL, cfg.AnonKey, cfg.AccessToken, cfg.UserID, logger)
		feed, err := realtime.NewClient(cfg.URL, cfg.AnonKey, client.Token, logger)
		if err != nil {
			return nil, err
		}
		return &remote{Client: client, feed: feed}, nil

	case adapter.BackendTypeLocal:
		b, err := local.Open(local.Options{
			Path:   cfg.LocalPath,
			UserID: cfg.UserID,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// NewAuthFlow returns the interactive sign-in flow for the configured backend
func NewAuthFlow(cfg *adapter.BackendConfig, logger *slog.Logger) (domain.AuthFlow, error) {
	switch cfg.Type {
	case adapter.BackendTypeREST, "":
		if cfg.URL == "" || cfg.AnonKey == "" {
			return nil, fmt.Errorf("backend URL and anon key are required to sign in")
		}
		return rest.NewPasswordAuth(cfg.URL, cfg.AnonKey, logger), nil
	default:
		return nil, fmt.Errorf("backend %q does not support sign-in; set backend.user_id instead", cfg.Type)
	}
}
