package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reelcast/reelcast/internal/adapter"
	"github.com/reelcast/reelcast/internal/domain"
)

// cacheClearer empties the video cache
type cacheClearer interface {
	Clear() error
}

// SessionService manages user session operations
type SessionService struct {
	cache  cacheClearer
	logger *slog.Logger
}

// NewSessionService creates a new SessionService
func NewSessionService(cache cacheClearer, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{cache: cache, logger: logger}
}

// Login runs the sign-in flow and persists the session
func (s *SessionService) Login(ctx context.Context, flow domain.AuthFlow) (*domain.AuthResult, error) {
	result, err := flow.Run(ctx)
	if err != nil {
		return nil, err
	}

	if err := adapter.SaveToken(result.Token, result.UserID, result.Email); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info("signed in", "userID", result.UserID)
	return result, nil
}

// Logout clears stored credentials and cached videos
func (s *SessionService) Logout() error {
	if err := adapter.ClearSession(); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Clear(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}

	s.logger.Info("signed out")
	return nil
}
