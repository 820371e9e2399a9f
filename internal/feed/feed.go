// Package feed lists episodes and filters them by title.
package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reelcast/reelcast/internal/domain"
)

// DefaultLimit is the page size used when none is given
const DefaultLimit = 50

// Service reads episodes from the record store
type Service struct {
	store  domain.RecordStore
	logger *slog.Logger
}

// NewService creates a feed service
func NewService(store domain.RecordStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Latest returns the newest episodes first
func (s *Service) Latest(ctx context.Context, limit int) ([]domain.Episode, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.store.Select(ctx, domain.CollectionEpisodes, domain.Query{
		OrderBy:    "created_at",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
	}

	episodes := make([]domain.Episode, 0, len(rows))
	for _, row := range rows {
		episodes = append(episodes, episodeFromRecord(row))
	}
	s.logger.Debug("loaded feed", "count", len(episodes))
	return episodes, nil
}

// Get returns one episode
func (s *Service) Get(ctx context.Context, id string) (domain.Episode, error) {
	rows, err := s.store.Select(ctx, domain.CollectionEpisodes, domain.Query{}.Where(domain.Eq("id", id)))
	if err != nil {
		return domain.Episode{}, fmt.Errorf("failed to load episode: %w", err)
	}
	if len(rows) == 0 {
		return domain.Episode{}, fmt.Errorf("episode %s: %w", id, domain.ErrNotFound)
	}
	return episodeFromRecord(rows[0]), nil
}

func episodeFromRecord(r domain.Record) domain.Episode {
	return domain.Episode{
		ID:              r.String("id"),
		Title:           r.String("title"),
		Description:     r.String("description"),
		VideoURL:        r.String("video_url"),
		ThumbnailURL:    r.String("thumbnail_url"),
		DurationSeconds: r.Float("duration_seconds"),
		ViewsCount:      r.Int("views_count"),
		CreatedAt:       r.Time("created_at"),
	}
}
