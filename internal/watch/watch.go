// Package watch records per-user playback positions and builds the
// continue-watching list.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
)

const (
	// MinProgressSeconds is the position an episode must pass to be resumable
	MinProgressSeconds = 5
	// MinDurationSeconds excludes clips too short to be worth resuming
	MinDurationSeconds = 30
	// ContinueWatchingLimit caps the continue-watching list
	ContinueWatchingLimit = 10
)

var conflictColumns = []string{"user_id", "episode_id"}

// Tracker reads and writes watch_progress for the current identity
type Tracker struct {
	store    domain.RecordStore
	identity domain.Identity
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker creates a Tracker
func NewTracker(store domain.RecordStore, identity domain.Identity, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    store,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Record stores the playback position of episodeID, replacing any previous one
func (t *Tracker) Record(ctx context.Context, episodeID string, progress, duration float64) (domain.WatchProgress, error) {
	user, ok := t.identity.CurrentUser()
	if !ok {
		return domain.WatchProgress{}, domain.ErrNotAuthenticated
	}
	if episodeID == "" || progress < 0 || duration < 0 {
		return domain.WatchProgress{}, domain.ErrInvalidInput
	}

	rec := domain.Record{
		"user_id":          user,
		"episode_id":       episodeID,
		"progress_seconds": progress,
		"duration_seconds": duration,
		"last_watched_at":  t.now().UTC().Format(domain.TimeFormat),
	}
	stored, err := t.store.Upsert(ctx, domain.CollectionWatchProgress, rec, conflictColumns)
	if err != nil {
		return domain.WatchProgress{}, fmt.Errorf("failed to record progress: %w", err)
	}

	t.logger.Debug("watch progress recorded", "episodeID", episodeID, "progress", progress, "duration", duration)
	return fromRecord(stored), nil
}

// Get returns the stored position of episodeID
func (t *Tracker) Get(ctx context.Context, episodeID string) (domain.WatchProgress, error) {
	user, ok := t.identity.CurrentUser()
	if !ok {
		return domain.WatchProgress{}, domain.ErrNotAuthenticated
	}

	rows, err := t.store.Select(ctx, domain.CollectionWatchProgress, t.rowQuery(user, episodeID))
	if err != nil {
		return domain.WatchProgress{}, fmt.Errorf("failed to load progress: %w", err)
	}
	if len(rows) == 0 {
		return domain.WatchProgress{}, domain.ErrNotFound
	}
	return fromRecord(rows[0]), nil
}

// ContinueWatching returns partially watched episodes, most recent first.
// Signed-out users get an empty list.
func (t *Tracker) ContinueWatching(ctx context.Context) ([]domain.WatchProgress, error) {
	user, ok := t.identity.CurrentUser()
	if !ok {
		return nil, nil
	}

	q := domain.Query{
		Filters: []domain.Filter{
			domain.Eq("user_id", user),
			domain.Gt("progress_seconds", MinProgressSeconds),
			domain.Gte("duration_seconds", MinDurationSeconds),
		},
		OrderBy:    "last_watched_at",
		Descending: true,
		Limit:      ContinueWatchingLimit,
	}
	rows, err := t.store.Select(ctx, domain.CollectionWatchProgress, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load continue watching: %w", err)
	}

	list := make([]domain.WatchProgress, 0, len(rows))
	for _, row := range rows {
		list = append(list, fromRecord(row))
	}
	return list, nil
}

// Remove deletes the progress row of episodeID for the current user
func (t *Tracker) Remove(ctx context.Context, episodeID string) error {
	user, ok := t.identity.CurrentUser()
	if !ok {
		return domain.ErrNotAuthenticated
	}

	if _, err := t.store.Delete(ctx, domain.CollectionWatchProgress, t.rowQuery(user, episodeID)); err != nil {
		return fmt.Errorf("failed to remove progress: %w", err)
	}
	t.logger.Info("removed from continue watching", "episodeID", episodeID)
	return nil
}

// WithoutEpisode returns list minus the entry for episodeID, leaving the others in order
func WithoutEpisode(list []domain.WatchProgress, episodeID string) []domain.WatchProgress {
	out := make([]domain.WatchProgress, 0, len(list))
	for _, wp := range list {
		if wp.EpisodeID != episodeID {
			out = append(out, wp)
		}
	}
	return out
}

func (t *Tracker) rowQuery(user, episodeID string) domain.Query {
	return domain.Query{}.Where(domain.Eq("user_id", user), domain.Eq("episode_id", episodeID))
}

func fromRecord(r domain.Record) domain.WatchProgress {
	return domain.WatchProgress{
		UserID:          r.String("user_id"),
		EpisodeID:       r.String("episode_id"),
		ProgressSeconds: r.Float("progress_seconds"),
		DurationSeconds: r.Float("duration_seconds"),
		LastWatchedAt:   r.Time("last_watched_at"),
	}
}
