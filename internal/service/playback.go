package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
	"github.com/reelcast/reelcast/internal/loader"
)

// launcher abstracts media player launching (consumer-defined interface)
type launcher interface {
	Launch(url string, startOffset time.Duration) error
}

// progressStore reads and writes watch positions
type progressStore interface {
	Get(ctx context.Context, episodeID string) (domain.WatchProgress, error)
	Record(ctx context.Context, episodeID string, progress, duration float64) (domain.WatchProgress, error)
}

// PlaybackService orchestrates playback: view counting, progressive loading,
// resume offsets and the external player
type PlaybackService struct {
	launcher launcher
	loader   *loader.Loader
	progress progressStore
	procs    domain.Procedures
	logger   *slog.Logger
}

// NewPlaybackService creates a new playback service
func NewPlaybackService(
	launcher launcher,
	videos *loader.Loader,
	progress progressStore,
	procs domain.Procedures,
	logger *slog.Logger,
) *PlaybackService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackService{
		launcher: launcher,
		loader:   videos,
		progress: progress,
		procs:    procs,
		logger:   logger,
	}
}

// Playback is a launched video. The loader session keeps the object URL
// served until Close.
type Playback struct {
	Episode domain.Episode
	URL     string
	Offset  time.Duration
	session *loader.Session
}

// Close releases the cached blob served to the player
func (p *Playback) Close() {
	p.session.Close()
}

// Play starts playback of an episode from the beginning
func (s *PlaybackService) Play(ctx context.Context, ep domain.Episode, onChange func(loader.State)) (*Playback, error) {
	return s.play(ctx, ep, false, onChange)
}

// Resume starts playback from the saved position
func (s *PlaybackService) Resume(ctx context.Context, ep domain.Episode, onChange func(loader.State)) (*Playback, error) {
	return s.play(ctx, ep, true, onChange)
}

func (s *PlaybackService) play(ctx context.Context, ep domain.Episode, resume bool, onChange func(loader.State)) (*Playback, error) {
	if ep.ID == "" || ep.VideoURL == "" {
		return nil, fmt.Errorf("%w: episode has no video", domain.ErrInvalidInput)
	}

	s.countView(ctx, ep.ID)

	var offset time.Duration
	if resume {
		offset = s.resumeOffset(ctx, ep.ID)
	}

	session := s.loader.NewSession(onChange)
	session.Load(ep.ID, ep.VideoURL)

	// The external player cannot switch sources, so wait for the final one
	if err := session.Wait(ctx); err != nil {
		session.Close()
		return nil, err
	}

	st := session.State()
	url := st.SourceURL
	if st.Phase == loader.PhasePartial {
		// The full download failed; a prefix would stop mid-video
		s.logger.Warn("full video unavailable, streaming from source", "episodeID", ep.ID)
		url = ep.VideoURL
	}

	s.logger.Info("launching playback", "title", ep.Title, "episodeID", ep.ID, "phase", st.Phase, "offset", offset)

	if err := s.launcher.Launch(url, offset); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to launch player: %w", err)
	}

	return &Playback{Episode: ep, URL: url, Offset: offset, session: session}, nil
}

// countView bumps the episode's view counter. Failures never block playback.
func (s *PlaybackService) countView(ctx context.Context, episodeID string) {
	if s.procs == nil {
		return
	}
	err := s.procs.Call(ctx, domain.ProcIncrementEpisodeViews, map[string]any{"episode_id": episodeID}, nil)
	if err != nil {
		s.logger.Warn("failed to count view", "episodeID", episodeID, "error", err)
	}
}

// resumeOffset returns the stored position, or 0 when there is none
func (s *PlaybackService) resumeOffset(ctx context.Context, episodeID string) time.Duration {
	wp, err := s.progress.Get(ctx, episodeID)
	switch {
	case err == nil:
		return wp.Offset()
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotAuthenticated):
		return 0
	default:
		s.logger.Warn("failed to load resume position", "episodeID", episodeID, "error", err)
		return 0
	}
}

// RecordProgress stores the playback position of an episode
func (s *PlaybackService) RecordProgress(ctx context.Context, episodeID string, position, duration time.Duration) error {
	_, err := s.progress.Record(ctx, episodeID, position.Seconds(), duration.Seconds())
	return err
}
