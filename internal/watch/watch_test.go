package watch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/reelcast/reelcast/internal/adapter/backend/local"
	"github.com/reelcast/reelcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, user string) *Tracker {
	t.Helper()
	b, err := local.Open(local.Options{UserID: user})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	tr := NewTracker(b, b, nil)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return tr
}

func episodeIDs(list []domain.WatchProgress) []string {
	ids := make([]string, len(list))
	for i, wp := range list {
		ids[i] = wp.EpisodeID
	}
	return ids
}

func TestTracker_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, "me")

	_, err := tr.Get(ctx, "ep-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = tr.Record(ctx, "ep-1", 12, 120)
	require.NoError(t, err)
	wp, err := tr.Record(ctx, "ep-1", 48.5, 120)
	require.NoError(t, err)
	assert.Equal(t, 48.5, wp.ProgressSeconds)

	got, err := tr.Get(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 48.5, got.ProgressSeconds)
	assert.Equal(t, 120.0, got.DurationSeconds)
	assert.Equal(t, "me", got.UserID)
	assert.Equal(t, 40, got.PercentWatched())
	assert.Equal(t, time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC), got.LastWatchedAt)
}

func TestTracker_ContinueWatching(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, "me")

	_, err := tr.Record(ctx, "barely-started", 5, 600) // not past 5s
	require.NoError(t, err)
	_, err = tr.Record(ctx, "short-clip", 10, 20) // under 30s
	require.NoError(t, err)
	for i := 1; i <= 12; i++ {
		_, err = tr.Record(ctx, fmt.Sprintf("ep-%d", i), 30, 300)
		require.NoError(t, err)
	}

	list, err := tr.ContinueWatching(ctx)
	require.NoError(t, err)
	require.Len(t, list, ContinueWatchingLimit)
	assert.Equal(t, "ep-12", list[0].EpisodeID, "most recent first")
	assert.Equal(t, "ep-3", list[9].EpisodeID)
	assert.NotContains(t, episodeIDs(list), "barely-started")
	assert.NotContains(t, episodeIDs(list), "short-clip")
}

func TestTracker_RemoveExactlyOne(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, "me")
	other := NewTracker(tr.store, domain.StaticIdentity("u2"), nil)

	for _, id := range []string{"ep-1", "ep-2", "ep-3"} {
		_, err := tr.Record(ctx, id, 60, 300)
		require.NoError(t, err)
	}
	_, err := other.Record(ctx, "ep-2", 60, 300)
	require.NoError(t, err)

	before, err := tr.ContinueWatching(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Remove(ctx, "ep-2"))

	after, err := tr.ContinueWatching(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ep-3", "ep-1"}, episodeIDs(after))
	assert.Equal(t, after, WithoutEpisode(before, "ep-2"))

	theirs, err := other.ContinueWatching(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ep-2"}, episodeIDs(theirs), "other users are untouched")
}

func TestTracker_SignedOut(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, "")

	_, err := tr.Record(ctx, "ep-1", 10, 100)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.ErrorIs(t, tr.Remove(ctx, "ep-1"), domain.ErrNotAuthenticated)

	list, err := tr.ContinueWatching(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWithoutEpisode(t *testing.T) {
	list := []domain.WatchProgress{{EpisodeID: "a"}, {EpisodeID: "b"}, {EpisodeID: "c"}}
	assert.Equal(t, []string{"a", "c"}, episodeIDs(WithoutEpisode(list, "b")))
	assert.Equal(t, []string{"a", "b", "c"}, episodeIDs(WithoutEpisode(list, "zzz")))
	assert.Len(t, list, 3)
}
