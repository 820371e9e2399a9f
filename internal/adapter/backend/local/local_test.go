package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/reelcast/reelcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBackend(t *testing.T, user string) *Backend {
	t.Helper()
	b, err := Open(Options{UserID: user})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func like(user, target string) domain.Record {
	return domain.Record{
		"user_id":          user,
		"target_id":        target,
		"target_type":      "episode",
		"interaction_type": domain.InteractionLike,
	}
}

func TestBackend_InsertSelectCount(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t, "me")

	stored, err := b.Insert(ctx, domain.CollectionInteractions, like("me", "ep-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, stored.String("id"))
	assert.False(t, stored.Time("created_at").IsZero())

	_, err = b.Insert(ctx, domain.CollectionInteractions, like("u2", "ep-1"))
	require.NoError(t, err)
	_, err = b.Insert(ctx, domain.CollectionInteractions, like("u2", "ep-2"))
	require.NoError(t, err)

	q := domain.Query{}.Where(domain.Eq("target_id", "ep-1"), domain.Eq("target_type", domain.TargetEpisode))
	n, err := b.Count(ctx, domain.CollectionInteractions, q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := b.Select(ctx, domain.CollectionInteractions, q.Where(domain.Eq("user_id", "me")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stored, rows[0])
}

func TestBackend_DuplicateInsert(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t, "me")

	_, err := b.Insert(ctx, domain.CollectionInteractions, like("me", "ep-1"))
	require.NoError(t, err)
	_, err = b.Insert(ctx, domain.CollectionInteractions, like("me", "ep-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestBackend_RejectsUnknownColumns(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t, "me")

	_, err := b.Insert(ctx, domain.CollectionComments, domain.Record{"content; DROP TABLE comments": "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = b.Select(ctx, "nope", domain.Query{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = b.Select(ctx, domain.CollectionComments, domain.Query{OrderBy: "1; --"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBackend_UpsertAndOrdering(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t, "me")

	var kinds []domain.EventKind
	unsub, err := b.Subscribe(ctx, domain.Subscription{Collection: domain.CollectionWatchProgress}, func(ev domain.ChangeEvent) {
		kinds = append(kinds, ev.Kind)
	})
	require.NoError(t, err)
	defer unsub()

	rec := domain.Record{
		"user_id": "me", "episode_id": "ep-1",
		"progress_seconds": 10.0, "duration_seconds": 60.0,
		"last_watched_at": "2026-01-01T10:00:00.000000Z",
	}
	first, err := b.Upsert(ctx, domain.CollectionWatchProgress, rec, []string{"user_id", "episode_id"})
	require.NoError(t, err)

	rec["progress_seconds"] = 42.5
	rec["last_watched_at"] = "2026-01-02T10:00:00.000000Z"
	second, err := b.Upsert(ctx, domain.CollectionWatchProgress, rec, []string{"user_id", "episode_id"})
	require.NoError(t, err)
	assert.Equal(t, first.String("id"), second.String("id"))
	assert.Equal(t, 42.5, second.Float("progress_seconds"))

	_, err = b.Upsert(ctx, domain.CollectionWatchProgress, domain.Record{
		"user_id": "me", "episode_id": "ep-2",
		"progress_seconds": 3.0, "duration_seconds": 60.0,
		"last_watched_at": "2026-01-03T10:00:00.000000Z",
	}, []string{"user_id", "episode_id"})
	require.NoError(t, err)

	rows, err := b.Select(ctx, domain.CollectionWatchProgress, domain.Query{
		Filters:    []domain.Filter{domain.Eq("user_id", "me"), domain.Gt("progress_seconds", 5)},
		OrderBy:    "last_watched_at",
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ep-1", rows[0].String("episode_id"))

	assert.Equal(t, []domain.EventKind{domain.EventInsert, domain.EventUpdate, domain.EventInsert}, kinds)
}

func TestBackend_DeletePublishesOldRows(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t, "me")

	var got []domain.ChangeEvent
	unsub, err := b.Subscribe(ctx, domain.Subscription{
		Collection: domain.CollectionInteractions,
		Events:     []domain.EventKind{domain.EventDelete},
		Filter:     &domain.Filter{Column: "target_id", Op: domain.OpEq, Value: "ep-1"},
	}, func(ev domain.ChangeEvent) { got = append(got, ev) })
	require.NoError(t, err)

	_, err = b.Insert(ctx, domain.CollectionInteractions, like("me", "ep-1"))
	require.NoError(t, err)
	_, err = b.Insert(ctx, domain.CollectionInteractions, like("me", "ep-2"))
	require.NoError(t, err)

	n, err := b.Delete(ctx, domain.CollectionInteractions, domain.Query{}.Where(domain.Eq("user_id", "me")))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, got, 1, "filtered to ep-1 deletes")
	assert.Equal(t, "me", got[0].Old.String("user_id"))
	assert.Equal(t, "ep-1", got[0].Row().String("target_id"))

	unsub()
	unsub()
	_, err = b.Insert(ctx, domain.CollectionInteractions, like("me", "ep-1"))
	require.NoError(t, err)
	_, err = b.Delete(ctx, domain.CollectionInteractions, domain.Query{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBackend_Procedures(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t, "me")

	_, err := b.Insert(ctx, domain.CollectionEpisodes, domain.Record{"id": "ep-1", "title": "Pilot", "video_url": "https://cdn/ep-1.mp4"})
	require.NoError(t, err)
	require.NoError(t, b.Call(ctx, domain.ProcIncrementEpisodeViews, map[string]any{"episode_id": "ep-1"}, nil))
	require.NoError(t, b.Call(ctx, domain.ProcIncrementEpisodeViews, map[string]any{"episode_id": "ep-1"}, nil))
	assert.ErrorIs(t, b.Call(ctx, domain.ProcIncrementEpisodeViews, map[string]any{"episode_id": "missing"}, nil), domain.ErrNotFound)

	rows, err := b.Select(ctx, domain.CollectionEpisodes, domain.Query{}.Where(domain.Eq("id", "ep-1")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Int("views_count"))

	var isMod bool
	require.NoError(t, b.Call(ctx, domain.ProcHasRole, map[string]any{"_user_id": "me", "_role": "moderator"}, &isMod))
	assert.False(t, isMod)

	_, err = b.Insert(ctx, CollectionUserRoles, domain.Record{"user_id": "me", "role": "moderator"})
	require.NoError(t, err)
	require.NoError(t, b.Call(ctx, domain.ProcHasRole, map[string]any{"_user_id": "me", "_role": "moderator"}, &isMod))
	assert.True(t, isMod)

	var allowed bool
	require.NoError(t, b.Call(ctx, domain.ProcCheckRateLimit, map[string]any{"p_user_id": "me", "p_action": "like"}, &allowed))
	assert.True(t, allowed)

	assert.ErrorIs(t, b.Call(ctx, "drop_everything", nil, nil), domain.ErrNotFound)
}

func TestBackend_PersistsToFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "reelcast.db")

	b, err := Open(Options{Path: path})
	require.NoError(t, err)
	_, err = b.Insert(ctx, domain.CollectionComments, domain.Record{
		"user_id": "me", "content_id": "ep-1", "content_type": "episode", "content": "hello",
	})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	reopened, err := Open(Options{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count(ctx, domain.CollectionComments, domain.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := reopened.CurrentUser()
	assert.False(t, ok)
}
