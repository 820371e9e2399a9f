package feed

import (
	"context"
	"testing"

	"github.com/reelcast/reelcast/internal/adapter/backend/local"
	"github.com/reelcast/reelcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEpisodes(t *testing.T) *Service {
	t.Helper()
	b, err := local.Open(local.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	ctx := context.Background()
	for _, ep := range []domain.Record{
		{"id": "ep-1", "title": "Pilot", "duration_seconds": 95.0, "created_at": "2026-01-01T00:00:00.000000Z"},
		{"id": "ep-2", "title": "The Long Night", "duration_seconds": 120.0, "created_at": "2026-01-02T00:00:00.000000Z"},
		{"id": "ep-3", "title": "Night Shift", "duration_seconds": 64.0, "created_at": "2026-01-03T00:00:00.000000Z"},
	} {
		_, err := b.Insert(ctx, domain.CollectionEpisodes, ep)
		require.NoError(t, err)
	}
	return NewService(b, nil)
}

func TestService_LatestAndGet(t *testing.T) {
	ctx := context.Background()
	s := seedEpisodes(t)

	eps, err := s.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "ep-3", eps[0].ID)
	assert.Equal(t, "ep-2", eps[1].ID)
	assert.Equal(t, "1:04", eps[0].FormattedDuration())

	ep, err := s.Get(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, "Pilot", ep.Title)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilter(t *testing.T) {
	eps := []domain.Episode{
		{ID: "ep-1", Title: "Pilot"},
		{ID: "ep-2", Title: "The Long Night"},
		{ID: "ep-3", Title: "Night Shift"},
	}

	matches := Filter(eps, "NIGHT")
	require.Len(t, matches, 2)
	ids := []string{matches[0].Episode.ID, matches[1].Episode.ID}
	assert.ElementsMatch(t, []string{"ep-2", "ep-3"}, ids)
	assert.Len(t, matches[0].MatchedIndexes, 5)

	assert.Len(t, Filter(eps, ""), 3)
	assert.Empty(t, Filter(eps, "xyz"))
}

func TestSuggest(t *testing.T) {
	eps := []domain.Episode{
		{ID: "ep-1", Title: "Pilot"},
		{ID: "ep-2", Title: "The Long Night"},
	}

	got := Suggest(eps, "pliot")
	require.Len(t, got, 1)
	assert.Equal(t, "ep-1", got[0].ID)

	assert.Empty(t, Suggest(eps, "completely different"))
	assert.Nil(t, Suggest(eps, " "))
}
