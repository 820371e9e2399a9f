package interaction

import (
	"context"
	"testing"

	"github.com/reelcast/reelcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComments_PostAndList(t *testing.T) {
	ctx := context.Background()
	feed := newFakeFeed()
	store := newFakeStore(feed)
	obs := newObservation(t, store, feed, "me")
	c := NewComments(store, &fakeProcs{}, domain.StaticIdentity("me"), nil, nil)

	first, err := c.Post(ctx, ep1, "  first!  ", "")
	require.NoError(t, err)
	assert.Equal(t, "first!", first.Content)
	assert.Equal(t, "me", first.UserID)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.IsReply())

	reply, err := c.Post(ctx, ep1, "agreed", first.ID)
	require.NoError(t, err)
	assert.True(t, reply.IsReply())

	list, err := c.List(ctx, ep1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "agreed", list[0].Content, "newest first")

	assert.Equal(t, 2, obs.State().CommentsCount)
}

func TestComments_PostValidation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(nil)

	_, err := NewComments(store, &fakeProcs{}, domain.StaticIdentity(""), nil, nil).Post(ctx, ep1, "hi", "")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	c := NewComments(store, &fakeProcs{}, domain.StaticIdentity("me"), nil, nil)
	_, err = c.Post(ctx, ep1, "   ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	limited := NewComments(store, &fakeProcs{}, domain.StaticIdentity("me"), denyLimiter{}, nil)
	_, err = limited.Post(ctx, ep1, "hi", "")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestComments_Delete(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(nil)
	procs := &fakeProcs{moderators: map[string]bool{"mod": true}}

	author := NewComments(store, procs, domain.StaticIdentity("me"), nil, nil)
	stranger := NewComments(store, procs, domain.StaticIdentity("u2"), nil, nil)
	moderator := NewComments(store, procs, domain.StaticIdentity("mod"), nil, nil)

	a, err := author.Post(ctx, ep1, "mine", "")
	require.NoError(t, err)
	b, err := author.Post(ctx, ep1, "also mine", "")
	require.NoError(t, err)

	assert.ErrorIs(t, stranger.Delete(ctx, a.ID), domain.ErrForbidden)
	require.NoError(t, author.Delete(ctx, a.ID))
	require.NoError(t, moderator.Delete(ctx, b.ID))
	assert.ErrorIs(t, author.Delete(ctx, a.ID), domain.ErrNotFound)

	list, err := author.List(ctx, ep1, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, []string{domain.ProcHasRole, domain.ProcHasRole}, procs.calls)
}
