package interaction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/reelcast/reelcast/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Action names passed to the Limiter
const (
	ActionLike    = "like"
	ActionComment = "comment"
)

// Limiter refuses actions that exceed a rate (see ratelimit.Limiter)
type Limiter interface {
	Allow(ctx context.Context, userID, action string) error
}

// Observer creates observations of like/comment state
type Observer struct {
	store    domain.RecordStore
	feed     domain.ChangeFeed
	identity domain.Identity
	limiter  Limiter
	logger   *slog.Logger
}

// NewObserver creates an Observer. limiter may be nil.
func NewObserver(store domain.RecordStore, feed domain.ChangeFeed, identity domain.Identity, limiter Limiter, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		store:    store,
		feed:     feed,
		identity: identity,
		limiter:  limiter,
		logger:   logger,
	}
}

// Observation is the live state of one target for one view.
// Observations of the same target are independent of each other.
type Observation struct {
	target   domain.Target
	store    domain.RecordStore
	identity domain.Identity
	limiter  Limiter
	logger   *slog.Logger

	mu      sync.Mutex
	state   LikeState
	toggle  Toggle
	unsubs  []domain.Unsubscribe
	changes chan domain.InteractionState
	closed  bool
}

func likeQuery(target domain.Target) domain.Query {
	return domain.Query{}.Where(
		domain.Eq("target_id", target.ID),
		domain.Eq("target_type", target.Type),
		domain.Eq("interaction_type", domain.InteractionLike),
	)
}

func commentQuery(target domain.Target) domain.Query {
	return domain.Query{}.Where(
		domain.Eq("content_id", target.ID),
		domain.Eq("content_type", target.Type),
	)
}

// Observe seeds the counters of target from the store and subscribes to its
// changes. Seed or subscription failures degrade to zero counts or a static
// view and are only logged.
func (o *Observer) Observe(ctx context.Context, target domain.Target) (*Observation, error) {
	if !target.Type.Valid() || target.ID == "" {
		return nil, domain.ErrInvalidInput
	}

	self, signedIn := o.identity.CurrentUser()

	var likes, comments int
	var ownRow string
	liked := false
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := o.store.Count(gctx, domain.CollectionInteractions, likeQuery(target))
		likes = n
		return err
	})
	g.Go(func() error {
		n, err := o.store.Count(gctx, domain.CollectionComments, commentQuery(target))
		comments = n
		return err
	})
	if signedIn {
		g.Go(func() error {
			q := likeQuery(target).Where(domain.Eq("user_id", self))
			q.Limit = 1
			rows, err := o.store.Select(gctx, domain.CollectionInteractions, q)
			if len(rows) > 0 {
				liked = true
				ownRow = rows[0].String("id")
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn("failed to seed interaction counts", "target", target.String(), "error", err)
	}

	obs := &Observation{
		target:   target,
		store:    o.store,
		identity: o.identity,
		limiter:  o.limiter,
		logger:   o.logger,
		state:    NewLikeState(target, liked, likes, comments).WithOwnRow(ownRow),
		changes:  make(chan domain.InteractionState, 1),
	}

	likeSub := domain.Subscription{
		Collection: domain.CollectionInteractions,
		Events:     []domain.EventKind{domain.EventInsert, domain.EventDelete},
		Filter:     &domain.Filter{Column: "target_id", Op: domain.OpEq, Value: target.ID},
	}
	commentSub := domain.Subscription{
		Collection: domain.CollectionComments,
		Events:     []domain.EventKind{domain.EventInsert, domain.EventDelete},
		Filter:     &domain.Filter{Column: "content_id", Op: domain.OpEq, Value: target.ID},
	}

	for _, sub := range []struct {
		sub     domain.Subscription
		handler domain.ChangeHandler
	}{
		{likeSub, obs.handleLike},
		{commentSub, obs.handleComment},
	} {
		unsub, err := o.feed.Subscribe(ctx, sub.sub, sub.handler)
		if err != nil {
			o.logger.Warn("failed to subscribe to changes",
				"collection", sub.sub.Collection, "target", target.String(), "error", err)
			continue
		}
		obs.unsubs = append(obs.unsubs, unsub)
	}

	o.logger.Debug("observing target", "target", target.String(),
		"likes", likes, "comments", comments, "liked", liked)
	return obs, nil
}

func (obs *Observation) handleLike(ev domain.ChangeEvent) {
	self, _ := obs.identity.CurrentUser()
	obs.apply(func(s LikeState) LikeState { return ApplyLikeEvent(s, ev, self) })
}

func (obs *Observation) handleComment(ev domain.ChangeEvent) {
	obs.apply(func(s LikeState) LikeState { return ApplyCommentEvent(s, ev) })
}

func (obs *Observation) apply(fn func(LikeState) LikeState) {
	obs.mu.Lock()
	if obs.closed {
		obs.mu.Unlock()
		return
	}
	before := obs.state.InteractionState
	obs.state = fn(obs.state)
	after := obs.state.InteractionState
	obs.mu.Unlock()

	if after != before {
		obs.publish(after)
	}
}

// State returns the current snapshot
func (obs *Observation) State() domain.InteractionState {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	return obs.state.InteractionState
}

// Pending reports whether a toggle is in flight
func (obs *Observation) Pending() bool {
	obs.mu.Lock()
	defer obs.mu.Unlock()
	return obs.toggle.Phase == TogglePending
}

// Changes delivers state snapshots. Only the latest undelivered snapshot is kept.
func (obs *Observation) Changes() <-chan domain.InteractionState {
	return obs.changes
}

// publish never blocks: a stale undelivered snapshot is replaced
func (obs *Observation) publish(st domain.InteractionState) {
	for {
		select {
		case obs.changes <- st:
			return
		default:
		}
		select {
		case <-obs.changes:
		default:
		}
	}
}

// ToggleLike flips the like of the current identity, optimistically first.
// Returns ErrNotAuthenticated when signed out, ErrToggleInFlight while a
// previous toggle is pending, and an ErrConnection-wrapped error when the
// mutation failed and the state was reverted.
func (obs *Observation) ToggleLike(ctx context.Context) (domain.InteractionState, error) {
	self, ok := obs.identity.CurrentUser()
	if !ok {
		return obs.State(), domain.ErrNotAuthenticated
	}
	// In-flight toggles are rejected before a rate limit token is taken
	if obs.Pending() {
		return obs.State(), domain.ErrToggleInFlight
	}
	if obs.limiter != nil {
		if err := obs.limiter.Allow(ctx, self, ActionLike); err != nil {
			return obs.State(), err
		}
	}

	obs.mu.Lock()
	next, toggle, err := BeginToggle(obs.state, obs.toggle)
	if err != nil {
		st := obs.state.InteractionState
		obs.mu.Unlock()
		return st, err
	}
	obs.state, obs.toggle = next, toggle
	optimistic := obs.state.InteractionState
	obs.mu.Unlock()
	obs.publish(optimistic)

	var out Outcome
	if toggle.Delta > 0 {
		var rec domain.Record
		rec, out.Err = obs.store.Insert(ctx, domain.CollectionInteractions, domain.Record{
			"user_id":          self,
			"target_id":        obs.target.ID,
			"target_type":      string(obs.target.Type),
			"interaction_type": domain.InteractionLike,
		})
		out.Echoed = out.Err == nil
		out.RowID = rec.String("id")
	} else {
		var n int
		n, out.Err = obs.store.Delete(ctx, domain.CollectionInteractions,
			likeQuery(obs.target).Where(domain.Eq("user_id", self)))
		out.Echoed = out.Err == nil && n > 0
	}

	obs.mu.Lock()
	obs.state, obs.toggle, err = SettleToggle(obs.state, obs.toggle, out)
	settled := obs.state.InteractionState
	obs.mu.Unlock()

	if err != nil {
		obs.logger.Warn("like toggle failed, reverted", "target", obs.target.String(), "error", err)
	}
	if settled != optimistic {
		obs.publish(settled)
	}
	return settled, err
}

// Close unsubscribes from change notifications
func (obs *Observation) Close() {
	obs.mu.Lock()
	if obs.closed {
		obs.mu.Unlock()
		return
	}
	obs.closed = true
	unsubs := obs.unsubs
	obs.unsubs = nil
	obs.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
