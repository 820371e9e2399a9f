package interaction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reelcast/reelcast/internal/domain"
)

// fakeFeed delivers published events to matching subscribers synchronously
type fakeFeed struct {
	mu   sync.Mutex
	next int
	subs map[int]fakeSub
	err  error
}

type fakeSub struct {
	sub     domain.Subscription
	handler domain.ChangeHandler
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[int]fakeSub)}
}

func (f *fakeFeed) Subscribe(_ context.Context, sub domain.Subscription, handler domain.ChangeHandler) (domain.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id := f.next
	f.next++
	f.subs[id] = fakeSub{sub: sub, handler: handler}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}, nil
}

func (f *fakeFeed) Publish(ev domain.ChangeEvent) {
	f.mu.Lock()
	var handlers []domain.ChangeHandler
	for _, s := range f.subs {
		if s.sub.Collection != ev.Collection || !s.sub.Wants(ev.Kind) {
			continue
		}
		if s.sub.Filter != nil {
			// Rows without the filter column are delivered, as the realtime client does
			if _, ok := ev.Row()[s.sub.Filter.Column]; ok && !s.sub.Filter.Matches(ev.Row()) {
				continue
			}
		}
		handlers = append(handlers, s.handler)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (f *fakeFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// fakeStore is an in-memory RecordStore that publishes changes to feed
type fakeStore struct {
	mu     sync.Mutex
	rows   map[string][]domain.Record
	nextID int
	feed   *fakeFeed

	insertErr  error
	deleteErr  error
	countErr   error
	insertGate chan struct{} // When set, Insert waits for it
	keyOnly    bool          // Delete notifications carry only the row id
}

func newFakeStore(feed *fakeFeed) *fakeStore {
	return &fakeStore{rows: make(map[string][]domain.Record), feed: feed}
}

func (s *fakeStore) seed(collection string, rec domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec["id"] = fmt.Sprintf("%s-%d", collection, s.nextID)
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = time.Now().UTC().Add(time.Duration(s.nextID) * time.Millisecond).Format(domain.TimeFormat)
	}
	s.rows[collection] = append(s.rows[collection], rec)
}

func (s *fakeStore) Select(_ context.Context, collection string, q domain.Query) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Record
	for _, r := range s.rows[collection] {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	if q.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *fakeStore) Count(ctx context.Context, collection string, q domain.Query) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	rows, err := s.Select(ctx, collection, q)
	return len(rows), err
}

func (s *fakeStore) Insert(ctx context.Context, collection string, rec domain.Record) (domain.Record, error) {
	if s.insertGate != nil {
		select {
		case <-s.insertGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.insertErr != nil {
		return nil, s.insertErr
	}

	s.mu.Lock()
	if collection == domain.CollectionInteractions {
		for _, r := range s.rows[collection] {
			if r.String("user_id") == rec.String("user_id") &&
				r.String("target_id") == rec.String("target_id") &&
				r.String("target_type") == rec.String("target_type") &&
				r.String("interaction_type") == rec.String("interaction_type") {
				s.mu.Unlock()
				return nil, domain.ErrDuplicate
			}
		}
	}
	s.nextID++
	stored := domain.Record{}
	for k, v := range rec {
		stored[k] = v
	}
	stored["id"] = fmt.Sprintf("%s-%d", collection, s.nextID)
	stored["created_at"] = time.Now().UTC().Format(domain.TimeFormat)
	s.rows[collection] = append(s.rows[collection], stored)
	s.mu.Unlock()

	if s.feed != nil {
		s.feed.Publish(domain.ChangeEvent{Collection: collection, Kind: domain.EventInsert, New: stored})
	}
	return stored, nil
}

func (s *fakeStore) Upsert(ctx context.Context, collection string, rec domain.Record, _ []string) (domain.Record, error) {
	return s.Insert(ctx, collection, rec)
}

func (s *fakeStore) Delete(_ context.Context, collection string, q domain.Query) (int, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}

	s.mu.Lock()
	var kept, removed []domain.Record
	for _, r := range s.rows[collection] {
		if q.Matches(r) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	s.rows[collection] = kept
	s.mu.Unlock()

	if s.feed != nil {
		for _, r := range removed {
			if s.keyOnly {
				r = domain.Record{"id": r["id"]}
			}
			s.feed.Publish(domain.ChangeEvent{Collection: collection, Kind: domain.EventDelete, Old: r})
		}
	}
	return len(removed), nil
}

// fakeProcs answers has_role from a fixed set of moderators
type fakeProcs struct {
	moderators map[string]bool
	calls      []string
}

func (p *fakeProcs) Call(_ context.Context, name string, args map[string]any, out any) error {
	p.calls = append(p.calls, name)
	if name != domain.ProcHasRole {
		return fmt.Errorf("unexpected procedure %s", name)
	}
	if b, ok := out.(*bool); ok {
		*b = p.moderators[fmt.Sprint(args["_user_id"])]
	}
	return nil
}

// countingLimiter allows everything and counts the calls
type countingLimiter struct{ calls atomic.Int32 }

func (l *countingLimiter) Allow(context.Context, string, string) error {
	l.calls.Add(1)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, string) error { return domain.ErrRateLimited }
