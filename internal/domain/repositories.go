package domain

import (
	"context"
)

// RecordStore provides access to the backend's collections
type RecordStore interface {
	// Select returns rows matching the query
	Select(ctx context.Context, collection string, q Query) ([]Record, error)

	// Count returns the number of rows matching the query
	Count(ctx context.Context, collection string, q Query) (int, error)

	// Insert creates a row and returns it as stored.
	// Returns ErrDuplicate on a uniqueness conflict.
	Insert(ctx context.Context, collection string, rec Record) (Record, error)

	// Upsert inserts a row or updates the row conflicting on onConflict columns
	Upsert(ctx context.Context, collection string, rec Record, onConflict []string) (Record, error)

	// Delete removes rows matching the query and returns how many were removed
	Delete(ctx context.Context, collection string, q Query) (int, error)
}

// EventKind is the type of a change notification
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// ChangeEvent is a realtime notification about one row
type ChangeEvent struct {
	Collection string
	Kind       EventKind
	New        Record // Set for inserts and updates
	Old        Record // Set for deletes and updates
}

// Row returns the record the event is about (Old for deletes, New otherwise)
func (e ChangeEvent) Row() Record {
	if e.Kind == EventDelete {
		return e.Old
	}
	return e.New
}

// Subscription selects which change events a handler receives
type Subscription struct {
	Collection string
	Events     []EventKind
	Filter     *Filter // Optional server-side filter (single column)
}

// Wants reports whether the subscription covers the event kind
func (s Subscription) Wants(kind EventKind) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, k := range s.Events {
		if k == kind {
			return true
		}
	}
	return false
}

// ChangeHandler receives change events. Calls for one subscription never overlap.
type ChangeHandler func(ChangeEvent)

// Unsubscribe releases a subscription. Safe to call more than once.
type Unsubscribe func()

// ChangeFeed delivers realtime change notifications
type ChangeFeed interface {
	Subscribe(ctx context.Context, sub Subscription, handler ChangeHandler) (Unsubscribe, error)
}

// Procedures invokes backend remote procedures (opaque success/failure calls).
// out may be nil when the result is not needed.
type Procedures interface {
	Call(ctx context.Context, name string, args map[string]any, out any) error
}

// Remote procedure names
const (
	ProcIncrementEpisodeViews = "increment_episode_views"
	ProcHasRole               = "has_role"
	ProcCheckRateLimit        = "check_rate_limit"
)

// Identity exposes the currently signed-in user
type Identity interface {
	CurrentUser() (userID string, ok bool)
}

// StaticIdentity is a fixed user id ("" means signed out)
type StaticIdentity string

func (s StaticIdentity) CurrentUser() (string, bool) {
	return string(s), s != ""
}

// AuthResult contains the result of a successful sign-in
type AuthResult struct {
	Token  string // Access token for API calls
	UserID string // Stable user identifier
	Email  string // Display email
}

// AuthFlow signs a user in and returns credentials
type AuthFlow interface {
	Run(ctx context.Context) (*AuthResult, error)
}
