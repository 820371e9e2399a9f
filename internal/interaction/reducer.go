// Package interaction keeps like and comment state of a target consistent with
// the shared record store using optimistic updates and change notifications.
package interaction

import (
	"errors"
	"fmt"

	"github.com/reelcast/reelcast/internal/domain"
)

// LikeState is the mirrored state of one observed target plus the echoes
// still expected from this observation's own mutations.
type LikeState struct {
	domain.InteractionState

	ownRow string // id of the identity's like row, when known
	echoes []echo
}

// echo is a change event this observation caused and must not count again.
// rowID is empty until the mutation returns and then matches any own event of kind.
type echo struct {
	kind  domain.EventKind
	rowID string
}

// maxEchoes bounds expectations left behind by notifications that never arrived
const maxEchoes = 4

// NewLikeState seeds a state from fresh counts
func NewLikeState(target domain.Target, liked bool, likes, comments int) LikeState {
	return LikeState{InteractionState: domain.InteractionState{
		TargetID:      target.ID,
		TargetType:    target.Type,
		IsLiked:       liked,
		LikesCount:    max(likes, 0),
		CommentsCount: max(comments, 0),
	}}
}

// WithOwnRow records the id of the identity's existing like row
func (s LikeState) WithOwnRow(id string) LikeState {
	s.ownRow = id
	return s
}

// inScope reports whether row belongs to the observed target. Deletes may
// carry only the primary key; those are trusted to the subscription filter.
func inScope(row domain.Record, kind domain.EventKind, column, want string) bool {
	if _, ok := row[column]; !ok && kind == domain.EventDelete {
		return true
	}
	return row.String(column) == want
}

// ownEvent reports whether row is the like of self. Without user_id the
// row id is compared against the known own row.
func ownEvent(s LikeState, row domain.Record, self string) bool {
	if self == "" {
		return false
	}
	if _, ok := row["user_id"]; ok {
		return row.String("user_id") == self
	}
	return s.ownRow != "" && row.String("id") == s.ownRow
}

// ApplyLikeEvent folds an interactions change event into s.
// Events for other targets or interaction types are ignored.
func ApplyLikeEvent(s LikeState, ev domain.ChangeEvent, self string) LikeState {
	row := ev.Row()
	if !inScope(row, ev.Kind, "target_id", s.TargetID) ||
		!inScope(row, ev.Kind, "target_type", string(s.TargetType)) ||
		!inScope(row, ev.Kind, "interaction_type", domain.InteractionLike) {
		return s
	}
	id := row.String("id")
	own := ownEvent(s, row, self)

	switch ev.Kind {
	case domain.EventInsert:
		if own {
			s.ownRow = id
			if s, ok := s.consumeEcho(ev.Kind, id); ok {
				return s
			}
			s.IsLiked = true
		}
		s.LikesCount++
	case domain.EventDelete:
		s = s.forgetRow(id)
		if own {
			if id == s.ownRow {
				s.ownRow = ""
			}
			if s, ok := s.consumeEcho(ev.Kind, id); ok {
				return s
			}
			s.IsLiked = false
		}
		s.LikesCount = max(s.LikesCount-1, 0)
	}
	return s
}

// ApplyCommentEvent folds a comments change event into s
func ApplyCommentEvent(s LikeState, ev domain.ChangeEvent) LikeState {
	row := ev.Row()
	if !inScope(row, ev.Kind, "content_id", s.TargetID) ||
		!inScope(row, ev.Kind, "content_type", string(s.TargetType)) {
		return s
	}

	switch ev.Kind {
	case domain.EventInsert:
		s.CommentsCount++
	case domain.EventDelete:
		s.CommentsCount = max(s.CommentsCount-1, 0)
	}
	return s
}

func (s LikeState) expectEcho(e echo) LikeState {
	s.echoes = append(append([]echo(nil), s.echoes...), e)
	if len(s.echoes) > maxEchoes {
		s.echoes = s.echoes[len(s.echoes)-maxEchoes:]
	}
	return s
}

// consumeEcho removes the first expectation matching an own event
func (s LikeState) consumeEcho(kind domain.EventKind, rowID string) (LikeState, bool) {
	for i, e := range s.echoes {
		if e.kind == kind && (e.rowID == "" || e.rowID == rowID) {
			s.echoes = append(append([]echo(nil), s.echoes[:i]...), s.echoes[i+1:]...)
			return s, true
		}
	}
	return s, false
}

// forgetRow drops insert expectations for a row that no longer exists
func (s LikeState) forgetRow(rowID string) LikeState {
	if rowID == "" {
		return s
	}
	kept := make([]echo, 0, len(s.echoes))
	for _, e := range s.echoes {
		if e.kind == domain.EventInsert && e.rowID == rowID {
			continue
		}
		kept = append(kept, e)
	}
	s.echoes = kept
	return s
}

// dropEcho removes the expectation of a toggle that produced no event
func (s LikeState) dropEcho(t Toggle) LikeState {
	for i, e := range s.echoes {
		if e == t.echo {
			s.echoes = append(append([]echo(nil), s.echoes[:i]...), s.echoes[i+1:]...)
			break
		}
	}
	return s
}

// TogglePhase is the state of a like toggle
type TogglePhase int

const (
	ToggleIdle TogglePhase = iota
	TogglePending
)

// Toggle tracks one in-flight like toggle
type Toggle struct {
	Phase    TogglePhase
	Previous bool // isLiked before the toggle
	Delta    int  // +1 for like, -1 for unlike

	echo echo
}

// Outcome is what the like mutation reported
type Outcome struct {
	Err    error
	Echoed bool   // A row changed, so a change event will follow
	RowID  string // Id of the inserted row
}

// BeginToggle applies the optimistic flip. Rejects while another toggle is pending.
func BeginToggle(s LikeState, t Toggle) (LikeState, Toggle, error) {
	if t.Phase == TogglePending {
		return s, t, domain.ErrToggleInFlight
	}

	t = Toggle{Phase: TogglePending, Previous: s.IsLiked, Delta: 1, echo: echo{kind: domain.EventInsert}}
	if s.IsLiked {
		t.Delta = -1
		t.echo = echo{kind: domain.EventDelete, rowID: s.ownRow}
	}

	s.IsLiked = !s.IsLiked
	s.LikesCount = max(s.LikesCount+t.Delta, 0)
	s = s.expectEcho(t.echo)
	return s, t, nil
}

// SettleToggle resolves a pending toggle with the mutation outcome.
// A duplicate conflict keeps the optimistic state; any other error reverts
// it and is returned wrapped in domain.ErrConnection.
func SettleToggle(s LikeState, t Toggle, out Outcome) (LikeState, Toggle, error) {
	if t.Phase != TogglePending {
		return s, t, nil
	}

	switch {
	case out.Err == nil:
		if !out.Echoed {
			return s.dropEcho(t), Toggle{}, nil
		}
		if t.Delta > 0 {
			s.ownRow = out.RowID
			for i, e := range s.echoes {
				if e == t.echo {
					s.echoes = append([]echo(nil), s.echoes...)
					s.echoes[i].rowID = out.RowID
					break
				}
			}
		}
		return s, Toggle{}, nil

	case errors.Is(out.Err, domain.ErrDuplicate):
		return s.dropEcho(t), Toggle{}, nil
	}

	s.IsLiked = t.Previous
	s.LikesCount = max(s.LikesCount-t.Delta, 0)
	s = s.dropEcho(t)

	err := out.Err
	if !errors.Is(err, domain.ErrConnection) {
		err = fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	return s, Toggle{}, err
}
