package domain

import (
	"fmt"
	"time"
)

// TimeFormat is the fixed-width UTC layout used for timestamps written to the
// record store. Fixed width keeps lexical and chronological order identical.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// TargetType distinguishes the kinds of content that can be liked or commented on
type TargetType string

const (
	TargetEpisode TargetType = "episode"
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
)

// Valid reports whether t is a known target type
func (t TargetType) Valid() bool {
	switch t {
	case TargetEpisode, TargetPost, TargetComment:
		return true
	default:
		return false
	}
}

// ParseTargetType converts user input into a TargetType
func ParseTargetType(s string) (TargetType, error) {
	t := TargetType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown target type %q", ErrInvalidInput, s)
	}
	return t, nil
}

// Target identifies a likeable/commentable piece of content
type Target struct {
	ID   string
	Type TargetType
}

func (t Target) String() string {
	return string(t.Type) + ":" + t.ID
}

// InteractionState is the locally mirrored like/comment state of a target.
// Owned by a single observation and never shared between observations.
type InteractionState struct {
	TargetID      string
	TargetType    TargetType
	IsLiked       bool // Whether the current identity has liked the target
	LikesCount    int  // Never negative
	CommentsCount int  // Never negative
}

// Episode is a short-form video in the feed
type Episode struct {
	ID              string
	Title           string
	Description     string
	VideoURL        string // Source URL supporting byte-range requests
	ThumbnailURL    string
	DurationSeconds float64
	ViewsCount      int
	CreatedAt       time.Time
}

// FormattedDuration returns the duration in a human-readable format
func (e Episode) FormattedDuration() string {
	d := time.Duration(e.DurationSeconds * float64(time.Second))
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}

// Comment is a user comment on a target. ParentID is set for replies.
type Comment struct {
	ID          string
	ContentID   string
	ContentType TargetType
	UserID      string
	ParentID    string
	Content     string
	CreatedAt   time.Time
}

// IsReply returns true if the comment answers another comment
func (c Comment) IsReply() bool {
	return c.ParentID != ""
}

// WatchProgress is the playback position of one user in one episode
type WatchProgress struct {
	UserID          string
	EpisodeID       string
	ProgressSeconds float64
	DurationSeconds float64
	LastWatchedAt   time.Time
}

// Offset returns the resume position as a duration
func (w WatchProgress) Offset() time.Duration {
	return time.Duration(w.ProgressSeconds * float64(time.Second))
}

// PercentWatched returns progress as 0-100
func (w WatchProgress) PercentWatched() int {
	if w.DurationSeconds <= 0 {
		return 0
	}
	pct := int(w.ProgressSeconds / w.DurationSeconds * 100)
	if pct > 100 {
		return 100
	}
	return pct
}
