package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reelcast/reelcast/internal/domain"
)

// RoleModerator may delete any comment
const RoleModerator = "moderator"

// Comments posts, lists and deletes comments on targets
type Comments struct {
	store    domain.RecordStore
	procs    domain.Procedures
	identity domain.Identity
	limiter  Limiter
	logger   *slog.Logger
}

// NewComments creates a Comments service. limiter may be nil.
func NewComments(store domain.RecordStore, procs domain.Procedures, identity domain.Identity, limiter Limiter, logger *slog.Logger) *Comments {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comments{
		store:    store,
		procs:    procs,
		identity: identity,
		limiter:  limiter,
		logger:   logger,
	}
}

// Post adds a comment to target. parentID is empty for top-level comments.
func (c *Comments) Post(ctx context.Context, target domain.Target, content, parentID string) (domain.Comment, error) {
	self, ok := c.identity.CurrentUser()
	if !ok {
		return domain.Comment{}, domain.ErrNotAuthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" || !target.Type.Valid() || target.ID == "" {
		return domain.Comment{}, domain.ErrInvalidInput
	}
	if c.limiter != nil {
		if err := c.limiter.Allow(ctx, self, ActionComment); err != nil {
			return domain.Comment{}, err
		}
	}

	rec := domain.Record{
		"user_id":      self,
		"content_id":   target.ID,
		"content_type": string(target.Type),
		"content":      content,
	}
	if parentID != "" {
		rec["parent_id"] = parentID
	}

	stored, err := c.store.Insert(ctx, domain.CollectionComments, rec)
	if err != nil {
		return domain.Comment{}, fmt.Errorf("failed to post comment: %w", err)
	}

	c.logger.Info("comment posted", "target", target.String(), "commentID", stored.String("id"))
	return commentFromRecord(stored), nil
}

// List returns the newest comments on target first
func (c *Comments) List(ctx context.Context, target domain.Target, limit int) ([]domain.Comment, error) {
	q := commentQuery(target)
	q.OrderBy = "created_at"
	q.Descending = true
	q.Limit = limit

	rows, err := c.store.Select(ctx, domain.CollectionComments, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	comments := make([]domain.Comment, 0, len(rows))
	for _, row := range rows {
		comments = append(comments, commentFromRecord(row))
	}
	return comments, nil
}

// Delete removes a comment. Only its author or a moderator may delete it.
func (c *Comments) Delete(ctx context.Context, commentID string) error {
	self, ok := c.identity.CurrentUser()
	if !ok {
		return domain.ErrNotAuthenticated
	}

	byID := domain.Query{}.Where(domain.Eq("id", commentID))
	rows, err := c.store.Select(ctx, domain.CollectionComments, byID)
	if err != nil {
		return fmt.Errorf("failed to load comment: %w", err)
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}

	if rows[0].String("user_id") != self {
		var isModerator bool
		err := c.procs.Call(ctx, domain.ProcHasRole, map[string]any{
			"_user_id": self,
			"_role":    RoleModerator,
		}, &isModerator)
		if err != nil {
			return fmt.Errorf("failed to check role: %w", err)
		}
		if !isModerator {
			return domain.ErrForbidden
		}
	}

	if _, err := c.store.Delete(ctx, domain.CollectionComments, byID); err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	c.logger.Info("comment deleted", "commentID", commentID)
	return nil
}

func commentFromRecord(r domain.Record) domain.Comment {
	return domain.Comment{
		ID:          r.String("id"),
		ContentID:   r.String("content_id"),
		ContentType: domain.TargetType(r.String("content_type")),
		UserID:      r.String("user_id"),
		ParentID:    r.String("parent_id"),
		Content:     r.String("content"),
		CreatedAt:   r.Time("created_at"),
	}
}
