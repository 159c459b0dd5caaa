// Package comments handles public discussion on transactions: posting with a
// per-author sliding rate window, soft deletion and paginated listing.
package comments

import (
	"context"
	stderrors "errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/civicwatch/fundwatch/internal/app/domain/comment"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/storage"
	"github.com/civicwatch/fundwatch/internal/errors"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

// Listing defaults and caps.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service manages comment posting, listing and moderation.
type Service struct {
	comments     storage.CommentStore
	transactions storage.TransactionStore
	log          *logger.Logger
	now          func() time.Time
}

// New constructs a comments service.
func New(comments storage.CommentStore, transactions storage.TransactionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("comments")
	}
	return &Service{comments: comments, transactions: transactions, log: log, now: time.Now}
}

// Post records a comment on a transaction. The text is trimmed, bounds are
// checked against the trimmed length and HTML metacharacters are escaped
// before storage. Authors are limited to a fixed number of comments per
// sliding window; hidden comments still count toward the window.
func (s *Service) Post(ctx context.Context, author user.User, transactionID, text string) (comment.Comment, error) {
	text = strings.TrimSpace(text)
	// Bounds are in characters, not bytes, so multi-byte text is judged
	// the same as ASCII.
	length := utf8.RuneCountInString(text)
	if length < comment.MinLength {
		return comment.Comment{}, errors.Validation(
			fmt.Sprintf("Comment must be at least %d characters.", comment.MinLength))
	}
	if length > comment.MaxLength {
		return comment.Comment{}, errors.Validation(
			fmt.Sprintf("Comment must be at most %d characters.", comment.MaxLength))
	}

	if _, err := s.transactions.GetTransaction(ctx, transactionID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return comment.Comment{}, errors.NotFound("Transaction not found.")
		}
		return comment.Comment{}, errors.Internal("", err)
	}

	since := s.now().Add(-comment.Window)
	recent, err := s.comments.CountCommentsByAuthorSince(ctx, author.ID, since)
	if err != nil {
		return comment.Comment{}, errors.Internal("", err)
	}
	if recent >= comment.BurstPerWindow {
		s.log.LogSecurityEvent(ctx, "comment_rate_limited", map[string]interface{}{
			"author": author.ID, "recent": recent,
		})
		return comment.Comment{}, errors.RateLimited("You are commenting too fast. Please wait a minute.")
	}

	created, err := s.comments.CreateComment(ctx, comment.Comment{
		TransactionID: transactionID,
		UserID:        author.ID,
		UserName:      author.Name,
		Text:          html.EscapeString(text),
	})
	if err != nil {
		return comment.Comment{}, errors.Internal("", err)
	}

	s.log.WithField("comment_id", created.ID).
		WithField("transaction_id", transactionID).
		WithField("author", author.ID).
		Info("comment posted")
	return created, nil
}

// Delete hides a comment. Authors may hide their own comments; admins may
// hide any. The record is kept and marked moderated when an admin removes
// someone else's comment.
func (s *Service) Delete(ctx context.Context, actor user.User, transactionID, id string) (comment.Comment, error) {
	c, err := s.comments.GetComment(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return comment.Comment{}, errors.NotFound("Comment not found.")
		}
		return comment.Comment{}, errors.Internal("", err)
	}
	if c.TransactionID != transactionID {
		return comment.Comment{}, errors.NotFound("Comment not found.")
	}

	own := c.UserID == actor.ID
	if own && !user.Can(actor.Role, user.ActionDeleteOwnComment) {
		return comment.Comment{}, errors.Forbidden("")
	}
	if !own && !user.Can(actor.Role, user.ActionDeleteAnyComment) {
		return comment.Comment{}, errors.Forbidden("You can only delete your own comments.")
	}
	if c.Hidden {
		return c, nil
	}

	hidden, err := s.comments.HideComment(ctx, id, !own)
	if err != nil {
		return comment.Comment{}, errors.Internal("", err)
	}
	if !own {
		s.log.LogSecurityEvent(ctx, "comment_moderated", map[string]interface{}{
			"comment_id": id, "actor": actor.ID, "author": c.UserID,
		})
	}

	s.log.WithField("comment_id", id).
		WithField("actor", actor.ID).
		Info("comment hidden")
	return hidden, nil
}

// List returns visible comments on a transaction, newest first unless the
// filter asks for oldest.
func (s *Service) List(ctx context.Context, transactionID string, f comment.ListFilter) ([]comment.Comment, int, error) {
	if _, err := s.transactions.GetTransaction(ctx, transactionID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, 0, errors.NotFound("Transaction not found.")
		}
		return nil, 0, errors.Internal("", err)
	}

	if f.Sort == "" {
		f.Sort = comment.SortNewest
	}
	if f.Sort != comment.SortNewest && f.Sort != comment.SortOldest {
		return nil, 0, errors.Validation("Sort must be newest or oldest.")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}

	out, total, err := s.comments.ListComments(ctx, transactionID, f)
	if err != nil {
		return nil, 0, errors.Internal("", err)
	}
	return out, total, nil
}

// Get returns a single comment, hidden or not. Used by the admin audit
// surface.
func (s *Service) Get(ctx context.Context, transactionID, id string) (comment.Comment, error) {
	c, err := s.comments.GetComment(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return comment.Comment{}, errors.NotFound("Comment not found.")
		}
		return comment.Comment{}, errors.Internal("", err)
	}
	if c.TransactionID != transactionID {
		return comment.Comment{}, errors.NotFound("Comment not found.")
	}
	return c, nil
}
