package comments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/civicwatch/fundwatch/internal/app/domain/comment"
	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/storage/memory"
	"github.com/civicwatch/fundwatch/internal/errors"
)

var (
	alice = user.User{ID: "alice", Name: "Alice", Role: user.RoleCitizen}
	bob   = user.User{ID: "bob", Name: "Bob", Role: user.RoleCitizen}
	admin = user.User{ID: "root", Name: "Root", Role: user.RoleAdmin}
)

func seedTransaction(t *testing.T, store *memory.Store) transaction.Transaction {
	t.Helper()
	tx, err := store.CreateTransaction(context.Background(), transaction.Transaction{
		Title: "Road resurfacing", Description: "Resurfacing of the ring road",
		Amount: 120000, FromDepartment: "Treasury", ToDepartment: "Public Works",
		Category: transaction.CategoryInfrastructure, Status: transaction.StatusPending,
		CreatedBy: "official-1", FiscalYear: transaction.DefaultFiscalYear,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return tx
}

func TestPostLengthBounds(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	tx := seedTransaction(t, store)
	ctx := context.Background()

	if _, err := svc.Post(ctx, alice, tx.ID, strings.Repeat("a", comment.MinLength-1)); err == nil {
		t.Fatalf("expected rejection below minimum length")
	}
	if _, err := svc.Post(ctx, alice, tx.ID, strings.Repeat("a", comment.MinLength)); err != nil {
		t.Fatalf("minimum length comment: %v", err)
	}
	if _, err := svc.Post(ctx, bob, tx.ID, strings.Repeat("b", comment.MaxLength)); err != nil {
		t.Fatalf("maximum length comment: %v", err)
	}
	if _, err := svc.Post(ctx, bob, tx.ID, strings.Repeat("b", comment.MaxLength+1)); err == nil {
		t.Fatalf("expected rejection above maximum length")
	}

	// Bounds apply to the trimmed text.
	padded := "   " + strings.Repeat("c", comment.MinLength-1) + "   "
	if _, err := svc.Post(ctx, admin, tx.ID, padded); err == nil {
		t.Fatalf("expected trimmed length rejection")
	}

	// Bounds count characters, not bytes.
	if _, err := svc.Post(ctx, admin, tx.ID, strings.Repeat("é", comment.MinLength-1)); err == nil {
		t.Fatalf("expected rejection: %d multi-byte characters are below the minimum", comment.MinLength-1)
	}
	if _, err := svc.Post(ctx, admin, tx.ID, strings.Repeat("字", comment.MaxLength)); err != nil {
		t.Fatalf("maximum length multi-byte comment: %v", err)
	}
	if _, err := svc.Post(ctx, admin, tx.ID, strings.Repeat("字", comment.MaxLength+1)); err == nil {
		t.Fatalf("expected rejection above maximum character count")
	}
}

func TestPostSanitizesText(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	tx := seedTransaction(t, store)

	posted, err := svc.Post(context.Background(), alice, tx.ID, `<script>alert("x")</script>`)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if strings.Contains(posted.Text, "<script>") {
		t.Fatalf("markup not escaped: %q", posted.Text)
	}
	if !strings.Contains(posted.Text, "&lt;script&gt;") {
		t.Fatalf("expected escaped markup, got %q", posted.Text)
	}
}

func TestPostUnknownTransaction(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)

	_, err := svc.Post(context.Background(), alice, "missing", "a perfectly fine comment")
	if err == nil {
		t.Fatalf("expected not found")
	}
	if svcErr := errors.GetServiceError(err); svcErr == nil || svcErr.HTTPStatus != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestPostRateLimitWindow(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	tx := seedTransaction(t, store)
	ctx := context.Background()

	now := time.Now()
	svc.now = func() time.Time { return now }

	for i := 0; i < comment.BurstPerWindow; i++ {
		if _, err := svc.Post(ctx, alice, tx.ID, "a comment long enough to pass"); err != nil {
			t.Fatalf("comment %d: %v", i+1, err)
		}
	}

	_, err := svc.Post(ctx, alice, tx.ID, "one comment over the limit")
	if err == nil {
		t.Fatalf("expected rate limit rejection")
	}
	if svcErr := errors.GetServiceError(err); svcErr == nil || svcErr.HTTPStatus != 429 {
		t.Fatalf("expected 429, got %v", err)
	}

	// Another author is unaffected.
	if _, err := svc.Post(ctx, bob, tx.ID, "a different author commenting"); err != nil {
		t.Fatalf("other author: %v", err)
	}

	// Once the window slides past the burst, posting resumes.
	svc.now = func() time.Time { return now.Add(comment.Window + time.Second) }
	if _, err := svc.Post(ctx, alice, tx.ID, "posting after the window passed"); err != nil {
		t.Fatalf("post after window: %v", err)
	}
}

func TestRateLimitCountsHiddenComments(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	tx := seedTransaction(t, store)
	ctx := context.Background()

	var last comment.Comment
	for i := 0; i < comment.BurstPerWindow; i++ {
		c, err := svc.Post(ctx, alice, tx.ID, "a comment long enough to pass")
		if err != nil {
			t.Fatalf("comment %d: %v", i+1, err)
		}
		last = c
	}
	if _, err := svc.Delete(ctx, alice, tx.ID, last.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.Post(ctx, alice, tx.ID, "still inside the rate window"); err == nil {
		t.Fatalf("deleting a comment must not reset the rate window")
	}
}

func TestDeletePermissions(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	tx := seedTransaction(t, store)
	ctx := context.Background()

	posted, err := svc.Post(ctx, alice, tx.ID, "a comment that will be removed")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if _, err := svc.Delete(ctx, bob, tx.ID, posted.ID); err == nil {
		t.Fatalf("expected forbidden for other citizen")
	}

	hidden, err := svc.Delete(ctx, alice, tx.ID, posted.ID)
	if err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if !hidden.Hidden || hidden.Moderated {
		t.Fatalf("self-delete must hide without moderation mark: %#v", hidden)
	}

	// Deleting again is a no-op.
	if _, err := svc.Delete(ctx, alice, tx.ID, posted.ID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestDeleteTransactionMismatch(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	tx := seedTransaction(t, store)
	other := seedTransaction(t, store)
	ctx := context.Background()

	posted, err := svc.Post(ctx, alice, tx.ID, "a comment on the first transaction")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	_, err = svc.Delete(ctx, alice, other.ID, posted.ID)
	if err == nil {
		t.Fatalf("expected not found for mismatched transaction")
	}
	if svcErr := errors.GetServiceError(err); svcErr == nil || svcErr.HTTPStatus != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
	if _, err := svc.Get(ctx, other.ID, posted.ID); err == nil {
		t.Fatalf("expected not found for mismatched get")
	}
}

func TestAdminDeleteMarksModerated(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	tx := seedTransaction(t, store)
	ctx := context.Background()

	posted, err := svc.Post(ctx, alice, tx.ID, "a comment an admin will remove")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	hidden, err := svc.Delete(ctx, admin, tx.ID, posted.ID)
	if err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if !hidden.Hidden || !hidden.Moderated {
		t.Fatalf("admin delete must hide and mark moderated: %#v", hidden)
	}

	// The record survives for audit.
	kept, err := svc.Get(ctx, tx.ID, posted.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if kept.Text == "" {
		t.Fatalf("soft delete must keep the text")
	}
}

func TestListOrderingAndVisibility(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	tx := seedTransaction(t, store)
	ctx := context.Background()

	authors := []user.User{alice, bob, admin}
	var ids []string
	for i, author := range authors {
		c, err := store.CreateComment(ctx, comment.Comment{
			TransactionID: tx.ID, UserID: author.ID, UserName: author.Name,
			Text:      "ordered comment body",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("create comment: %v", err)
		}
		ids = append(ids, c.ID)
	}
	if _, err := svc.Delete(ctx, admin, tx.ID, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	newest, total, err := svc.List(ctx, tx.ID, comment.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(newest) != 2 {
		t.Fatalf("expected 2 visible comments, got total=%d len=%d", total, len(newest))
	}
	if newest[0].ID != ids[2] {
		t.Fatalf("expected newest first, got %s", newest[0].ID)
	}

	oldest, _, err := svc.List(ctx, tx.ID, comment.ListFilter{Sort: comment.SortOldest})
	if err != nil {
		t.Fatalf("list oldest: %v", err)
	}
	if oldest[0].ID != ids[0] {
		t.Fatalf("expected oldest first, got %s", oldest[0].ID)
	}

	if _, _, err := svc.List(ctx, "missing", comment.ListFilter{}); err == nil {
		t.Fatalf("expected not found")
	}
}
