package storage

import (
	"context"
	"errors"
	"time"

	"github.com/civicwatch/fundwatch/internal/app/domain/comment"
	"github.com/civicwatch/fundwatch/internal/app/domain/report"
	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
)

// Sentinel errors shared by every store implementation. Services translate
// these into the client-facing error taxonomy.
var (
	ErrNotFound        = errors.New("record not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrDuplicateReport = errors.New("report already submitted for this transaction")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
}

// TransactionStore persists fund-transfer transactions. ApplyReport is the
// single mutation path for counters: it increments the counter matching the
// report type and evaluates the auto-transition rules against the
// post-increment values, atomically per transaction.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error)
	GetTransaction(ctx context.Context, id string) (transaction.Transaction, error)
	ListTransactions(ctx context.Context, f transaction.Filter) ([]transaction.Transaction, int, error)
	ApplyReport(ctx context.Context, id string, kind report.Type) (transaction.Transaction, error)
	SetTransactionStatus(ctx context.Context, id string, status transaction.Status) (transaction.Transaction, error)
	Analytics(ctx context.Context) (transaction.Analytics, error)
}

// ReportStore persists citizen reports. CreateReport returns
// ErrDuplicateReport when the (reporter, transaction) pair already exists;
// the check and insert are atomic.
type ReportStore interface {
	CreateReport(ctx context.Context, r report.Report) (report.Report, error)
	ListReportsByTransaction(ctx context.Context, transactionID string) ([]report.Report, error)
}

// CommentStore persists comments. HideComment is the only mutation; records
// are never physically removed.
type CommentStore interface {
	CreateComment(ctx context.Context, c comment.Comment) (comment.Comment, error)
	GetComment(ctx context.Context, id string) (comment.Comment, error)
	ListComments(ctx context.Context, transactionID string, f comment.ListFilter) ([]comment.Comment, int, error)
	CountCommentsByAuthorSince(ctx context.Context, userID string, since time.Time) (int, error)
	HideComment(ctx context.Context, id string, moderated bool) (comment.Comment, error)
}
