// Package transactions manages the published fund-transfer ledger.
package transactions

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/storage"
	"github.com/civicwatch/fundwatch/internal/errors"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

// Listing defaults and caps.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// AnalyticsCache caches the computed ledger analytics. Implementations must
// treat a miss and a cache failure identically: return ok=false and let the
// caller recompute.
type AnalyticsCache interface {
	GetAnalytics(ctx context.Context) (transaction.Analytics, bool)
	SetAnalytics(ctx context.Context, a transaction.Analytics)
}

// Service manages transaction publication, listing and analytics.
type Service struct {
	store storage.TransactionStore
	cache AnalyticsCache
	log   *logger.Logger
}

// New constructs a transactions service. cache may be nil.
func New(store storage.TransactionStore, cache AnalyticsCache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("transactions")
	}
	return &Service{store: store, cache: cache, log: log}
}

// CreateInput carries a publication request.
type CreateInput struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Amount         float64 `json:"amount"`
	FromDepartment string  `json:"from_department"`
	ToDepartment   string  `json:"to_department"`
	Category       string  `json:"category"`
	FiscalYear     string  `json:"fiscal_year"`
}

// Create publishes a transaction on behalf of creator. Only government
// officials may publish.
func (s *Service) Create(ctx context.Context, creator user.User, in CreateInput) (transaction.Transaction, error) {
	if !user.Can(creator.Role, user.ActionCreateTransaction) {
		return transaction.Transaction{}, errors.Forbidden("Only government officials can publish transactions.")
	}

	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.FromDepartment = strings.TrimSpace(in.FromDepartment)
	in.ToDepartment = strings.TrimSpace(in.ToDepartment)
	in.FiscalYear = strings.TrimSpace(in.FiscalYear)

	if in.Title == "" {
		return transaction.Transaction{}, errors.Validation("Title is required.")
	}
	if in.Description == "" {
		return transaction.Transaction{}, errors.Validation("Description is required.")
	}
	if in.Amount <= 0 {
		return transaction.Transaction{}, errors.Validation("Amount must be a positive number.")
	}
	if in.FromDepartment == "" || in.ToDepartment == "" {
		return transaction.Transaction{}, errors.Validation("Both departments are required.")
	}
	category := transaction.Category(in.Category)
	if !category.Valid() {
		return transaction.Transaction{}, errors.Validation("Category is not recognized.").
			WithDetails("categories", transaction.Categories)
	}
	if in.FiscalYear == "" {
		in.FiscalYear = transaction.DefaultFiscalYear
	}

	tx, err := s.store.CreateTransaction(ctx, transaction.Transaction{
		Reference:      transaction.NewReference(time.Now()),
		Title:          in.Title,
		Description:    in.Description,
		Amount:         in.Amount,
		FromDepartment: in.FromDepartment,
		ToDepartment:   in.ToDepartment,
		Category:       category,
		Status:         transaction.StatusPending,
		CreatedBy:      creator.ID,
		CreatorName:    creator.Name,
		FiscalYear:     in.FiscalYear,
	})
	if err != nil {
		return transaction.Transaction{}, errors.Internal("", err)
	}

	s.log.WithField("transaction_id", tx.ID).
		WithField("reference", tx.Reference).
		WithField("created_by", creator.ID).
		Info("transaction published")
	return tx, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (transaction.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return transaction.Transaction{}, errors.NotFound("Transaction not found.")
		}
		return transaction.Transaction{}, errors.Internal("", err)
	}
	return tx, nil
}

// List returns a page of transactions matching the filter, with the total
// match count.
func (s *Service) List(ctx context.Context, f transaction.Filter) ([]transaction.Transaction, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, errors.Validation("Status filter is not recognized.")
	}
	if f.Category != "" && !f.Category.Valid() {
		return nil, 0, errors.Validation("Category filter is not recognized.")
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

	txs, total, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, 0, errors.Internal("", err)
	}
	return txs, total, nil
}

// SetStatus moves a transaction to an explicit status. This is the admin
// moderation path; report thresholds never call it.
func (s *Service) SetStatus(ctx context.Context, actor user.User, id string, status transaction.Status) (transaction.Transaction, error) {
	if !user.Can(actor.Role, user.ActionModerateStatus) {
		return transaction.Transaction{}, errors.Forbidden("Only admins can change transaction status.")
	}
	if !status.Valid() {
		return transaction.Transaction{}, errors.Validation("Status is not recognized.")
	}
	// Moderation rejects a transaction or reopens it for review. Approved
	// and flagged are reached only through community report thresholds.
	if status != transaction.StatusRejected && status != transaction.StatusPending {
		return transaction.Transaction{}, errors.Validation("Moderation can only reject a transaction or return it to pending.")
	}

	tx, err := s.store.SetTransactionStatus(ctx, id, status)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return transaction.Transaction{}, errors.NotFound("Transaction not found.")
		}
		return transaction.Transaction{}, errors.Internal("", err)
	}

	s.log.WithField("transaction_id", tx.ID).
		WithField("status", string(status)).
		WithField("actor", actor.ID).
		Info("transaction status set")
	return tx, nil
}

// Analytics returns ledger-wide aggregates, served from cache when one is
// configured and warm.
func (s *Service) Analytics(ctx context.Context) (transaction.Analytics, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetAnalytics(ctx); ok {
			return cached, nil
		}
	}

	a, err := s.store.Analytics(ctx)
	if err != nil {
		return transaction.Analytics{}, errors.Internal("", err)
	}
	if s.cache != nil {
		s.cache.SetAnalytics(ctx, a)
	}
	return a, nil
}
