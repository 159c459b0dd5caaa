package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicwatch/fundwatch/internal/app/domain/comment"
	"github.com/civicwatch/fundwatch/internal/app/domain/report"
	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. The single mutex serializes the increment-evaluate-write
// sequence in ApplyReport, so concurrent reports never observe stale
// counters.
type Store struct {
	mu           sync.RWMutex
	users        map[string]user.User
	usersByEmail map[string]string
	transactions map[string]transaction.Transaction
	reports      map[string]report.Report
	reportByPair map[string]string
	comments     map[string]comment.Comment
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.ReportStore = (*Store)(nil)
var _ storage.CommentStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]user.User),
		usersByEmail: make(map[string]string),
		transactions: make(map[string]transaction.Transaction),
		reports:      make(map[string]report.Report),
		reportByPair: make(map[string]string),
		comments:     make(map[string]comment.Comment),
	}
}

// UserStore implementation --------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emailKey := strings.ToLower(strings.TrimSpace(u.Email))
	if _, exists := s.usersByEmail[emailKey]; exists {
		return user.User{}, storage.ErrEmailTaken
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByEmail[emailKey] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}

	u.Email = original.Email
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	s.users[u.ID] = u
	return u, nil
}

// TransactionStore implementation -------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tx.Reference == "" {
		tx.Reference = transaction.NewReference(now)
	}
	if tx.Status == "" {
		tx.Status = transaction.StatusPending
	}
	tx.CreatedAt = now
	tx.UpdatedAt = now

	s.transactions[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (transaction.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return transaction.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, f transaction.Filter) ([]transaction.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]transaction.Transaction, 0)
	for _, tx := range s.transactions {
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.Category != "" && tx.Category != f.Category {
			continue
		}
		matched = append(matched, tx)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginate(matched, f.Page, f.PageSize), total, nil
}

func (s *Store) ApplyReport(_ context.Context, id string, kind report.Type) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return transaction.Transaction{}, storage.ErrNotFound
	}

	switch kind {
	case report.TypeFlag:
		tx.Flags++
		if tx.Flags >= transaction.FlagThreshold {
			tx.Status = transaction.StatusFlagged
		}
	case report.TypeApprove:
		tx.Approvals++
		if tx.Approvals >= transaction.ApproveThreshold &&
			tx.Flags < transaction.MaxFlagsForApproval &&
			tx.Status == transaction.StatusPending {
			tx.Status = transaction.StatusApproved
		}
	}
	tx.UpdatedAt = time.Now().UTC()

	s.transactions[id] = tx
	return tx, nil
}

func (s *Store) SetTransactionStatus(_ context.Context, id string, status transaction.Status) (transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return transaction.Transaction{}, storage.ErrNotFound
	}

	tx.Status = status
	tx.UpdatedAt = time.Now().UTC()
	s.transactions[id] = tx
	return tx, nil
}

func (s *Store) Analytics(_ context.Context) (transaction.Analytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := transaction.Analytics{
		StatusBreakdown: make(map[transaction.Status]int),
	}
	byCategory := make(map[transaction.Category]*transaction.CategorySummary)
	for _, tx := range s.transactions {
		out.TotalTransactions++
		out.TotalAmount += tx.Amount
		out.StatusBreakdown[tx.Status]++
		summary, ok := byCategory[tx.Category]
		if !ok {
			summary = &transaction.CategorySummary{Category: tx.Category}
			byCategory[tx.Category] = summary
		}
		summary.Count++
		summary.Total += tx.Amount
	}
	for _, summary := range byCategory {
		out.CategoryBreakdown = append(out.CategoryBreakdown, *summary)
	}
	sort.Slice(out.CategoryBreakdown, func(i, j int) bool {
		return out.CategoryBreakdown[i].Category < out.CategoryBreakdown[j].Category
	})
	return out, nil
}

// ReportStore implementation ------------------------------------------------

func pairKey(transactionID, userID string) string {
	return transactionID + "|" + userID
}

func (s *Store) CreateReport(_ context.Context, r report.Report) (report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(r.TransactionID, r.ReportedBy)
	if _, exists := s.reportByPair[key]; exists {
		return report.Report{}, storage.ErrDuplicateReport
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()

	s.reports[r.ID] = r
	s.reportByPair[key] = r.ID
	return r, nil
}

func (s *Store) ListReportsByTransaction(_ context.Context, transactionID string) ([]report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]report.Report, 0)
	for _, r := range s.reports {
		if r.TransactionID == transactionID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// CommentStore implementation -----------------------------------------------

func (s *Store) CreateComment(_ context.Context, c comment.Comment) (comment.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	s.comments[c.ID] = c
	return c, nil
}

func (s *Store) GetComment(_ context.Context, id string) (comment.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return comment.Comment{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListComments(_ context.Context, transactionID string, f comment.ListFilter) ([]comment.Comment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]comment.Comment, 0)
	for _, c := range s.comments {
		if c.TransactionID != transactionID || c.Hidden {
			continue
		}
		matched = append(matched, c)
	}
	oldestFirst := f.Sort == comment.SortOldest
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			if oldestFirst {
				return matched[i].ID < matched[j].ID
			}
			return matched[i].ID > matched[j].ID
		}
		if oldestFirst {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginate(matched, f.Page, f.PageSize), total, nil
}

func (s *Store) CountCommentsByAuthorSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, c := range s.comments {
		if c.UserID == userID && !c.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) HideComment(_ context.Context, id string, moderated bool) (comment.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[id]
	if !ok {
		return comment.Comment{}, storage.ErrNotFound
	}

	c.Hidden = true
	c.Moderated = c.Moderated || moderated
	c.UpdatedAt = time.Now().UTC()
	s.comments[id] = c
	return c, nil
}

// Helpers --------------------------------------------------------------------

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[start:end]...)
}
