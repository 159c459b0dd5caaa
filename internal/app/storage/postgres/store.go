// Package postgres implements the storage interfaces backed by PostgreSQL.
//
// Counter updates run as single conditional UPDATE statements so the
// increment and the threshold evaluation cannot interleave between
// concurrent reports, and duplicate reports are rejected by the unique
// (transaction_id, reported_by) index rather than an application-level
// check.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/civicwatch/fundwatch/internal/app/domain/comment"
	"github.com/civicwatch/fundwatch/internal/app/domain/report"
	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces over a PostgreSQL handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.ReportStore = (*Store)(nil)
var _ storage.CommentStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// --- UserStore --------------------------------------------------------------

type userRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	Department   string    `db:"department"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         user.Role(r.Role),
		Department:   r.Department,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const userColumns = `id, name, email, password_hash, role, department, active, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, department, active, created_at, updated_at)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Department, u.Active, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, storage.ErrEmailTaken
		}
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, storage.ErrNotFound
	}
	if err != nil {
		return user.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, role = $3, department = $4, active = $5, updated_at = $6
		WHERE id = $1
	`, u.ID, u.Name, string(u.Role), u.Department, u.Active, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, storage.ErrNotFound
	}
	return s.GetUser(ctx, u.ID)
}

// --- TransactionStore -------------------------------------------------------

type transactionRow struct {
	ID             string    `db:"id"`
	Reference      string    `db:"reference"`
	Title          string    `db:"title"`
	Description    string    `db:"description"`
	Amount         float64   `db:"amount"`
	FromDepartment string    `db:"from_department"`
	ToDepartment   string    `db:"to_department"`
	Category       string    `db:"category"`
	Status         string    `db:"status"`
	CreatedBy      string    `db:"created_by"`
	CreatorName    string    `db:"creator_name"`
	Approvals      int       `db:"approvals"`
	Flags          int       `db:"flags"`
	FiscalYear     string    `db:"fiscal_year"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r transactionRow) toDomain() transaction.Transaction {
	return transaction.Transaction{
		ID:             r.ID,
		Reference:      r.Reference,
		Title:          r.Title,
		Description:    r.Description,
		Amount:         r.Amount,
		FromDepartment: r.FromDepartment,
		ToDepartment:   r.ToDepartment,
		Category:       transaction.Category(r.Category),
		Status:         transaction.Status(r.Status),
		CreatedBy:      r.CreatedBy,
		CreatorName:    r.CreatorName,
		Approvals:      r.Approvals,
		Flags:          r.Flags,
		FiscalYear:     r.FiscalYear,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const transactionColumns = `t.id, t.reference, t.title, t.description, t.amount,
	t.from_department, t.to_department, t.category, t.status, t.created_by,
	COALESCE(u.name, '') AS creator_name, t.approvals, t.flags, t.fiscal_year,
	t.created_at, t.updated_at`

func (s *Store) CreateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, reference, title, description, amount,
			from_department, to_department, category, status, created_by,
			approvals, flags, fiscal_year, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, tx.ID, tx.Reference, tx.Title, tx.Description, tx.Amount,
		tx.FromDepartment, tx.ToDepartment, string(tx.Category), string(tx.Status), tx.CreatedBy,
		tx.Approvals, tx.Flags, tx.FiscalYear, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return transaction.Transaction{}, err
	}
	return s.GetTransaction(ctx, tx.ID)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (transaction.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions t
		LEFT JOIN users u ON u.id = t.created_by
		WHERE t.id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return transaction.Transaction{}, storage.ErrNotFound
	}
	if err != nil {
		return transaction.Transaction{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListTransactions(ctx context.Context, f transaction.Filter) ([]transaction.Transaction, int, error) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions t
		LEFT JOIN users u ON u.id = t.created_by
		WHERE ($1 = '' OR t.status = $1)
		  AND ($2 = '' OR t.category = $2)
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $3 OFFSET $4
	`, string(f.Status), string(f.Category), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = s.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM transactions
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR category = $2)
	`, string(f.Status), string(f.Category))
	if err != nil {
		return nil, 0, err
	}

	result := make([]transaction.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, total, nil
}

// ApplyReport increments the counter matching the report type and applies
// the auto-transition rules in the same statement, against post-increment
// values. Row-level locking of the UPDATE serializes concurrent reports on
// one transaction.
func (s *Store) ApplyReport(ctx context.Context, id string, kind report.Type) (transaction.Transaction, error) {
	var query string
	switch kind {
	case report.TypeFlag:
		query = fmt.Sprintf(`
			UPDATE transactions
			SET flags = flags + 1,
			    status = CASE WHEN flags + 1 >= %d THEN 'flagged' ELSE status END,
			    updated_at = now()
			WHERE id = $1
			RETURNING id
		`, transaction.FlagThreshold)
	case report.TypeApprove:
		query = fmt.Sprintf(`
			UPDATE transactions
			SET approvals = approvals + 1,
			    status = CASE WHEN approvals + 1 >= %d AND flags < %d AND status = 'pending'
			             THEN 'approved' ELSE status END,
			    updated_at = now()
			WHERE id = $1
			RETURNING id
		`, transaction.ApproveThreshold, transaction.MaxFlagsForApproval)
	default:
		return transaction.Transaction{}, fmt.Errorf("unknown report type %q", kind)
	}

	var updatedID string
	err := s.db.GetContext(ctx, &updatedID, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return transaction.Transaction{}, storage.ErrNotFound
	}
	if err != nil {
		return transaction.Transaction{}, err
	}
	return s.GetTransaction(ctx, updatedID)
}

func (s *Store) SetTransactionStatus(ctx context.Context, id string, status transaction.Status) (transaction.Transaction, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return transaction.Transaction{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return transaction.Transaction{}, storage.ErrNotFound
	}
	return s.GetTransaction(ctx, id)
}

func (s *Store) Analytics(ctx context.Context) (transaction.Analytics, error) {
	out := transaction.Analytics{StatusBreakdown: make(map[transaction.Status]int)}

	err := s.db.QueryRowxContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM transactions
	`).Scan(&out.TotalTransactions, &out.TotalAmount)
	if err != nil {
		return transaction.Analytics{}, err
	}

	statusRows, err := s.db.QueryxContext(ctx, `
		SELECT status, COUNT(*) FROM transactions GROUP BY status
	`)
	if err != nil {
		return transaction.Analytics{}, err
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var count int
		if err := statusRows.Scan(&status, &count); err != nil {
			return transaction.Analytics{}, err
		}
		out.StatusBreakdown[transaction.Status(status)] = count
	}
	if err := statusRows.Err(); err != nil {
		return transaction.Analytics{}, err
	}

	categoryRows, err := s.db.QueryxContext(ctx, `
		SELECT category, COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions GROUP BY category ORDER BY category
	`)
	if err != nil {
		return transaction.Analytics{}, err
	}
	defer categoryRows.Close()
	for categoryRows.Next() {
		var summary transaction.CategorySummary
		var category string
		if err := categoryRows.Scan(&category, &summary.Count, &summary.Total); err != nil {
			return transaction.Analytics{}, err
		}
		summary.Category = transaction.Category(category)
		out.CategoryBreakdown = append(out.CategoryBreakdown, summary)
	}
	return out, categoryRows.Err()
}

// --- ReportStore ------------------------------------------------------------

type reportRow struct {
	ID            string    `db:"id"`
	TransactionID string    `db:"transaction_id"`
	ReportedBy    string    `db:"reported_by"`
	ReporterName  string    `db:"reporter_name"`
	Type          string    `db:"type"`
	Reason        string    `db:"reason"`
	Description   string    `db:"description"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r reportRow) toDomain() report.Report {
	return report.Report{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		ReportedBy:    r.ReportedBy,
		ReporterName:  r.ReporterName,
		Type:          report.Type(r.Type),
		Reason:        r.Reason,
		Description:   r.Description,
		CreatedAt:     r.CreatedAt,
	}
}

func (s *Store) CreateReport(ctx context.Context, r report.Report) (report.Report, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, transaction_id, reported_by, type, reason, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.TransactionID, r.ReportedBy, string(r.Type), r.Reason, r.Description, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return report.Report{}, storage.ErrDuplicateReport
		}
		return report.Report{}, err
	}
	return r, nil
}

func (s *Store) ListReportsByTransaction(ctx context.Context, transactionID string) ([]report.Report, error) {
	var rows []reportRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT r.id, r.transaction_id, r.reported_by, COALESCE(u.name, '') AS reporter_name,
		       r.type, r.reason, r.description, r.created_at
		FROM reports r
		LEFT JOIN users u ON u.id = r.reported_by
		WHERE r.transaction_id = $1
		ORDER BY r.created_at DESC, r.id DESC
	`, transactionID)
	if err != nil {
		return nil, err
	}

	result := make([]report.Report, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- CommentStore -----------------------------------------------------------

type commentRow struct {
	ID            string    `db:"id"`
	TransactionID string    `db:"transaction_id"`
	UserID        string    `db:"user_id"`
	UserName      string    `db:"user_name"`
	Text          string    `db:"text"`
	Hidden        bool      `db:"hidden"`
	Moderated     bool      `db:"moderated"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r commentRow) toDomain() comment.Comment {
	return comment.Comment{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		UserID:        r.UserID,
		UserName:      r.UserName,
		Text:          r.Text,
		Hidden:        r.Hidden,
		Moderated:     r.Moderated,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const commentColumns = `id, transaction_id, user_id, user_name, text, hidden, moderated, created_at, updated_at`

func (s *Store) CreateComment(ctx context.Context, c comment.Comment) (comment.Comment, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, transaction_id, user_id, user_name, text, hidden, moderated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.TransactionID, c.UserID, c.UserName, c.Text, c.Hidden, c.Moderated, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return comment.Comment{}, err
	}
	return c, nil
}

func (s *Store) GetComment(ctx context.Context, id string) (comment.Comment, error) {
	var row commentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return comment.Comment{}, storage.ErrNotFound
	}
	if err != nil {
		return comment.Comment{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListComments(ctx context.Context, transactionID string, f comment.ListFilter) ([]comment.Comment, int, error) {
	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	order := "DESC"
	if f.Sort == comment.SortOldest {
		order = "ASC"
	}

	var rows []commentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE transaction_id = $1 AND NOT hidden
		ORDER BY created_at `+order+`, id `+order+`
		LIMIT $2 OFFSET $3
	`, transactionID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = s.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM comments WHERE transaction_id = $1 AND NOT hidden
	`, transactionID)
	if err != nil {
		return nil, 0, err
	}

	result := make([]comment.Comment, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, total, nil
}

func (s *Store) CountCommentsByAuthorSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM comments WHERE user_id = $1 AND created_at >= $2
	`, userID, since)
	return count, err
}

func (s *Store) HideComment(ctx context.Context, id string, moderated bool) (comment.Comment, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET hidden = TRUE, moderated = moderated OR $2, updated_at = now() WHERE id = $1
	`, id, moderated)
	if err != nil {
		return comment.Comment{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return comment.Comment{}, storage.ErrNotFound
	}
	return s.GetComment(ctx, id)
}
