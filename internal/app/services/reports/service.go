// Package reports handles citizen flag and approval reports and the
// threshold-driven status transitions they cause.
package reports

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/civicwatch/fundwatch/internal/app/domain/report"
	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/storage"
	"github.com/civicwatch/fundwatch/internal/errors"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

// Service records reports and applies their counter increments.
type Service struct {
	reports      storage.ReportStore
	transactions storage.TransactionStore
	log          *logger.Logger
}

// New constructs a reports service.
func New(reports storage.ReportStore, transactions storage.TransactionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reports")
	}
	return &Service{reports: reports, transactions: transactions, log: log}
}

// SubmitInput carries a report submission.
type SubmitInput struct {
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// Submit records a report against a transaction and returns the transaction
// with its updated counters and status. A reporter may report each
// transaction at most once, regardless of type.
func (s *Service) Submit(ctx context.Context, reporter user.User, transactionID string, in SubmitInput) (report.Report, transaction.Transaction, error) {
	kind := report.Type(in.Type)
	if !kind.Valid() {
		return report.Report{}, transaction.Transaction{}, errors.Validation("Report type must be flag or approve.")
	}
	in.Reason = strings.TrimSpace(in.Reason)
	in.Description = strings.TrimSpace(in.Description)
	if kind == report.TypeFlag && in.Reason == "" {
		return report.Report{}, transaction.Transaction{}, errors.Validation("A reason is required when flagging.")
	}

	if _, err := s.transactions.GetTransaction(ctx, transactionID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return report.Report{}, transaction.Transaction{}, errors.NotFound("Transaction not found.")
		}
		return report.Report{}, transaction.Transaction{}, errors.Internal("", err)
	}

	created, err := s.reports.CreateReport(ctx, report.Report{
		TransactionID: transactionID,
		ReportedBy:    reporter.ID,
		ReporterName:  reporter.Name,
		Type:          kind,
		Reason:        in.Reason,
		Description:   in.Description,
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrDuplicateReport) {
			return report.Report{}, transaction.Transaction{}, errors.DuplicateReport()
		}
		return report.Report{}, transaction.Transaction{}, errors.Internal("", err)
	}

	tx, err := s.transactions.ApplyReport(ctx, transactionID, kind)
	if err != nil {
		return report.Report{}, transaction.Transaction{}, errors.Internal("", err)
	}

	s.log.WithField("transaction_id", tx.ID).
		WithField("report_type", string(kind)).
		WithField("status", string(tx.Status)).
		WithField("approvals", tx.Approvals).
		WithField("flags", tx.Flags).
		Info("report recorded")
	return created, tx, nil
}

// ListForTransaction returns all reports filed against a transaction.
func (s *Service) ListForTransaction(ctx context.Context, transactionID string) ([]report.Report, error) {
	if _, err := s.transactions.GetTransaction(ctx, transactionID); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NotFound("Transaction not found.")
		}
		return nil, errors.Internal("", err)
	}
	out, err := s.reports.ListReportsByTransaction(ctx, transactionID)
	if err != nil {
		return nil, errors.Internal("", err)
	}
	return out, nil
}
