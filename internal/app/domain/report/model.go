// Package report defines citizen reports: flag objections and approval votes
// on published transactions.
package report

import "time"

// Type enumerates report kinds.
type Type string

const (
	TypeFlag    Type = "flag"
	TypeApprove Type = "approve"
)

// Valid reports whether the type is flag or approve.
func (t Type) Valid() bool {
	return t == TypeFlag || t == TypeApprove
}

// Report is an immutable citizen vote on a transaction. At most one report
// exists per (reporter, transaction) pair; the store enforces this
// atomically.
type Report struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	ReportedBy    string    `json:"reported_by"`
	ReporterName  string    `json:"reporter_name,omitempty"`
	Type          Type      `json:"type"`
	Reason        string    `json:"reason,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
