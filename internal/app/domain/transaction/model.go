// Package transaction defines published fund-transfer records and their
// report-driven status machine.
package transaction

import (
	"fmt"
	"math/rand"
	"time"
)

// Status enumerates transaction lifecycle states. Pending is the initial
// state; flagged and approved are reached automatically by report
// thresholds; rejected only through an explicit admin moderation action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusFlagged  Status = "flagged"
	StatusRejected Status = "rejected"
)

// Valid reports whether the status is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusFlagged, StatusRejected:
		return true
	}
	return false
}

// Category enumerates the closed set of spending categories.
type Category string

const (
	CategoryEducation      Category = "Education"
	CategoryHealthcare     Category = "Healthcare"
	CategoryInfrastructure Category = "Infrastructure"
	CategoryDefense        Category = "Defense"
	CategoryAgriculture    Category = "Agriculture"
	CategoryTechnology     Category = "Technology"
	CategorySocialWelfare  Category = "Social Welfare"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryEducation,
	CategoryHealthcare,
	CategoryInfrastructure,
	CategoryDefense,
	CategoryAgriculture,
	CategoryTechnology,
	CategorySocialWelfare,
}

// Valid reports whether the category is in the closed set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Auto-transition thresholds. Counters are compared after the current
// increment, never against a stale read.
const (
	// FlagThreshold flags a transaction once this many flag reports land.
	FlagThreshold = 5
	// ApproveThreshold approves a transaction once this many approvals land,
	// provided flags stay below MaxFlagsForApproval.
	ApproveThreshold = 10
	// MaxFlagsForApproval blocks auto-approval at or above this flag count.
	MaxFlagsForApproval = 3
)

// DefaultFiscalYear is applied when a creator omits the fiscal year.
const DefaultFiscalYear = "2025-26"

// Transaction is a recorded government fund transfer subject to public
// scrutiny. Counters are non-negative and increment-only.
type Transaction struct {
	ID             string    `json:"id"`
	Reference      string    `json:"transaction_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Amount         float64   `json:"amount"`
	FromDepartment string    `json:"from_department"`
	ToDepartment   string    `json:"to_department"`
	Category       Category  `json:"category"`
	Status         Status    `json:"status"`
	CreatedBy      string    `json:"created_by"`
	CreatorName    string    `json:"creator_name,omitempty"`
	Approvals      int       `json:"approvals"`
	Flags          int       `json:"flags"`
	FiscalYear     string    `json:"fiscal_year"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Filter narrows transaction listings.
type Filter struct {
	Status   Status
	Category Category
	Page     int
	PageSize int
}

// CategorySummary aggregates one category for analytics.
type CategorySummary struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
	Total    float64  `json:"total"`
}

// Analytics summarizes the published ledger.
type Analytics struct {
	TotalTransactions int               `json:"total_transactions"`
	TotalAmount       float64           `json:"total_amount"`
	StatusBreakdown   map[Status]int    `json:"status_breakdown"`
	CategoryBreakdown []CategorySummary `json:"category_breakdown"`
}

// NewReference builds a business identifier in the published TXN format.
func NewReference(now time.Time) string {
	return fmt.Sprintf("TXN-%d-%09d", now.UnixMilli(), rand.Intn(1_000_000_000))
}
