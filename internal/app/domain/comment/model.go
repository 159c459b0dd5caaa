// Package comment defines citizen comments on transactions. Comments are
// soft-deleted only, preserving the audit trail.
package comment

import "time"

// Text length bounds, applied to the trimmed input before sanitization.
const (
	MinLength = 10
	MaxLength = 500
)

// Rate limiting: a user may post at most BurstPerWindow comments in the
// trailing Window, evaluated against stored timestamps at submission time.
const (
	Window         = 60 * time.Second
	BurstPerWindow = 3
)

// SortOrder orders comment listings by creation time.
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// Comment is a citizen comment with its author denormalized for display.
type Comment struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name"`
	Text          string    `json:"text"`
	Hidden        bool      `json:"hidden"`
	Moderated     bool      `json:"moderated"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ListFilter paginates and orders comment listings.
type ListFilter struct {
	Page     int
	PageSize int
	Sort     SortOrder
}
