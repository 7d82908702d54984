package models

import (
	"time"
)

// LedgerStatus tracks whether a post's contribution reached the ledger.
type LedgerStatus string

const (
	LedgerPending    LedgerStatus = "pending"
	LedgerSubmitting LedgerStatus = "submitting"
	LedgerSubmitted  LedgerStatus = "submitted"
	LedgerFailed     LedgerStatus = "failed"
)

// Categories accepted for a contribution.
var Categories = []string{
	"Social Welfare",
	"Animal Welfare",
	"Environmental",
	"Innovation",
	"Other",
}

// Post represents a row of the posts table
type Post struct {
	ID             int64        `json:"id" db:"id"`
	UserID         int64        `json:"userId" db:"user_id"`
	Title          string       `json:"title" db:"title"`
	Category       string       `json:"category" db:"category"`
	Description    string       `json:"description" db:"description"`
	Location       string       `json:"location" db:"location"`
	WalletAddress  string       `json:"walletAddress" db:"wallet_address"`
	ActivityLog    string       `json:"activityLog" db:"activity_log"` // JSON-encoded
	LedgerStatus   LedgerStatus `json:"ledgerStatus" db:"ledger_status"`
	LedgerResponse string       `json:"ledgerResponse,omitempty" db:"ledger_response"`
	CreatedAt      time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time    `json:"updatedAt" db:"updated_at"`

	Media []Media `json:"media,omitempty"`
}

// Media represents a row of the media table
type Media struct {
	ID        int64     `json:"id" db:"id"`
	URL       string    `json:"url" db:"url"`
	UserID    int64     `json:"userId" db:"user_id"`
	PostID    int64     `json:"postId" db:"post_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}
