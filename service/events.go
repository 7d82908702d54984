package service

// ContributionCreatedEvent is published once the ledger accepted a contribution.
type ContributionCreatedEvent struct {
	PostID               int64    `json:"post_id"`
	UserID               int64    `json:"user_id"`
	WalletAddress        string   `json:"wallet_address"`
	LegitimacyPercentage *float64 `json:"legitimacy_percentage,omitempty"`
	Files                []string `json:"files"`
	Captions             []string `json:"captions"`
}

// LedgerFailedEvent asks a reconciliation worker to retry or clean up a post whose
// ledger submission failed.
type LedgerFailedEvent struct {
	PostID        int64  `json:"post_id"`
	UserID        int64  `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	Error         string `json:"error"`
}
