package storage

import "time"

// User is one telegram user's ledger state
type User struct {
	ID         int64
	TgID       int64
	BalanceRub int
	// Calendar date (UTC) of the last successful daily charge, nil if never charged
	LastChargeDate *time.Time
	// Inviter's telegram id, set at most once, never overwritten
	InviterTg *int64
	// Whether the one-time referral bonus for this user's first payment was paid out
	ReferralBonusPaid bool
	CreatedAt         time.Time
}

// Subscription is a single purchased access period. Rows are append-only:
// extending access adds a new row, existing rows are never touched.
type Subscription struct {
	ID      int64
	UserID  int64
	StartAt time.Time
	EndAt   time.Time
}

// ProcessedPayment records a handled payment confirmation so duplicate
// delivery of the same confirmation becomes a no-op.
type ProcessedPayment struct {
	ChargeID  string
	TgID      int64
	Kind      string // "topup" or "subscription"
	AmountRub int
}
