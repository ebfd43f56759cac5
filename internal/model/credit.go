package model

import "time"

// CreditOp is the kind of a ledger entry.
type CreditOp string

const (
	CreditPurchase CreditOp = "purchase"
	CreditSearch   CreditOp = "search"
	CreditRefund   CreditOp = "refund"
	CreditBonus    CreditOp = "bonus"
)

// CreditTransaction is an append-only ledger entry. Amount is signed: debits
// are negative, grants and refunds positive. BalanceAfter is the account
// balance once the entry was applied.
type CreditTransaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Amount       float64   `json:"amount"`
	BalanceAfter float64   `json:"balance_after"`
	Operation    CreditOp  `json:"operation"`
	SearchID     string    `json:"search_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Reservation is a provisional credit hold taken before a run starts. It is
// later finalized (debit actual, refund remainder) or refunded in full.
type Reservation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SearchID  string    `json:"search_id"`
	Amount    float64   `json:"amount"`
	Settled   bool      `json:"settled"`
	CreatedAt time.Time `json:"created_at"`
}
