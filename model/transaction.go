package model

import (
	"encoding/json"
	"time"
)

const (
	TransactionGeneration = "generation"
	TransactionPurchase   = "purchase"
	TransactionAdmin      = "admin"
	TransactionReferral   = "referral"
)

// CreditTransaction is one append-only ledger entry tied to a
// CreditAccount mutation. Entries are never updated or deleted; the
// Reference is unique and carries the external payment id for purchases,
// which is what makes payment crediting idempotent.
type CreditTransaction struct {
	ID            int64     `json:"-"`
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	Reference     string    `json:"reference"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

func (transaction *CreditTransaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}

// PaymentEvent is the webhook-shaped external event from the payment
// provider. PaymentID is the provider's payment identifier; replaying the
// same event must credit the account exactly once.
type PaymentEvent struct {
	PaymentID      string `json:"payment_id"`
	AccountID      string `json:"account_id"`
	AmountPaid     string `json:"amount_paid"`
	CreditsGranted int64  `json:"credits_granted"`
}
