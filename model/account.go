package model

import "time"

// CreditAccount is the prepaid balance for one user. Accounts are created
// at first contact and never deleted, only flagged blocked. The balance is
// kept non-negative by the datasource's guarded debit, except for the
// single bounded text-generation overdraft.
type CreditAccount struct {
	ID                  int64     `json:"-"`
	AccountID           string    `json:"account_id"`
	TelegramID          string    `json:"telegram_id,omitempty"`
	WebID               string    `json:"web_id,omitempty"`
	Username            string    `json:"username,omitempty"`
	Balance             int64     `json:"balance"`
	GenerationCount     int64     `json:"generation_count"`
	TotalSpent          int64     `json:"total_spent"`
	ReferralCode        string    `json:"referral_code,omitempty"`
	ReferredBy          string    `json:"referred_by,omitempty"`
	ReferralBonusEarned int64     `json:"referral_bonus_earned"`
	Blocked             bool      `json:"blocked"`
	CreatedAt           time.Time `json:"created_at"`
}

// CanAfford reports whether the account could pay the given amount. This is
// a cheap, non-authoritative check; the guarded debit remains the authority.
func (a *CreditAccount) CanAfford(amount int64) bool {
	return !a.Blocked && a.Balance >= amount
}
