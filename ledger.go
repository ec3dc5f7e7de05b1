/*
Copyright 2025 Paintbox Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package paintbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/database"
	"github.com/paintbox-ai/paintbox/model"
)

// Re-exported ledger outcomes. Insufficient balance is a normal result the
// pipeline checks for, not an exception path.
var (
	ErrInsufficientBalance = database.ErrInsufficientBalance
	ErrAccountBlocked      = database.ErrAccountBlocked
	// ErrDuplicatePayment means a payment event with the same external id
	// was already applied. Webhook handlers treat it as success.
	ErrDuplicatePayment = errors.New("payment already applied")
)

const balanceCacheTTL = 30 * time.Second

func balanceCacheKey(accountID string) string {
	return fmt.Sprintf("balance:%s", accountID)
}

// GetOrCreateAccount resolves the chat user to a credit account, creating
// it with the starting free balance at first contact.
func (p *Paintbox) GetOrCreateAccount(ctx context.Context, telegramID, username string) (*model.CreditAccount, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return p.datasource.GetOrCreateAccountByTelegramID(ctx, telegramID, username, cnf.Pricing.StartingBalance)
}

// GetAccount retrieves an account by id.
func (p *Paintbox) GetAccount(ctx context.Context, accountID string) (*model.CreditAccount, error) {
	return p.datasource.GetAccountByID(ctx, accountID)
}

// CheckBalance is the cheap, non-authoritative eligibility pre-check done
// before enqueueing work. It reads through a short-lived cache; the
// guarded debit remains the authority and is the only thing that can
// actually spend credits.
func (p *Paintbox) CheckBalance(ctx context.Context, accountID string, required int64) (*model.CreditAccount, error) {
	var cached model.CreditAccount
	if err := p.cache.Get(ctx, balanceCacheKey(accountID), &cached); err == nil && cached.AccountID != "" {
		if cached.Blocked {
			return &cached, ErrAccountBlocked
		}
		if cached.Balance >= required {
			return &cached, nil
		}
		// A stale low balance must not reject a user who just topped up;
		// fall through to the datasource.
	}

	account, err := p.datasource.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, balanceCacheKey(accountID), account, balanceCacheTTL); err != nil {
		logrus.Warnf("balance cache set failed for %s: %v", accountID, err)
	}
	if account.Blocked {
		return account, ErrAccountBlocked
	}
	if account.Balance < required {
		return account, ErrInsufficientBalance
	}
	return account, nil
}

// DebitAccount atomically spends credits and appends the matching ledger
// entry. The debit is written first; if the ledger entry insert fails the
// insert is retried with backoff, because a missing ledger entry is
// recoverable by reconciliation while a missing debit is not.
func (p *Paintbox) DebitAccount(ctx context.Context, accountID string, amount int64, description string) error {
	if err := p.datasource.DebitBalance(ctx, accountID, amount); err != nil {
		return err
	}
	p.invalidateBalance(ctx, accountID)
	p.appendLedgerEntry(ctx, &model.CreditTransaction{
		AccountID:   accountID,
		Kind:        model.TransactionGeneration,
		Amount:      -amount,
		Reference:   model.GenerateUUIDWithSuffix("ref"),
		Description: description,
	})
	return nil
}

// DebitAccountOverdraft spends credits without the non-negative guard.
// Only the variable-cost text path calls it, after pre-checking the
// balance against the conservative estimate; a single debit per request
// bounds the overdraft to -maxTextCost.
func (p *Paintbox) DebitAccountOverdraft(ctx context.Context, accountID string, amount int64, description string) error {
	if err := p.datasource.DebitBalanceOverdraft(ctx, accountID, amount); err != nil {
		return err
	}
	p.invalidateBalance(ctx, accountID)
	p.appendLedgerEntry(ctx, &model.CreditTransaction{
		AccountID:   accountID,
		Kind:        model.TransactionGeneration,
		Amount:      -amount,
		Reference:   model.GenerateUUIDWithSuffix("ref"),
		Description: description,
	})
	return nil
}

// CreditAccount grants credits (admin adjustments, refunds) and appends
// the ledger entry.
func (p *Paintbox) CreditAccount(ctx context.Context, accountID string, amount int64, kind, description string) error {
	if err := p.datasource.CreditBalance(ctx, accountID, amount); err != nil {
		return err
	}
	p.invalidateBalance(ctx, accountID)
	p.appendLedgerEntry(ctx, &model.CreditTransaction{
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Reference:   model.GenerateUUIDWithSuffix("ref"),
		Description: description,
	})
	return nil
}

// RecordGenerationStats bumps the lifetime counters. Called together with
// the debit in the same logical step.
func (p *Paintbox) RecordGenerationStats(ctx context.Context, accountID string, cost int64) error {
	return p.datasource.IncrementGeneration(ctx, accountID, cost)
}

// AddReferralBonus credits the referrer for a converted referral.
func (p *Paintbox) AddReferralBonus(ctx context.Context, referrerID string, bonus int64) error {
	if err := p.datasource.AddReferralBonus(ctx, referrerID, bonus, bonus); err != nil {
		return err
	}
	p.invalidateBalance(ctx, referrerID)
	p.appendLedgerEntry(ctx, &model.CreditTransaction{
		AccountID:   referrerID,
		Kind:        model.TransactionReferral,
		Amount:      bonus,
		Reference:   model.GenerateUUIDWithSuffix("ref"),
		Description: "Referral bonus",
	})
	return nil
}

// RedeemReferralCode links a new account to the referrer behind the code
// and pays out the bonus once. An unknown code returns ErrAccountNotFound;
// redeeming twice or against your own code is a silent no-op.
func (p *Paintbox) RedeemReferralCode(ctx context.Context, accountID, code string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	referrer, err := p.datasource.GetAccountByReferralCode(ctx, code)
	if err != nil {
		return err
	}
	linked, err := p.datasource.LinkReferral(ctx, accountID, referrer.AccountID)
	if err != nil {
		return err
	}
	if !linked {
		return nil
	}
	return p.AddReferralBonus(ctx, referrer.AccountID, cfg.Pricing.ReferralBonus)
}

// ApplyPayment credits a purchase from a payment-provider webhook event.
// Idempotent per external payment id: the ledger entry and the balance
// credit commit in one database transaction keyed on the entry's unique
// reference, so a duplicate delivery returns ErrDuplicatePayment only
// after the credit is known to have landed. A failed apply rolls back
// whole, leaving the event claimable by the provider's redelivery.
func (p *Paintbox) ApplyPayment(ctx context.Context, event *model.PaymentEvent) error {
	txn := &model.CreditTransaction{
		AccountID:   event.AccountID,
		Kind:        model.TransactionPurchase,
		Amount:      event.CreditsGranted,
		Reference:   paymentReference(event.PaymentID),
		Description: fmt.Sprintf("Purchase of %d credits (%s paid)", event.CreditsGranted, event.AmountPaid),
	}
	applyOp := func() error {
		err := p.datasource.ApplyPurchase(ctx, txn)
		if errors.Is(err, database.ErrDuplicateReference) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(applyOp, ledgerRetryPolicy(ctx)); err != nil {
		if errors.Is(err, database.ErrDuplicateReference) {
			return ErrDuplicatePayment
		}
		return err
	}
	p.invalidateBalance(ctx, event.AccountID)
	return nil
}

func paymentReference(paymentID string) string {
	return "yookassa_" + paymentID
}

// appendLedgerEntry writes the transaction row for a mutation that already
// committed. Failures are retried with backoff and finally logged; the
// balance change is never rolled back for a missing ledger row.
func (p *Paintbox) appendLedgerEntry(ctx context.Context, txn *model.CreditTransaction) {
	op := func() error {
		_, err := p.datasource.RecordLedgerEntry(ctx, txn)
		if errors.Is(err, database.ErrDuplicateReference) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, ledgerRetryPolicy(ctx)); err != nil {
		logrus.Errorf("ledger entry write failed for account %s (%s %d): %v",
			txn.AccountID, txn.Kind, txn.Amount, err)
	}
}

func ledgerRetryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(policy, ctx)
}

func (p *Paintbox) invalidateBalance(ctx context.Context, accountID string) {
	if err := p.cache.Delete(ctx, balanceCacheKey(accountID)); err != nil {
		logrus.Warnf("balance cache invalidation failed for %s: %v", accountID, err)
	}
}
