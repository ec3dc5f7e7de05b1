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

package database

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"strings"

	"github.com/paintbox-ai/paintbox/model"
)

const accountColumns = `account_id, telegram_id, web_id, username, balance, generation_count, total_spent, referral_code, referred_by, referral_bonus_earned, blocked, created_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*model.CreditAccount, error) {
	acc := &model.CreditAccount{}
	var telegramID, webID, username, referralCode, referredBy sql.NullString
	err := row.Scan(
		&acc.AccountID,
		&telegramID,
		&webID,
		&username,
		&acc.Balance,
		&acc.GenerationCount,
		&acc.TotalSpent,
		&referralCode,
		&referredBy,
		&acc.ReferralBonusEarned,
		&acc.Blocked,
		&acc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.TelegramID = telegramID.String
	acc.WebID = webID.String
	acc.Username = username.String
	acc.ReferralCode = referralCode.String
	acc.ReferredBy = referredBy.String
	return acc, nil
}

// generateReferralCode produces a short upper-case share code.
func generateReferralCode() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteByte(alphabet[rand.Intn(len(alphabet))])
	}
	return b.String()
}

// GetOrCreateAccountByTelegramID returns the account for a chat user,
// creating it with the starting free balance at first contact.
func (d *Datasource) GetOrCreateAccountByTelegramID(ctx context.Context, telegramID, username string, startingBalance int64) (*model.CreditAccount, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE telegram_id = $1
	`, telegramID)
	acc, err := scanAccount(row)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	accountID := model.GenerateUUIDWithSuffix("acc")
	row = d.Conn.QueryRowContext(ctx, `
		INSERT INTO accounts (account_id, telegram_id, username, balance, referral_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+accountColumns+`
	`, accountID, telegramID, username, startingBalance, generateReferralCode())
	return scanAccount(row)
}

// GetAccountByID retrieves an account by its account id.
func (d *Datasource) GetAccountByID(ctx context.Context, accountID string) (*model.CreditAccount, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE account_id = $1
	`, accountID)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

// GetAccountByReferralCode retrieves an account by its share code.
func (d *Datasource) GetAccountByReferralCode(ctx context.Context, code string) (*model.CreditAccount, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE referral_code = $1
	`, code)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

// LinkReferral records who referred an account. The guard makes the link
// write-once and self-referral impossible, so a repeated redeem can never
// award a second bonus. Returns whether this call created the link.
func (d *Datasource) LinkReferral(ctx context.Context, accountID, referrerID string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE accounts SET referred_by = $1
		WHERE account_id = $2 AND account_id <> $1 AND (referred_by IS NULL OR referred_by = '')
	`, referrerID, accountID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DebitBalance atomically subtracts amount from the balance, guarded so the
// balance can never go negative. Concurrent debits serialize on the row;
// the losing debit observes zero affected rows and gets
// ErrInsufficientBalance.
func (d *Datasource) DebitBalance(ctx context.Context, accountID string, amount int64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - $1
		WHERE account_id = $2 AND blocked = FALSE AND balance >= $1
	`, amount, accountID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		acc, err := d.GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if acc.Blocked {
			return ErrAccountBlocked
		}
		return ErrInsufficientBalance
	}
	return nil
}

// DebitBalanceOverdraft subtracts amount without the non-negative guard.
// Only the variable-cost text path may use it, after a pre-check against
// the conservative cost estimate; the overdraft is bounded to one debit
// per request.
func (d *Datasource) DebitBalanceOverdraft(ctx context.Context, accountID string, amount int64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - $1
		WHERE account_id = $2 AND blocked = FALSE
	`, amount, accountID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		acc, err := d.GetAccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if acc.Blocked {
			return ErrAccountBlocked
		}
		return ErrAccountNotFound
	}
	return nil
}

// CreditBalance atomically adds amount to the balance. Always succeeds for
// an existing, known account.
func (d *Datasource) CreditBalance(ctx context.Context, accountID string, amount int64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $1 WHERE account_id = $2
	`, amount, accountID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// IncrementGeneration bumps the lifetime counters after a successful debit.
func (d *Datasource) IncrementGeneration(ctx context.Context, accountID string, cost int64) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE accounts
		SET generation_count = generation_count + 1, total_spent = total_spent + $1
		WHERE account_id = $2
	`, cost, accountID)
	return err
}

// AddReferralBonus credits the referrer and records the earned bonus.
func (d *Datasource) AddReferralBonus(ctx context.Context, accountID string, bonus, credits int64) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE accounts
		SET referral_bonus_earned = referral_bonus_earned + $1, balance = balance + $2
		WHERE account_id = $3
	`, bonus, credits, accountID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetBlocked flags or unflags an account. Accounts are never deleted.
func (d *Datasource) SetBlocked(ctx context.Context, accountID string, blocked bool) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE accounts SET blocked = $1 WHERE account_id = $2
	`, blocked, accountID)
	return err
}
