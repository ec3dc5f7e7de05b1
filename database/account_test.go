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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatasource(t *testing.T) (*Datasource, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return &Datasource{Conn: db}, mock
}

func accountRows(accountID string, balance int64, blocked bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"account_id", "telegram_id", "web_id", "username", "balance",
		"generation_count", "total_spent", "referral_code", "referred_by",
		"referral_bonus_earned", "blocked", "created_at",
	}).AddRow(accountID, "777", nil, "sam", balance, 3, 12, "SHARE1", nil, 0, blocked, time.Now())
}

func TestGetOrCreateAccountReturnsExisting(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT .* FROM accounts WHERE telegram_id =").
		WithArgs("777").
		WillReturnRows(accountRows("acc_1", 10, false))

	acc, err := ds.GetOrCreateAccountByTelegramID(context.Background(), "777", "sam", 10)
	require.NoError(t, err)
	assert.Equal(t, "acc_1", acc.AccountID)
	assert.Equal(t, int64(10), acc.Balance)
	assert.Equal(t, "sam", acc.Username)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateAccountCreatesWithStartingBalance(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT .* FROM accounts WHERE telegram_id =").
		WithArgs("888").
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}))

	mock.ExpectQuery("INSERT INTO accounts").
		WithArgs(sqlmock.AnyArg(), "888", "new-user", int64(10), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"account_id", "telegram_id", "web_id", "username", "balance",
			"generation_count", "total_spent", "referral_code", "referred_by",
			"referral_bonus_earned", "blocked", "created_at",
		}).AddRow("acc_2", "888", nil, "new-user", 10, 0, 0, "NEWC0D", nil, 0, false, time.Now()))

	acc, err := ds.GetOrCreateAccountByTelegramID(context.Background(), "888", "new-user", 10)
	require.NoError(t, err)
	assert.Equal(t, "acc_2", acc.AccountID)
	assert.Equal(t, int64(10), acc.Balance)
	assert.NotEmpty(t, acc.ReferralCode)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountByIDNotFound(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT .* FROM accounts WHERE account_id =").
		WithArgs("acc_missing").
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}))

	_, err := ds.GetAccountByID(context.Background(), "acc_missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDebitBalanceGuardedSuccess(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1\s+WHERE account_id = \$2 AND blocked = FALSE AND balance >= \$1`).
		WithArgs(int64(2), "acc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ds.DebitBalance(context.Background(), "acc_1", 2)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitBalanceInsufficientWritesNothing(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1`).
		WithArgs(int64(5), "acc_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM accounts WHERE account_id =").
		WithArgs("acc_1").
		WillReturnRows(accountRows("acc_1", 1, false))

	err := ds.DebitBalance(context.Background(), "acc_1", 5)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitBalanceContendingDebitsOnlyOneSucceeds(t *testing.T) {
	ds, mock := newTestDatasource(t)

	// Two debits of 6 against a balance of 10, each fine alone. Postgres
	// serializes the row update, so the later one re-evaluates the
	// balance >= amount guard against the already-debited balance of 4
	// and writes nothing.
	mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1\s+WHERE account_id = \$2 AND blocked = FALSE AND balance >= \$1`).
		WithArgs(int64(6), "acc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1\s+WHERE account_id = \$2 AND blocked = FALSE AND balance >= \$1`).
		WithArgs(int64(6), "acc_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM accounts WHERE account_id =").
		WithArgs("acc_1").
		WillReturnRows(accountRows("acc_1", 4, false))

	require.NoError(t, ds.DebitBalance(context.Background(), "acc_1", 6))
	assert.ErrorIs(t, ds.DebitBalance(context.Background(), "acc_1", 6), ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitBalanceBlockedAccount(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1`).
		WithArgs(int64(1), "acc_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM accounts WHERE account_id =").
		WithArgs("acc_1").
		WillReturnRows(accountRows("acc_1", 100, true))

	err := ds.DebitBalance(context.Background(), "acc_1", 1)
	assert.ErrorIs(t, err, ErrAccountBlocked)
}

func TestDebitBalanceOverdraftHasNoFloor(t *testing.T) {
	ds, mock := newTestDatasource(t)

	// The overdraft variant must not carry the balance guard; the update
	// applies even when it takes the balance negative.
	mock.ExpectExec(`UPDATE accounts SET balance = balance - \$1\s+WHERE account_id = \$2 AND blocked = FALSE\s*$`).
		WithArgs(int64(5), "acc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ds.DebitBalanceOverdraft(context.Background(), "acc_1", 5)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditBalanceUnknownAccount(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(`UPDATE accounts SET balance = balance \+ \$1`).
		WithArgs(int64(50), "acc_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ds.CreditBalance(context.Background(), "acc_missing", 50)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLinkReferralIsWriteOnce(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(`UPDATE accounts SET referred_by = \$1`).
		WithArgs("acc_referrer", "acc_new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts SET referred_by = \$1`).
		WithArgs("acc_referrer", "acc_new").
		WillReturnResult(sqlmock.NewResult(0, 0))

	linked, err := ds.LinkReferral(context.Background(), "acc_new", "acc_referrer")
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = ds.LinkReferral(context.Background(), "acc_new", "acc_referrer")
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestAddReferralBonusCreditsBalance(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec(`UPDATE accounts\s+SET referral_bonus_earned = referral_bonus_earned \+ \$1, balance = balance \+ \$2`).
		WithArgs(int64(5), int64(5), "acc_referrer").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ds.AddReferralBonus(context.Background(), "acc_referrer", 5, 5)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
