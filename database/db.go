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

	_ "github.com/lib/pq"
	pkgerrors "github.com/pkg/errors"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/model"
)

var (
	// ErrInsufficientBalance is the expected outcome of a guarded debit
	// that would take the balance below zero. It is a normal result, not
	// an exception path.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAccountNotFound means no account row matched the id.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountBlocked means the account is flagged blocked and may not
	// spend credits.
	ErrAccountBlocked = errors.New("account blocked")
	// ErrDuplicateReference means a ledger entry with the same reference
	// already exists. Payment crediting relies on it for idempotency.
	ErrDuplicateReference = errors.New("transaction reference already used")
)

// IDataSource is the persistence contract for accounts, ledger entries and
// generation records. All balance mutations go through these methods; no
// other component touches raw balance fields.
type IDataSource interface {
	account
	transaction
	generation
}

type account interface {
	GetOrCreateAccountByTelegramID(ctx context.Context, telegramID, username string, startingBalance int64) (*model.CreditAccount, error)
	GetAccountByID(ctx context.Context, accountID string) (*model.CreditAccount, error)
	GetAccountByReferralCode(ctx context.Context, code string) (*model.CreditAccount, error)
	LinkReferral(ctx context.Context, accountID, referrerID string) (bool, error)
	DebitBalance(ctx context.Context, accountID string, amount int64) error
	DebitBalanceOverdraft(ctx context.Context, accountID string, amount int64) error
	CreditBalance(ctx context.Context, accountID string, amount int64) error
	IncrementGeneration(ctx context.Context, accountID string, cost int64) error
	AddReferralBonus(ctx context.Context, accountID string, bonus, credits int64) error
	SetBlocked(ctx context.Context, accountID string, blocked bool) error
}

type transaction interface {
	RecordLedgerEntry(ctx context.Context, txn *model.CreditTransaction) (*model.CreditTransaction, error)
	ApplyPurchase(ctx context.Context, txn *model.CreditTransaction) error
	LedgerEntryExistsByRef(ctx context.Context, reference string) (bool, error)
}

type generation interface {
	RecordGeneration(ctx context.Context, gen *model.Generation) (*model.Generation, error)
}

// Datasource implements IDataSource on Postgres.
type Datasource struct {
	Conn *sql.DB
}

// NewDataSource connects to the configured Postgres instance and ensures
// the schema exists.
func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := connectDB(configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: con}, nil
}

// ConnectDB opens and pings the configured Postgres instance. The migrate
// command uses it directly, without the schema bootstrap.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "database connection error ❌")
	}
	err = db.Ping()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "database ping error ❌")
	}
	return db, nil
}

func connectDB(dns string) (*sql.DB, error) {
	db, err := ConnectDB(dns)
	if err != nil {
		return nil, err
	}
	err = createTables(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createTables creates the accounts, ledger and generations tables if they
// do not exist yet.
func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			telegram_id TEXT UNIQUE,
			web_id TEXT UNIQUE,
			username TEXT,
			balance BIGINT NOT NULL DEFAULT 0,
			generation_count BIGINT NOT NULL DEFAULT 0,
			total_spent BIGINT NOT NULL DEFAULT 0,
			referral_code TEXT UNIQUE,
			referred_by TEXT,
			referral_bonus_earned BIGINT NOT NULL DEFAULT 0,
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES accounts(account_id),
			kind TEXT NOT NULL,
			amount BIGINT NOT NULL,
			reference TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS generations (
			id BIGSERIAL PRIMARY KEY,
			generation_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES accounts(account_id),
			kind TEXT NOT NULL,
			prompt TEXT NOT NULL,
			model TEXT,
			cost BIGINT NOT NULL,
			result_text TEXT,
			image_data TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
	`)
	return err
}
