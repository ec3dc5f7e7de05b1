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
	"time"

	"github.com/lib/pq"

	"github.com/paintbox-ai/paintbox/model"
)

// RecordLedgerEntry appends one transaction row. A unique-violation on the
// reference column maps to ErrDuplicateReference, which payment crediting
// uses for webhook idempotency.
func (d *Datasource) RecordLedgerEntry(ctx context.Context, txn *model.CreditTransaction) (*model.CreditTransaction, error) {
	if txn.TransactionID == "" {
		txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account_id, kind, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, txn.TransactionID, txn.AccountID, txn.Kind, txn.Amount, txn.Reference, txn.Description, txn.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateReference
		}
		return nil, err
	}
	return txn, nil
}

// ApplyPurchase writes the purchase ledger entry and the matching balance
// credit in a single database transaction. A duplicate reference rolls
// both back, so ErrDuplicateReference guarantees the first delivery's
// credit committed; any other failure leaves the event unclaimed for the
// provider's redelivery.
func (d *Datasource) ApplyPurchase(ctx context.Context, txn *model.CreditTransaction) error {
	if txn.TransactionID == "" {
		txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account_id, kind, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, txn.TransactionID, txn.AccountID, txn.Kind, txn.Amount, txn.Reference, txn.Description, txn.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $1 WHERE account_id = $2
	`, txn.Amount, txn.AccountID)
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
	return tx.Commit()
}

// LedgerEntryExistsByRef reports whether a ledger entry with the given
// reference has already been written.
func (d *Datasource) LedgerEntryExistsByRef(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE reference = $1)
	`, reference).Scan(&exists)
	return exists, err
}
