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

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paintbox-ai/paintbox/model"
)

func TestRecordLedgerEntryFillsDefaults(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(sqlmock.AnyArg(), "acc_1", "debit", int64(-2), "", "image generation", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	txn, err := ds.RecordLedgerEntry(context.Background(), &model.CreditTransaction{
		AccountID:   "acc_1",
		Kind:        "debit",
		Amount:      -2,
		Description: "image generation",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, txn.TransactionID)
	assert.False(t, txn.CreatedAt.IsZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLedgerEntryDuplicateReference(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := ds.RecordLedgerEntry(context.Background(), &model.CreditTransaction{
		AccountID: "acc_1",
		Kind:      "purchase",
		Amount:    50,
		Reference: "yookassa_pay-1",
	})
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestApplyPurchaseCommitsEntryAndCreditTogether(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(sqlmock.AnyArg(), "acc_1", "purchase", int64(50), "yookassa_pay-1", "Purchase of 50 credits", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE accounts SET balance = balance \+ \$1 WHERE account_id = \$2`).
		WithArgs(int64(50), "acc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ds.ApplyPurchase(context.Background(), &model.CreditTransaction{
		AccountID:   "acc_1",
		Kind:        "purchase",
		Amount:      50,
		Reference:   "yookassa_pay-1",
		Description: "Purchase of 50 credits",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPurchaseFailedCreditRollsBackEntry(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE accounts").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := ds.ApplyPurchase(context.Background(), &model.CreditTransaction{
		AccountID: "acc_1",
		Kind:      "purchase",
		Amount:    50,
		Reference: "yookassa_pay-1",
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPurchaseDuplicateReferenceRollsBack(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := ds.ApplyPurchase(context.Background(), &model.CreditTransaction{
		AccountID: "acc_1",
		Kind:      "purchase",
		Amount:    50,
		Reference: "yookassa_pay-1",
	})
	assert.ErrorIs(t, err, ErrDuplicateReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerEntryExistsByRef(t *testing.T) {
	ds, mock := newTestDatasource(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("yookassa_pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("yookassa_pay-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := ds.LedgerEntryExistsByRef(context.Background(), "yookassa_pay-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = ds.LedgerEntryExistsByRef(context.Background(), "yookassa_pay-2")
	require.NoError(t, err)
	assert.False(t, exists)
}
