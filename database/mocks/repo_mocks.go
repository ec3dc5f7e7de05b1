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
package mocks

import (
	"context"

	"github.com/paintbox-ai/paintbox/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Account methods

func (m *MockDataSource) GetOrCreateAccountByTelegramID(ctx context.Context, telegramID, username string, startingBalance int64) (*model.CreditAccount, error) {
	args := m.Called(ctx, telegramID, username, startingBalance)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockDataSource) GetAccountByID(ctx context.Context, accountID string) (*model.CreditAccount, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockDataSource) GetAccountByReferralCode(ctx context.Context, code string) (*model.CreditAccount, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockDataSource) LinkReferral(ctx context.Context, accountID, referrerID string) (bool, error) {
	args := m.Called(ctx, accountID, referrerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) DebitBalance(ctx context.Context, accountID string, amount int64) error {
	args := m.Called(ctx, accountID, amount)
	return args.Error(0)
}

func (m *MockDataSource) DebitBalanceOverdraft(ctx context.Context, accountID string, amount int64) error {
	args := m.Called(ctx, accountID, amount)
	return args.Error(0)
}

func (m *MockDataSource) CreditBalance(ctx context.Context, accountID string, amount int64) error {
	args := m.Called(ctx, accountID, amount)
	return args.Error(0)
}

func (m *MockDataSource) IncrementGeneration(ctx context.Context, accountID string, cost int64) error {
	args := m.Called(ctx, accountID, cost)
	return args.Error(0)
}

func (m *MockDataSource) AddReferralBonus(ctx context.Context, accountID string, bonus, credits int64) error {
	args := m.Called(ctx, accountID, bonus, credits)
	return args.Error(0)
}

func (m *MockDataSource) SetBlocked(ctx context.Context, accountID string, blocked bool) error {
	args := m.Called(ctx, accountID, blocked)
	return args.Error(0)
}

// Ledger entry methods

func (m *MockDataSource) RecordLedgerEntry(ctx context.Context, txn *model.CreditTransaction) (*model.CreditTransaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditTransaction), args.Error(1)
}

func (m *MockDataSource) ApplyPurchase(ctx context.Context, txn *model.CreditTransaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockDataSource) LedgerEntryExistsByRef(ctx context.Context, reference string) (bool, error) {
	args := m.Called(ctx, reference)
	return args.Bool(0), args.Error(1)
}

// Generation methods

func (m *MockDataSource) RecordGeneration(ctx context.Context, gen *model.Generation) (*model.Generation, error) {
	args := m.Called(ctx, gen)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Generation), args.Error(1)
}
