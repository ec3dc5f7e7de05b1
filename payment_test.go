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
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/internal/yookassa"
)

func TestStartPurchaseFlowParksPackageInSession(t *testing.T) {
	p, _, delivery := newTestPaintbox(t)
	delivery.On("SendMessage", mock.Anything, int64(100), mock.Anything, int64(0)).Return(int64(1), nil)

	err := p.StartPurchaseFlow(context.Background(), 100, "acc_test", "standard")
	require.NoError(t, err)

	state, err := p.sessions.GetState(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, AwaitingEmail, state.Awaiting)
	assert.Equal(t, "standard", state.Data["package_id"])
	assert.Equal(t, "acc_test", state.Data["account_id"])
}

func TestStartPurchaseFlowRejectsUnknownPackage(t *testing.T) {
	p, _, _ := newTestPaintbox(t)

	err := p.StartPurchaseFlow(context.Background(), 100, "acc_test", "mega")
	assert.ErrorIs(t, err, ErrUnknownPackage)

	state, err := p.sessions.GetState(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, AwaitingNothing, state.Awaiting)
}

func TestCompletePurchaseFlowCreatesPaymentAndClearsSession(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	p, _, delivery := newTestPaintbox(t)
	p.payments = yookassa.NewClient(&config.YooKassaConfig{ShopID: "shop", SecretKey: "secret"})

	delivery.On("SendMessage", mock.Anything, int64(100), mock.Anything, int64(0)).Return(int64(1), nil)
	delivery.On("DeleteMessage", mock.Anything, int64(100), int64(1)).Return(nil)

	httpmock.RegisterResponder("POST", "https://api.yookassa.ru/v3/payments",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"id":     "pay-1",
			"status": "pending",
			"amount": map[string]string{"value": "399.00", "currency": "RUB"},
			"confirmation": map[string]string{
				"type":             "redirect",
				"confirmation_url": "https://yookassa.test/confirm/pay-1",
			},
		}))

	require.NoError(t, p.StartPurchaseFlow(context.Background(), 100, "acc_test", "standard"))
	require.NoError(t, p.CompletePurchaseFlow(context.Background(), 100, "buyer@example.com"))

	// The confirmation link reaches the user and the awaited-email state
	// is gone, so the next plain message is treated as a prompt again.
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	delivery.AssertCalled(t, "SendMessage", mock.Anything, int64(100),
		mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "50 credits") &&
				strings.Contains(text, "https://yookassa.test/confirm/pay-1")
		}), int64(0))

	state, err := p.sessions.GetState(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, AwaitingNothing, state.Awaiting)
	// The email prompt was scaffolding and is cleaned up with the flow.
	delivery.AssertCalled(t, "DeleteMessage", mock.Anything, int64(100), int64(1))
}

func TestCompletePurchaseFlowRejectsBadEmailAndClearsState(t *testing.T) {
	p, _, delivery := newTestPaintbox(t)
	delivery.On("SendMessage", mock.Anything, int64(100), mock.Anything, int64(0)).Return(int64(1), nil)
	delivery.On("DeleteMessage", mock.Anything, int64(100), int64(1)).Return(nil)

	require.NoError(t, p.StartPurchaseFlow(context.Background(), 100, "acc_test", "starter"))

	err := p.CompletePurchaseFlow(context.Background(), 100, "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	// A failed attempt never wedges the conversation.
	state, err := p.sessions.GetState(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, AwaitingNothing, state.Awaiting)
}

func TestCompletePurchaseFlowWithoutPendingStateIsNoop(t *testing.T) {
	p, _, delivery := newTestPaintbox(t)

	err := p.CompletePurchaseFlow(context.Background(), 100, "buyer@example.com")
	assert.NoError(t, err)
	delivery.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPackagesAreOrderedBySize(t *testing.T) {
	pkgs := Packages()
	require.Len(t, pkgs, 3)
	for i := 1; i < len(pkgs); i++ {
		assert.Greater(t, pkgs[i].Credits, pkgs[i-1].Credits)
		assert.True(t, pkgs[i].PriceRUB.GreaterThan(pkgs[i-1].PriceRUB))
	}
}
