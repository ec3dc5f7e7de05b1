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

// Package yookassa is the payment-provider client. It only creates and
// fetches payments; crediting happens exclusively through the ledger when
// the provider's webhook event arrives.
package yookassa

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/internal/request"
)

const defaultBaseURL = "https://api.yookassa.ru/v3"

type Client struct {
	shopID    string
	secretKey string
	returnURL string
	baseURL   string
}

func NewClient(cnf *config.YooKassaConfig) *Client {
	return &Client{
		shopID:    cnf.ShopID,
		secretKey: cnf.SecretKey,
		returnURL: cnf.ReturnUrl,
		baseURL:   defaultBaseURL,
	}
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type Payment struct {
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	Paid         bool                   `json:"paid"`
	Amount       Amount                 `json:"amount"`
	Confirmation *Confirmation          `json:"confirmation,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

type createPaymentRequest struct {
	Amount       Amount                 `json:"amount"`
	Capture      bool                   `json:"capture"`
	Confirmation Confirmation           `json:"confirmation"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// CreatePayment registers a new payment with the provider. The idempotence
// key is a fresh uuid per attempt, as the provider requires.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, description string, metadata map[string]interface{}) (*Payment, error) {
	body := createPaymentRequest{
		Amount:       Amount{Value: amount.StringFixed(2), Currency: "RUB"},
		Capture:      true,
		Confirmation: Confirmation{Type: "redirect", ReturnURL: c.returnURL},
		Description:  description,
		Metadata:     metadata,
	}
	payload, err := request.ToJsonReq(&body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(c.shopID, c.secretKey))
	req.Header.Set("Idempotence-Key", uuid.New().String())

	var payment Payment
	resp, err := request.Call(req, &payment)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yookassa: create payment failed with status %d", resp.StatusCode)
	}
	return &payment, nil
}

// GetPayment fetches a payment by its provider id. Used to re-verify a
// webhook event before crediting.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(c.shopID, c.secretKey))

	var payment Payment
	resp, err := request.Call(req, &payment)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yookassa: get payment failed with status %d", resp.StatusCode)
	}
	return &payment, nil
}
