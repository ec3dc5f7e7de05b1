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
package model

// SubmitGeneration is the request body for queueing a generation job.
type SubmitGeneration struct {
	Kind             string `json:"kind"`
	AccountID        string `json:"account_id"`
	Prompt           string `json:"prompt"`
	ChatID           int64  `json:"chat_id,omitempty"`
	SourceFileID     string `json:"source_file_id,omitempty"`
	ReplyToMessageID int64  `json:"reply_to_message_id,omitempty"`
}

// StartPurchase is the request body for beginning a purchase flow.
type StartPurchase struct {
	AccountID string `json:"account_id"`
	ChatID    int64  `json:"chat_id"`
	PackageID string `json:"package_id"`
}

// PaymentNotification is the provider's webhook envelope.
type PaymentNotification struct {
	Event  string               `json:"event"`
	Object *NotificationPayment `json:"object"`
}

// NotificationPayment is the payment object inside a webhook event.
type NotificationPayment struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Paid     bool              `json:"paid"`
	Amount   map[string]string `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}
