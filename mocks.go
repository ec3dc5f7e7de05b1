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

	"github.com/stretchr/testify/mock"

	"github.com/paintbox-ai/paintbox/internal/genai"
	"github.com/paintbox-ai/paintbox/model"
)

// MockInvoker is a mock generation backend for resolver and worker tests.
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, candidate model.ModelCandidate, payload genai.Payload) (*genai.Output, error) {
	args := m.Called(ctx, candidate, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*genai.Output), args.Error(1)
}

// MockDelivery is a mock delivery channel recording sent and deleted
// messages.
type MockDelivery struct {
	mock.Mock
}

func (m *MockDelivery) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	args := m.Called(ctx, chatID, text, replyTo)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDelivery) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, replyTo int64) (int64, error) {
	args := m.Called(ctx, chatID, photo, caption, replyTo)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDelivery) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	args := m.Called(ctx, chatID, messageID, text)
	return args.Error(0)
}

func (m *MockDelivery) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	args := m.Called(ctx, chatID, messageID)
	return args.Error(0)
}

func (m *MockDelivery) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
