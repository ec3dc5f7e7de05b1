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

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/paintbox-ai/paintbox/database/mocks"
	"github.com/paintbox-ai/paintbox/internal/genai"
	"github.com/paintbox-ai/paintbox/model"
)

func newWorkerHarness(t *testing.T) (*Paintbox, *mocks.MockDataSource, *MockDelivery, *MockInvoker) {
	t.Helper()
	p, datasource, delivery := newTestPaintbox(t)
	backend := &MockInvoker{}
	p.resolver = NewResolver(testGenAIConfig(), backend)
	return p, datasource, delivery, backend
}

func newGenerationTask(t *testing.T, job *model.GenerationJob) *asynq.Task {
	t.Helper()
	payload, err := job.ToJSON()
	require.NoError(t, err)
	return asynq.NewTask(TaskTypeForKind(job.Kind), payload)
}

func imageJob() *model.GenerationJob {
	job := model.NewGenerationJob(model.JobGenerateImage, 1001, "acc_test", "a red barn")
	job.ReplyToMessageID = 42
	job.StatusMessageID = 55
	return job
}

func TestProcessGenerationTaskSuccessDebitsAndDelivers(t *testing.T) {
	p, datasource, delivery, backend := newWorkerHarness(t)
	job := imageJob()

	datasource.On("GetAccountByID", mock.Anything, "acc_test").Return(testAccount(10), nil)
	backend.On("Invoke", mock.Anything, matchModel("image-a"), mock.Anything).
		Return(&genai.Output{Data: []byte{1, 2, 3}, MimeType: "image/png", Model: "image-a", CostEstimate: 60}, nil)
	datasource.On("DebitBalance", mock.Anything, "acc_test", int64(2)).Return(nil)
	datasource.On("RecordLedgerEntry", mock.Anything, mock.Anything).Return(&model.CreditTransaction{}, nil)
	datasource.On("IncrementGeneration", mock.Anything, "acc_test", int64(2)).Return(nil)
	datasource.On("RecordGeneration", mock.Anything, mock.MatchedBy(func(gen *model.Generation) bool {
		return gen.Kind == model.JobGenerateImage && gen.Cost == 2 && gen.Model == "image-a"
	})).Return(&model.Generation{}, nil)
	delivery.On("SendPhoto", mock.Anything, int64(1001), []byte{1, 2, 3}, "", int64(42)).Return(int64(77), nil)
	delivery.On("DeleteMessage", mock.Anything, int64(1001), int64(55)).Return(nil)

	err := p.ProcessGenerationTask(context.Background(), newGenerationTask(t, job))

	assert.NoError(t, err)
	datasource.AssertExpectations(t)
	delivery.AssertExpectations(t)
}

func TestProcessGenerationTaskInsufficientBalanceFailsWithoutDebit(t *testing.T) {
	p, datasource, delivery, _ := newWorkerHarness(t)
	job := imageJob()

	datasource.On("GetAccountByID", mock.Anything, "acc_test").Return(testAccount(1), nil)
	delivery.On("SendMessage", mock.Anything, int64(1001), mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "needs 2") && strings.Contains(text, "you have 1")
	}), int64(42)).Return(int64(88), nil)
	delivery.On("DeleteMessage", mock.Anything, int64(1001), int64(55)).Return(nil)

	err := p.ProcessGenerationTask(context.Background(), newGenerationTask(t, job))

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	// The returned error carries the notified marker, so the archived task
	// is invisible to the stale-job sweeper's second notice.
	assert.True(t, failureAlreadyNotified(err.Error()))
	datasource.AssertNotCalled(t, "DebitBalance", mock.Anything, mock.Anything, mock.Anything)
	delivery.AssertExpectations(t)
}

func TestProcessGenerationTaskExhaustedBackendsFailWithoutDebit(t *testing.T) {
	p, datasource, delivery, backend := newWorkerHarness(t)
	job := imageJob()

	datasource.On("GetAccountByID", mock.Anything, "acc_test").Return(testAccount(10), nil)
	backend.On("Invoke", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, unavailable(genai.ClassRateLimited, "any"))
	delivery.On("SendMessage", mock.Anything, int64(1001), mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "busy")
	}), int64(42)).Return(int64(88), nil)
	delivery.On("DeleteMessage", mock.Anything, int64(1001), int64(55)).Return(nil)

	err := p.ProcessGenerationTask(context.Background(), newGenerationTask(t, job))

	assert.ErrorIs(t, err, ErrNoBackendAvailable)
	datasource.AssertNotCalled(t, "DebitBalance", mock.Anything, mock.Anything, mock.Anything)
	delivery.AssertExpectations(t)
}

func TestProcessGenerationTaskTextChargesCappedCostPostHoc(t *testing.T) {
	p, datasource, delivery, backend := newWorkerHarness(t)
	job := model.NewGenerationJob(model.JobGenerateText, 1001, "acc_test", "write me a story")
	job.ReplyToMessageID = 42
	job.StatusMessageID = 55

	datasource.On("GetAccountByID", mock.Anything, "acc_test").Return(testAccount(5), nil)
	backend.On("Invoke", mock.Anything, matchModel("text-a"), mock.Anything).
		Return(&genai.Output{Text: "Once upon a time...", Model: "text-a", CostEstimate: 2000}, nil)
	// 2000/250+1 = 9 credits, capped at the configured maximum of 5.
	datasource.On("DebitBalanceOverdraft", mock.Anything, "acc_test", int64(5)).Return(nil)
	datasource.On("RecordLedgerEntry", mock.Anything, mock.Anything).Return(&model.CreditTransaction{}, nil)
	datasource.On("IncrementGeneration", mock.Anything, "acc_test", int64(5)).Return(nil)
	datasource.On("RecordGeneration", mock.Anything, mock.MatchedBy(func(gen *model.Generation) bool {
		return gen.Kind == model.JobGenerateText && gen.Cost == 5 && gen.ResultText != ""
	})).Return(&model.Generation{}, nil)
	delivery.On("SendMessage", mock.Anything, int64(1001), "Once upon a time...", int64(42)).Return(int64(90), nil)
	delivery.On("DeleteMessage", mock.Anything, int64(1001), int64(55)).Return(nil)

	err := p.ProcessGenerationTask(context.Background(), newGenerationTask(t, job))

	assert.NoError(t, err)
	datasource.AssertNotCalled(t, "DebitBalance", mock.Anything, mock.Anything, mock.Anything)
	datasource.AssertExpectations(t)
}

func TestProcessGenerationTaskEditDownloadsSource(t *testing.T) {
	p, datasource, delivery, backend := newWorkerHarness(t)
	job := model.NewGenerationJob(model.JobEditImage, 1001, "acc_test", "paint the barn blue")
	job.SourceFileID = "file-abc"
	job.ReplyToMessageID = 42
	job.StatusMessageID = 55
	source := []byte{9, 8, 7}

	datasource.On("GetAccountByID", mock.Anything, "acc_test").Return(testAccount(10), nil)
	delivery.On("DownloadFile", mock.Anything, "file-abc").Return(source, nil)
	backend.On("Invoke", mock.Anything, matchModel("edit-a"), mock.MatchedBy(func(p genai.Payload) bool {
		return len(p.SourceImage) == len(source)
	})).Return(&genai.Output{Data: []byte{4, 5}, MimeType: "image/png", Model: "edit-a"}, nil)
	datasource.On("DebitBalance", mock.Anything, "acc_test", int64(2)).Return(nil)
	datasource.On("RecordLedgerEntry", mock.Anything, mock.Anything).Return(&model.CreditTransaction{}, nil)
	datasource.On("IncrementGeneration", mock.Anything, "acc_test", int64(2)).Return(nil)
	datasource.On("RecordGeneration", mock.Anything, mock.Anything).Return(&model.Generation{}, nil)
	delivery.On("SendPhoto", mock.Anything, int64(1001), []byte{4, 5}, "", int64(42)).Return(int64(91), nil)
	delivery.On("DeleteMessage", mock.Anything, int64(1001), int64(55)).Return(nil)

	err := p.ProcessGenerationTask(context.Background(), newGenerationTask(t, job))

	assert.NoError(t, err)
	delivery.AssertExpectations(t)
}

func TestProcessGenerationTaskDeliveryFailureAfterDebitIsSwallowed(t *testing.T) {
	p, datasource, delivery, backend := newWorkerHarness(t)
	job := imageJob()

	datasource.On("GetAccountByID", mock.Anything, "acc_test").Return(testAccount(10), nil)
	backend.On("Invoke", mock.Anything, matchModel("image-a"), mock.Anything).
		Return(&genai.Output{Data: []byte{1}, Model: "image-a"}, nil)
	datasource.On("DebitBalance", mock.Anything, "acc_test", int64(2)).Return(nil)
	datasource.On("RecordLedgerEntry", mock.Anything, mock.Anything).Return(&model.CreditTransaction{}, nil)
	datasource.On("IncrementGeneration", mock.Anything, "acc_test", int64(2)).Return(nil)
	datasource.On("RecordGeneration", mock.Anything, mock.Anything).Return(&model.Generation{}, nil)
	delivery.On("SendPhoto", mock.Anything, int64(1001), []byte{1}, "", int64(42)).
		Return(int64(0), assert.AnError)
	delivery.On("DeleteMessage", mock.Anything, int64(1001), int64(55)).Return(nil)

	// The user was charged; re-throwing would let the queue re-deliver and
	// charge them twice.
	err := p.ProcessGenerationTask(context.Background(), newGenerationTask(t, job))

	assert.NoError(t, err)
	datasource.AssertNumberOfCalls(t, "DebitBalance", 1)
}

func TestCreditCostForText(t *testing.T) {
	assert.Equal(t, int64(1), creditCostForText(0, 5))
	assert.Equal(t, int64(1), creditCostForText(100, 5))
	assert.Equal(t, int64(2), creditCostForText(250, 5))
	assert.Equal(t, int64(5), creditCostForText(10000, 5))
}
