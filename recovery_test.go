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

	"github.com/paintbox-ai/paintbox/model"
)

func archivedTask(t *testing.T, job *model.GenerationJob, lastErr string) *asynq.TaskInfo {
	t.Helper()
	payload, err := job.ToJSON()
	require.NoError(t, err)
	return &asynq.TaskInfo{
		ID:      job.JobID,
		Type:    TaskTypeForKind(job.Kind),
		Payload: payload,
		LastErr: lastErr,
	}
}

func TestNotifyAbandonedMessagesCrashedJobOnce(t *testing.T) {
	p, _, delivery := newTestPaintbox(t)
	sweeper := NewStaleJobSweeper(p)
	job := imageJob()

	delivery.On("SendMessage", mock.Anything, int64(1001), mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "not charged")
	}), int64(42)).Return(int64(99), nil)
	delivery.On("DeleteMessage", mock.Anything, int64(1001), int64(55)).Return(nil)

	sweeper.notifyAbandoned(context.Background(), archivedTask(t, job, asynq.ErrLeaseExpired.Error()))

	delivery.AssertExpectations(t)
}

func TestNotifyAbandonedSkipsJobThatAlreadyMessaged(t *testing.T) {
	p, _, delivery := newTestPaintbox(t)
	sweeper := NewStaleJobSweeper(p)
	job := imageJob()

	// The worker's failure path already sent the classified message; a
	// second "you were not charged" notice would contradict it.
	task := archivedTask(t, job, failureNotifiedPrefix+ErrInsufficientBalance.Error())
	sweeper.notifyAbandoned(context.Background(), task)

	delivery.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	delivery.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestFailureAlreadyNotified(t *testing.T) {
	assert.True(t, failureAlreadyNotified(failureNotifiedPrefix+"insufficient balance"))
	assert.False(t, failureAlreadyNotified(asynq.ErrLeaseExpired.Error()))
	assert.False(t, failureAlreadyNotified(""))
}
