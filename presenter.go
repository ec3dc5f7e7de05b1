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
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paintbox-ai/paintbox/internal/telegram"
)

// statusFrames are the animation states cycled while a job is in flight.
var statusFrames = []string{"⏳ Working on it", "⌛ Working on it.", "⏳ Working on it..", "⌛ Working on it..."}

var statusFrameInterval = 4 * time.Second

// statusMaxLifetime caps the animation so a crashed worker cannot leave a
// message editing itself forever. The worker deletes the message on
// completion; the deletion failing the next edit is the normal stop
// signal.
const statusMaxLifetime = 10 * time.Minute

// StatusPresenter owns one in-progress indicator message. Start sends the
// message and animates it; Stop halts the animation and deletes the
// message on a best-effort basis. A rate-limited edit stops the animation
// outright instead of skipping a frame, so the presenter never compounds
// the throttling it just hit.
type StatusPresenter struct {
	delivery  DeliveryChannel
	chatID    int64
	messageID int64

	stopOnce sync.Once
	done     chan struct{}
}

// NewStatusPresenter creates a presenter for one conversation.
func NewStatusPresenter(delivery DeliveryChannel, chatID int64) *StatusPresenter {
	return &StatusPresenter{
		delivery: delivery,
		chatID:   chatID,
		done:     make(chan struct{}),
	}
}

// Start sends the indicator message and begins the animation loop in the
// background. The returned message id goes into the job so whichever
// process finishes the job can remove the indicator.
func (s *StatusPresenter) Start(ctx context.Context, replyTo int64) (int64, error) {
	messageID, err := s.delivery.SendMessage(ctx, s.chatID, statusFrames[0], replyTo)
	if err != nil {
		return 0, err
	}
	s.messageID = messageID
	go s.animate(ctx)
	return messageID, nil
}

// MessageID returns the indicator message id, zero before Start.
func (s *StatusPresenter) MessageID() int64 {
	return s.messageID
}

func (s *StatusPresenter) animate(ctx context.Context) {
	ticker := time.NewTicker(statusFrameInterval)
	defer ticker.Stop()
	deadline := time.After(statusMaxLifetime)

	frame := 1
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-deadline:
			logrus.Warnf("status indicator %d outlived its job, abandoning animation", s.messageID)
			return
		case <-ticker.C:
			err := s.delivery.EditMessageText(ctx, s.chatID, s.messageID, statusFrames[frame%len(statusFrames)])
			if err != nil {
				if errors.Is(err, telegram.ErrRateLimited) {
					logrus.Warnf("status indicator %d rate limited, stopping animation", s.messageID)
				}
				// Any other edit failure means the message is gone,
				// usually because the worker already deleted it.
				return
			}
			frame++
		}
	}
}

// Stop halts the animation and deletes the indicator message. Failure to
// delete is swallowed; the message may already be gone.
func (s *StatusPresenter) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.messageID == 0 {
			return
		}
		if err := s.delivery.DeleteMessage(ctx, s.chatID, s.messageID); err != nil {
			logrus.Debugf("status indicator %d delete failed: %v", s.messageID, err)
		}
	})
}
