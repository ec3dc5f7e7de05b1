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
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/paintbox-ai/paintbox/config"
	redlock "github.com/paintbox-ai/paintbox/internal/lock"
	"github.com/paintbox-ai/paintbox/model"
)

// StaleJobSweeper cleans up after jobs that died without a terminal
// outcome, usually a worker crash mid-job. Jobs that fail normally are
// archived too, but their error carries the notified marker from failJob;
// only tasks without it (lease expiry, a kill mid-job) still have a user
// staring at an animated status indicator. The sweeper tells those users
// once, removes the indicator and drops the task. A Redis lock keeps
// concurrent instances from double-notifying.
type StaleJobSweeper struct {
	paintbox       *Paintbox
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

const sweepLockKey = "paintbox:stale-job-sweep"

func NewStaleJobSweeper(p *Paintbox) *StaleJobSweeper {
	return &StaleJobSweeper{
		paintbox:       p,
		pollInterval:   60 * time.Second,
		stuckThreshold: 10 * time.Minute,
		stopCh:         make(chan struct{}),
	}
}

func (s *StaleJobSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.Info("Stale generation job sweeper started")
}

func (s *StaleJobSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("Stale generation job sweeper stopped")
}

func (s *StaleJobSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stale generation job sweeper context cancelled")
			return
		case <-s.stopCh:
			logrus.Info("Stale generation job sweeper stop signal received")
			return
		case <-ticker.C:
			if n := s.sweep(ctx); n > 0 {
				logrus.Infof("Swept %d stale generation jobs", n)
			}
		}
	}
}

// sweep drains archived generation tasks older than the threshold. It
// runs under a short lock so only one instance sweeps at a time; failing
// to take the lock just skips this round.
func (s *StaleJobSweeper) sweep(ctx context.Context) int {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Errorf("sweep config fetch failed: %v", err)
		return 0
	}

	locker := redlock.NewLocker(s.paintbox.redis, sweepLockKey, uuid.New().String())
	if err := locker.Lock(ctx, s.pollInterval); err != nil {
		return 0
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Warnf("sweep lock release failed: %v", err)
		}
	}()

	tasks, err := s.paintbox.queue.Inspector.ListArchivedTasks(cfg.Queue.GenerationQueue)
	if err != nil {
		logrus.Errorf("failed to list archived generation tasks: %v", err)
		return 0
	}

	swept := 0
	for _, task := range tasks {
		if time.Since(task.LastFailedAt) < s.stuckThreshold {
			continue
		}

		s.notifyAbandoned(ctx, task)

		if err := s.paintbox.queue.Inspector.DeleteTask(cfg.Queue.GenerationQueue, task.ID); err != nil {
			logrus.Errorf("failed to delete archived task %s: %v", task.ID, err)
			continue
		}
		swept++
	}
	return swept
}

// notifyAbandoned messages the user behind a task that died without an
// outcome. A task whose recorded error carries the notified marker already
// got its one failure message from the worker and is dropped silently.
func (s *StaleJobSweeper) notifyAbandoned(ctx context.Context, task *asynq.TaskInfo) {
	if failureAlreadyNotified(task.LastErr) {
		return
	}

	var job model.GenerationJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		logrus.Errorf("archived task %s has an unreadable payload: %v", task.ID, err)
		return
	}
	if _, err := s.paintbox.delivery.SendMessage(ctx, job.ChatID,
		"Your request could not be completed and you were not charged. Please try again.",
		job.ReplyToMessageID); err != nil {
		logrus.Warnf("stale job notice delivery failed for %s: %v", job.JobID, err)
	}
	s.paintbox.clearStatusIndicator(ctx, &job)
}
