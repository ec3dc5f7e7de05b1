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
	"embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/database"
	"github.com/paintbox-ai/paintbox/internal/cache"
	"github.com/paintbox-ai/paintbox/internal/genai"
	redlock "github.com/paintbox-ai/paintbox/internal/lock"
	redis_db "github.com/paintbox-ai/paintbox/internal/redis-db"
	"github.com/paintbox-ai/paintbox/internal/telegram"
	"github.com/paintbox-ai/paintbox/internal/yookassa"
	"github.com/paintbox-ai/paintbox/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// DeliveryChannel is the surface the pipeline needs from the chat delivery
// side. Every method must be safe to call against an already-deleted or
// unreachable target; callers decide what to swallow.
type DeliveryChannel interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error)
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, replyTo int64) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Paintbox is the main service struct wiring the ledger, the job queue,
// the fallback resolver and the delivery channel together.
type Paintbox struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	cache      cache.Cache
	sessions   *SessionStore
	resolver   *Resolver
	delivery   DeliveryChannel
	payments   *yookassa.Client
}

// ingestLeaderKey guards the inbound chat event subscription: only one
// process instance may consume updates at a time.
const ingestLeaderKey = "paintbox:ingest-leader"

// NewPaintbox initializes the service from configuration and the provided
// datasource.
func NewPaintbox(db database.IDataSource) (*Paintbox, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := newRedisClient(configuration)
	if err != nil {
		return nil, err
	}
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	backend := genai.NewClient(&configuration.GenAI)
	delivery := telegram.NewClient(&configuration.Telegram)

	newPaintbox := &Paintbox{
		queue:      NewQueue(configuration),
		redis:      redisClient,
		datasource: db,
		cache:      newCache,
		sessions:   NewSessionStore(redisClient),
		resolver:   NewResolver(&configuration.GenAI, backend),
		delivery:   delivery,
		payments:   yookassa.NewClient(&configuration.YooKassa),
	}
	return newPaintbox, nil
}

// Sessions exposes the ephemeral session store.
func (p *Paintbox) Sessions() *SessionStore {
	return p.sessions
}

// Queue exposes the job queue.
func (p *Paintbox) Queue() *Queue {
	return p.queue
}

// Delivery exposes the chat delivery channel.
func (p *Paintbox) Delivery() DeliveryChannel {
	return p.delivery
}

// SubmitGeneration is the single entry point for new work from any
// surface. It runs the cheap eligibility pre-check, posts the in-progress
// indicator when the job originates from a conversation, and enqueues the
// job. The pre-check is advisory; the guarded debit inside the worker
// remains the authority.
func (p *Paintbox) SubmitGeneration(ctx context.Context, job *model.GenerationJob) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	required := cfg.Pricing.MaxTextCost
	switch job.Kind {
	case model.JobGenerateImage:
		required = cfg.Pricing.ImageGeneration
	case model.JobEditImage:
		required = cfg.Pricing.ImageEdit
	}
	if _, err := p.CheckBalance(ctx, job.AccountID, required); err != nil {
		return err
	}

	if job.ChatID != 0 && job.StatusMessageID == 0 {
		presenter := NewStatusPresenter(p.delivery, job.ChatID)
		messageID, err := presenter.Start(ctx, job.ReplyToMessageID)
		if err != nil {
			// Work proceeds without the indicator; losing the animation
			// is degraded UX, not a failure.
			logrus.Warnf("status indicator start failed for chat %d: %v", job.ChatID, err)
		} else {
			job.StatusMessageID = messageID
		}
	}

	if err := p.queue.Enqueue(ctx, job); err != nil {
		if job.StatusMessageID != 0 {
			if delErr := p.delivery.DeleteMessage(ctx, job.ChatID, job.StatusMessageID); delErr != nil {
				logrus.Debugf("status indicator cleanup failed for chat %d: %v", job.ChatID, delErr)
			}
		}
		return err
	}
	return nil
}

// AcquireIngestLeadership blocks until this instance holds the inbound
// subscription lock or the wait times out. The returned locker must be
// kept alive with ExtendLock while consuming, and unlocked on shutdown.
func (p *Paintbox) AcquireIngestLeadership(ctx context.Context, waitTimeout time.Duration) (*redlock.Locker, error) {
	locker := redlock.NewLocker(p.redis, ingestLeaderKey, model.GenerateUUIDWithSuffix("leader"))
	if err := locker.WaitLock(ctx, ingestLeaderTTL, waitTimeout); err != nil {
		return nil, err
	}
	return locker, nil
}

const ingestLeaderTTL = 30 * time.Second

// KeepIngestLeadership renews the leadership lock until the context is
// cancelled or renewal fails. The returned channel closes when leadership
// is lost.
func (p *Paintbox) KeepIngestLeadership(ctx context.Context, locker *redlock.Locker) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ingestLeaderTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(lost)
				return
			case <-ticker.C:
				if err := locker.ExtendLock(ctx, ingestLeaderTTL); err != nil {
					close(lost)
					return
				}
			}
		}
	}()
	return lost
}

func newRedisClient(configuration *config.Configuration) (redis.UniversalClient, error) {
	redisClient, err := redis_db.NewRedisClient(fmt.Sprintf("redis://%s", configuration.Redis.Dns))
	if err != nil {
		return nil, err
	}
	return redisClient.Client(), nil
}
