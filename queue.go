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
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/paintbox-ai/paintbox/config"
	redis_db "github.com/paintbox-ai/paintbox/internal/redis-db"
	"github.com/paintbox-ai/paintbox/model"
)

var tracer = otel.Tracer("paintbox.queue")

// Queue is the durable generation work queue.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// TaskTypeForKind maps a job kind to its asynq task type.
func TaskTypeForKind(kind model.JobKind) string {
	return fmt.Sprintf("generation:%s", kind)
}

// Enqueue adds a generation job to the Redis queue. The task id is the job
// id, so a duplicate submit of the same job is a no-op. Jobs carry
// MaxRetry(0): the worker owns all retrying, because a queue-level
// re-delivery after the ledger was debited could double-charge.
//
// A transient Redis failure during enqueue is retried with capped
// exponential backoff and jitter; this is queue plumbing, distinct from
// the resolver's candidate fallback.
func (q *Queue) Enqueue(ctx context.Context, job *model.GenerationJob) error {
	ctx, span := tracer.Start(ctx, "Adding Generation Job To Redis Queue")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := job.ToJSON()
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeForKind(job.Kind), payload,
		asynq.TaskID(job.JobID),
		asynq.Queue(cnf.Queue.GenerationQueue),
		asynq.MaxRetry(0),
	)

	enqueueOp := func() error {
		info, err := q.Client.EnqueueContext(ctx, task)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				// Already enqueued; at-least-once is fine, twice is not.
				return nil
			}
			log.Println(err, info)
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(enqueueOp, backoff.WithContext(policy, ctx)); err != nil {
		return err
	}

	log.Printf(" [*] Successfully enqueued generation job: %s (%s)", job.JobID, job.Kind)
	return nil
}

// GetJobFromQueue retrieves a pending job from the queue by its ID.
//
// Parameters:
// - jobID string: The ID of the job to retrieve.
//
// Returns:
// - *model.GenerationJob: A pointer to the job if found.
// - error: An error if the job could not be retrieved.
func (q *Queue) GetJobFromQueue(jobID string) (*model.GenerationJob, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	task, err := q.Inspector.GetTaskInfo(cfg.Queue.GenerationQueue, jobID)
	if err == nil && task != nil {
		var job model.GenerationJob
		if err := json.Unmarshal(task.Payload, &job); err != nil {
			return nil, err
		}
		return &job, nil
	}
	return nil, nil // Job not found in the queue
}
