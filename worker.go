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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/internal/genai"
	"github.com/paintbox-ai/paintbox/internal/notification"
	"github.com/paintbox-ai/paintbox/internal/telegram"
	"github.com/paintbox-ai/paintbox/model"
)

// generationThrottle paces backend calls across a worker process. One job
// per interval keeps the upstream rate limiter out of the steady state.
type generationThrottle struct {
	mu   sync.Mutex
	next time.Time
}

var workerThrottle generationThrottle

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

func (g *generationThrottle) wait(ctx context.Context, interval time.Duration) error {
	g.mu.Lock()
	now := time.Now()
	wait := g.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	g.next = now.Add(wait).Add(interval)
	g.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProcessGenerationTask is the asynq handler for all generation task
// types. Per job: resolve the capability's candidate list, then on success
// debit the ledger, persist the generation, deliver the artifact and
// remove the status indicator. On terminal failure it sends exactly one
// classified message, removes the indicator and returns the error so the
// queue's failure bookkeeping stays accurate. The ledger is never debited
// for a failed job.
func (p *Paintbox) ProcessGenerationTask(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("paintbox.worker").Start(ctx, "Process Generation Job From Redis Queue")
	defer span.End()

	var job model.GenerationJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return logAndRecordError(span, "generation job payload decode failed: ", err)
	}

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if err := workerThrottle.wait(ctx, time.Duration(cfg.Queue.RateIntervalMs)*time.Millisecond); err != nil {
		return err
	}

	switch job.Kind {
	case model.JobGenerateImage:
		err = p.runImageJob(ctx, &job, model.CapabilityImageGenerate, cfg.Pricing.ImageGeneration)
	case model.JobEditImage:
		err = p.runImageJob(ctx, &job, model.CapabilityImageEdit, cfg.Pricing.ImageEdit)
	case model.JobGenerateText:
		err = p.runTextJob(ctx, &job, cfg.Pricing.MaxTextCost)
	default:
		err = fmt.Errorf("unknown generation job kind: %s", job.Kind)
	}

	if err != nil {
		span.RecordError(err)
		return p.failJob(ctx, &job, err)
	}

	log.Println(" [*] Generation Job Processed", job.JobID)
	return nil
}

// runImageJob handles the two fixed-price image kinds. The price is known
// up front, so the balance is re-checked before the backend call and the
// debit stays guarded.
func (p *Paintbox) runImageJob(ctx context.Context, job *model.GenerationJob, capability model.Capability, price int64) error {
	if _, err := p.CheckBalance(ctx, job.AccountID, price); err != nil {
		return err
	}

	req := ResolveRequest{Capability: capability, Prompt: job.Prompt}
	if capability == model.CapabilityImageEdit {
		source, err := p.delivery.DownloadFile(ctx, job.SourceFileID)
		if err != nil {
			return fmt.Errorf("source image download failed: %w", err)
		}
		req.SourceImage = source
		req.SourceMime = "image/jpeg"
	}

	out, err := p.resolver.Resolve(ctx, req)
	if err != nil {
		return err
	}
	if !out.HasArtifact() {
		return ErrContentRejected
	}

	// A result exists; this debit is the job's point of no return.
	if err := p.DebitAccount(ctx, job.AccountID, price, fmt.Sprintf("%s via %s", job.Kind, out.Model)); err != nil {
		return err
	}

	p.finishJob(ctx, job, out, price)
	return nil
}

// runTextJob handles variable-cost text generation. The cost is only
// known after the call, so the balance is pre-checked against the
// conservative maximum and the debit skips the non-negative guard. This
// is the only post-hoc debit path; it runs once per job, which bounds the
// overdraft to -maxCost.
func (p *Paintbox) runTextJob(ctx context.Context, job *model.GenerationJob, maxCost int64) error {
	if _, err := p.CheckBalance(ctx, job.AccountID, maxCost); err != nil {
		return err
	}

	out, err := p.resolver.Resolve(ctx, ResolveRequest{Capability: model.CapabilityText, Prompt: job.Prompt})
	if err != nil {
		return err
	}

	cost := creditCostForText(out.CostEstimate, maxCost)
	if err := p.DebitAccountOverdraft(ctx, job.AccountID, cost, fmt.Sprintf("%s via %s", job.Kind, out.Model)); err != nil {
		return err
	}

	p.finishJob(ctx, job, out, cost)
	return nil
}

// creditCostForText converts the backend's token-ish estimate into
// credits, always charging at least one and never more than the cap.
func creditCostForText(estimate, maxCost int64) int64 {
	cost := estimate/250 + 1
	if cost > maxCost {
		cost = maxCost
	}
	return cost
}

// finishJob runs everything that happens after the debit. From here the
// job has exactly one outcome already (the user was charged), so delivery
// and bookkeeping failures are logged and reported, never re-thrown: a
// queue retry would charge the user twice.
func (p *Paintbox) finishJob(ctx context.Context, job *model.GenerationJob, out *genai.Output, cost int64) {
	if err := p.RecordGenerationStats(ctx, job.AccountID, cost); err != nil {
		notifyWorkerError(fmt.Errorf("generation stats update failed for %s: %w", job.JobID, err))
	}

	gen := &model.Generation{
		GenerationID: model.GenerateUUIDWithSuffix("gen"),
		AccountID:    job.AccountID,
		Kind:         job.Kind,
		Prompt:       job.Prompt,
		Model:        out.Model,
		Cost:         cost,
		ResultText:   out.Text,
		CreatedAt:    time.Now(),
	}
	if out.HasArtifact() {
		gen.ImageData = base64.StdEncoding.EncodeToString(out.Data)
	}
	if _, err := p.datasource.RecordGeneration(ctx, gen); err != nil {
		notifyWorkerError(fmt.Errorf("generation record insert failed for %s: %w", job.JobID, err))
	}

	var deliverErr error
	if out.HasArtifact() {
		_, deliverErr = p.delivery.SendPhoto(ctx, job.ChatID, out.Data, "", job.ReplyToMessageID)
	} else {
		_, deliverErr = p.delivery.SendMessage(ctx, job.ChatID, out.Text, job.ReplyToMessageID)
	}
	if deliverErr != nil {
		notifyWorkerError(fmt.Errorf("result delivery failed for %s: %w", job.JobID, deliverErr))
	}

	p.clearStatusIndicator(ctx, job)
}

// failureNotifiedPrefix marks errors whose job already delivered its one
// user-visible failure message. The marker survives into the archived
// task's LastErr, where the stale-job sweeper reads it to tell a handled
// failure apart from a worker that died mid-job.
const failureNotifiedPrefix = "user notified: "

func failureAlreadyNotified(lastErr string) bool {
	return strings.HasPrefix(lastErr, failureNotifiedPrefix)
}

// failJob sends the classified failure message, removes the status
// indicator and re-throws the original error tagged as notified. Every
// terminal failure produces exactly one user-visible message; a dangling
// "in progress" indicator is never left behind.
func (p *Paintbox) failJob(ctx context.Context, job *model.GenerationJob, cause error) error {
	text := p.userFacingFailure(ctx, job, cause)
	if _, err := p.delivery.SendMessage(ctx, job.ChatID, text, job.ReplyToMessageID); err != nil {
		notifyWorkerError(fmt.Errorf("failure message delivery failed for %s: %w", job.JobID, err))
	}
	p.clearStatusIndicator(ctx, job)
	logrus.Infof("Generation job %s failed: %v", job.JobID, cause)
	return fmt.Errorf("%s%w", failureNotifiedPrefix, cause)
}

func (p *Paintbox) userFacingFailure(ctx context.Context, job *model.GenerationJob, cause error) string {
	switch {
	case errors.Is(cause, ErrInsufficientBalance):
		required := requiredCreditsFor(job.Kind)
		available := int64(0)
		if account, err := p.GetAccount(ctx, job.AccountID); err == nil {
			available = account.Balance
		}
		return fmt.Sprintf("Not enough credits: this request needs %d and you have %d. Top up your balance and try again.", required, available)
	case errors.Is(cause, ErrAccountBlocked):
		return "Your account is blocked. Please contact support."
	case errors.Is(cause, ErrContentRejected):
		return "The request was declined by the content policy. Try rephrasing your prompt."
	case errors.Is(cause, ErrNoBackendAvailable):
		return "All generation backends are busy right now. Please try again in a few minutes."
	default:
		return "Something went wrong while processing your request. Please try again."
	}
}

func requiredCreditsFor(kind model.JobKind) int64 {
	cfg, err := config.Fetch()
	if err != nil {
		return 0
	}
	switch kind {
	case model.JobGenerateImage:
		return cfg.Pricing.ImageGeneration
	case model.JobEditImage:
		return cfg.Pricing.ImageEdit
	default:
		return cfg.Pricing.MaxTextCost
	}
}

// clearStatusIndicator deletes the in-progress message on a best-effort
// basis. An already-deleted target is fine; the only variant worth
// reporting is anything other than a rate limit, and even that never
// fails the job.
func (p *Paintbox) clearStatusIndicator(ctx context.Context, job *model.GenerationJob) {
	if job.StatusMessageID == 0 {
		return
	}
	if err := p.delivery.DeleteMessage(ctx, job.ChatID, job.StatusMessageID); err != nil {
		if errors.Is(err, telegram.ErrRateLimited) {
			return
		}
		logrus.Warnf("status indicator cleanup failed for %s: %v", job.JobID, err)
	}
}

func notifyWorkerError(err error) {
	logrus.Error(err)
	notification.NotifyError(err)
}
