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
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paintbox-ai/paintbox/internal/telegram"
	"github.com/paintbox-ai/paintbox/model"
)

const ingestPollTimeout = 25

// Ingest is the inbound chat consumer. It long-polls the delivery channel
// for user messages and turns them into queued generation jobs or session
// flow steps. Exactly one process instance may run it, guarded by the
// ingest leadership lock; a second instance polling the same token would
// steal updates from the first.
type Ingest struct {
	paintbox *Paintbox
	bot      *telegram.Client
	offset   int64
}

// NewIngest builds the consumer around the bot client.
func NewIngest(p *Paintbox, bot *telegram.Client) *Ingest {
	return &Ingest{paintbox: p, bot: bot}
}

// Run consumes updates until the context is cancelled. Poll failures back
// off briefly and continue; a handler failure never stops the loop.
func (i *Ingest) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := i.bot.GetUpdates(ctx, i.offset, ingestPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.Warnf("update poll failed: %v", err)
			time.Sleep(3 * time.Second)
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= i.offset {
				i.offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			if err := i.handleMessage(ctx, update.Message); err != nil {
				logrus.Errorf("update %d failed: %v", update.UpdateID, err)
			}
		}
	}
}

func (i *Ingest) handleMessage(ctx context.Context, msg *telegram.InboundMessage) error {
	account, err := i.paintbox.GetOrCreateAccount(ctx, fmt.Sprintf("%d", msg.From.ID), msg.From.Username)
	if err != nil {
		return err
	}

	text := strings.TrimSpace(msg.Text)

	// A pending multi-step flow consumes the next plain message.
	if !strings.HasPrefix(text, "/") && msg.LargestPhoto() == "" {
		state, err := i.paintbox.Sessions().GetState(ctx, msg.Chat.ID)
		if err != nil {
			logrus.Warnf("session read failed for chat %d: %v", msg.Chat.ID, err)
		} else if state.Awaiting == AwaitingEmail {
			if err := i.paintbox.CompletePurchaseFlow(ctx, msg.Chat.ID, text); err != nil {
				if errors.Is(err, ErrInvalidEmail) {
					return i.reply(ctx, msg, "That does not look like an email address. Start the purchase again when ready.")
				}
				return err
			}
			return nil
		}
	}

	switch {
	case strings.HasPrefix(text, "/start"):
		return i.handleStart(ctx, msg, account, text)
	case strings.HasPrefix(text, "/balance"):
		return i.reply(ctx, msg, fmt.Sprintf("You have %d credits. Lifetime generations: %d.", account.Balance, account.GenerationCount))
	case strings.HasPrefix(text, "/buy"):
		return i.handleBuy(ctx, msg, account, text)
	case strings.HasPrefix(text, "/image"):
		prompt := strings.TrimSpace(strings.TrimPrefix(text, "/image"))
		if prompt == "" {
			return i.reply(ctx, msg, "Send /image followed by a description of the picture you want.")
		}
		return i.submit(ctx, msg, account, model.JobGenerateImage, prompt, "")
	case msg.LargestPhoto() != "":
		prompt := strings.TrimSpace(msg.Caption)
		if prompt == "" {
			return i.reply(ctx, msg, "Add a caption describing how to edit this picture.")
		}
		return i.submit(ctx, msg, account, model.JobEditImage, prompt, msg.LargestPhoto())
	case text != "":
		return i.submit(ctx, msg, account, model.JobGenerateText, text, "")
	default:
		return nil
	}
}

func (i *Ingest) handleStart(ctx context.Context, msg *telegram.InboundMessage, account *model.CreditAccount, text string) error {
	parts := strings.Fields(text)
	if len(parts) > 1 {
		code := strings.ToUpper(parts[1])
		if err := i.paintbox.RedeemReferralCode(ctx, account.AccountID, code); err != nil {
			logrus.Warnf("referral code %s redeem failed for %s: %v", code, account.AccountID, err)
		}
	}
	welcome := fmt.Sprintf("Welcome! You have %d credits. Send a message to generate text, /image for a picture, or a photo with a caption to edit it. Share code %s to earn bonus credits.",
		account.Balance, account.ReferralCode)
	return i.reply(ctx, msg, welcome)
}

func (i *Ingest) handleBuy(ctx context.Context, msg *telegram.InboundMessage, account *model.CreditAccount, text string) error {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		var lines []string
		for _, pkg := range Packages() {
			lines = append(lines, fmt.Sprintf("/buy %s - %d credits for %s RUB", pkg.ID, pkg.Credits, pkg.PriceRUB.StringFixed(0)))
		}
		return i.reply(ctx, msg, "Choose a package:\n"+strings.Join(lines, "\n"))
	}
	if err := i.paintbox.StartPurchaseFlow(ctx, msg.Chat.ID, account.AccountID, parts[1]); err != nil {
		if errors.Is(err, ErrUnknownPackage) {
			return i.reply(ctx, msg, "Unknown package. Send /buy to see the options.")
		}
		return err
	}
	return nil
}

func (i *Ingest) submit(ctx context.Context, msg *telegram.InboundMessage, account *model.CreditAccount, kind model.JobKind, prompt, sourceFileID string) error {
	job := model.NewGenerationJob(kind, msg.Chat.ID, account.AccountID, prompt)
	job.SourceFileID = sourceFileID
	job.ReplyToMessageID = msg.MessageID

	err := i.paintbox.SubmitGeneration(ctx, job)
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return i.reply(ctx, msg, fmt.Sprintf("Not enough credits: this request needs %d and you have %d. Top up with /buy.",
			requiredCreditsFor(kind), account.Balance))
	case errors.Is(err, ErrAccountBlocked):
		return i.reply(ctx, msg, "Your account is blocked. Please contact support.")
	case err != nil:
		if replyErr := i.reply(ctx, msg, "Something went wrong while queueing your request. Please try again."); replyErr != nil {
			logrus.Warnf("failure reply delivery failed for chat %d: %v", msg.Chat.ID, replyErr)
		}
		return err
	}
	return nil
}

func (i *Ingest) reply(ctx context.Context, msg *telegram.InboundMessage, text string) error {
	_, err := i.paintbox.Delivery().SendMessage(ctx, msg.Chat.ID, text, msg.MessageID)
	if err != nil && errors.Is(err, telegram.ErrRateLimited) {
		return nil
	}
	return err
}
