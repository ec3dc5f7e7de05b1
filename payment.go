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
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrInvalidEmail rejects a receipt email that does not parse.
var ErrInvalidEmail = errors.New("invalid email address")

// ErrUnknownPackage rejects a purchase for a package id that does not
// exist.
var ErrUnknownPackage = errors.New("unknown credit package")

// CreditPackage is one purchasable credit bundle.
type CreditPackage struct {
	ID      string
	Credits int64
	// PriceRUB is the charge amount in rubles.
	PriceRUB decimal.Decimal
}

// creditPackages are the offered bundles. Prices are fixed in rubles;
// the payment provider handles currency.
var creditPackages = []CreditPackage{
	{ID: "starter", Credits: 10, PriceRUB: decimal.NewFromInt(99)},
	{ID: "standard", Credits: 50, PriceRUB: decimal.NewFromInt(399)},
	{ID: "studio", Credits: 150, PriceRUB: decimal.NewFromInt(999)},
}

// Packages lists the purchasable credit bundles.
func Packages() []CreditPackage {
	return creditPackages
}

func packageByID(id string) (CreditPackage, bool) {
	for _, p := range creditPackages {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPackage{}, false
}

// StartPurchaseFlow begins the email-collection step for a purchase. The
// chosen package is parked in the session; the next message from the
// conversation is expected to be the receipt email. Any prior pending
// flow for the conversation is replaced.
func (p *Paintbox) StartPurchaseFlow(ctx context.Context, chatID int64, accountID, packageID string) error {
	if _, ok := packageByID(packageID); !ok {
		return ErrUnknownPackage
	}
	state := &SessionState{
		Awaiting: AwaitingEmail,
		Data: map[string]string{
			"account_id": accountID,
			"package_id": packageID,
		},
	}
	if err := p.sessions.SetState(ctx, chatID, state); err != nil {
		// Session loss degrades UX only, but here the flow cannot
		// continue without the parked package.
		return err
	}
	messageID, err := p.delivery.SendMessage(ctx, chatID, "Please send the email address for your receipt.", 0)
	if err != nil {
		logrus.Warnf("purchase prompt delivery failed for chat %d: %v", chatID, err)
		return nil
	}
	// The prompt is flow scaffolding; it gets cleaned up when the flow
	// resolves.
	if err := p.sessions.AppendTransient(ctx, chatID, messageID); err != nil {
		logrus.Warnf("transient message track failed for chat %d: %v", chatID, err)
	}
	return nil
}

// CompletePurchaseFlow consumes the awaited email, creates the payment
// and replies with the confirmation link. The session state is cleared on
// every exit path so a failed payment attempt never wedges the
// conversation.
func (p *Paintbox) CompletePurchaseFlow(ctx context.Context, chatID int64, email string) error {
	state, err := p.sessions.GetState(ctx, chatID)
	if err != nil {
		return err
	}
	if state.Awaiting != AwaitingEmail {
		return nil
	}
	defer func() {
		if err := p.sessions.ClearState(ctx, chatID); err != nil {
			logrus.Warnf("session clear failed for chat %d: %v", chatID, err)
		}
		p.deleteTransientMessages(ctx, chatID)
	}()

	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return ErrInvalidEmail
	}

	pkg, ok := packageByID(state.Data["package_id"])
	if !ok {
		return ErrUnknownPackage
	}
	accountID := state.Data["account_id"]

	payment, err := p.payments.CreatePayment(ctx, pkg.PriceRUB,
		fmt.Sprintf("%d credits", pkg.Credits),
		map[string]interface{}{
			"account_id": accountID,
			"credits":    strconv.FormatInt(pkg.Credits, 10),
			"email":      email,
		})
	if err != nil {
		return err
	}

	link := ""
	if payment.Confirmation != nil {
		link = payment.Confirmation.ConfirmationURL
	}
	text := fmt.Sprintf("Follow this link to pay for %d credits: %s", pkg.Credits, link)
	if _, err := p.delivery.SendMessage(ctx, chatID, text, 0); err != nil {
		logrus.Warnf("payment link delivery failed for chat %d: %v", chatID, err)
	}
	return nil
}

// CancelPendingFlow drops any awaited-input state for the conversation.
func (p *Paintbox) CancelPendingFlow(ctx context.Context, chatID int64) {
	if err := p.sessions.ClearState(ctx, chatID); err != nil {
		logrus.Warnf("session clear failed for chat %d: %v", chatID, err)
	}
	p.deleteTransientMessages(ctx, chatID)
}

// deleteTransientMessages removes the flow's scaffolding messages. Both
// the drain and each deletion are best-effort.
func (p *Paintbox) deleteTransientMessages(ctx context.Context, chatID int64) {
	ids, err := p.sessions.PopAllTransient(ctx, chatID)
	if err != nil {
		logrus.Warnf("transient message drain failed for chat %d: %v", chatID, err)
		return
	}
	for _, id := range ids {
		if err := p.delivery.DeleteMessage(ctx, chatID, id); err != nil {
			logrus.Debugf("transient message %d delete failed for chat %d: %v", id, chatID, err)
		}
	}
}
