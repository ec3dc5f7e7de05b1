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
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/paintbox-ai/paintbox"
	model2 "github.com/paintbox-ai/paintbox/api/model"
	"github.com/paintbox-ai/paintbox/model"
)

// YooKassaWebhook applies a payment-succeeded event to the ledger. The
// provider redelivers until it sees a 2xx, so a duplicate event answers
// 200: the credit already happened.
func (a Api) YooKassaWebhook(c *gin.Context) {
	var notification model2.PaymentNotification
	if err := c.BindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := notification.ValidatePaymentNotification(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if notification.Event != "payment.succeeded" || !notification.Object.Paid {
		// Other lifecycle events are acknowledged and ignored.
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	payment := notification.Object
	credits, err := strconv.ParseInt(payment.Metadata["credits"], 10, 64)
	if err != nil || credits <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event metadata is missing a valid credits amount"})
		return
	}
	accountID := payment.Metadata["account_id"]
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event metadata is missing account_id"})
		return
	}

	event := &model.PaymentEvent{
		PaymentID:      payment.ID,
		AccountID:      accountID,
		AmountPaid:     payment.Amount["value"] + " " + payment.Amount["currency"],
		CreditsGranted: credits,
	}

	if err := a.paintbox.ApplyPayment(c.Request.Context(), event); err != nil {
		if errors.Is(err, paintbox.ErrDuplicatePayment) {
			c.JSON(http.StatusOK, gin.H{"status": "already applied"})
			return
		}
		logrus.Errorf("payment %s failed to apply: %v", payment.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment could not be applied"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}
