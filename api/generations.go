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

	"github.com/gin-gonic/gin"

	"github.com/paintbox-ai/paintbox"
	model2 "github.com/paintbox-ai/paintbox/api/model"
	"github.com/paintbox-ai/paintbox/model"
)

// SubmitGeneration validates the request, runs the cheap balance
// pre-check and queues the job. 402 for insufficient balance and 403 for
// a blocked account are expected outcomes, not server errors.
func (a Api) SubmitGeneration(c *gin.Context) {
	var newGeneration model2.SubmitGeneration
	if err := c.BindJSON(&newGeneration); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newGeneration.ValidateSubmitGeneration(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := model.NewGenerationJob(model.JobKind(newGeneration.Kind), newGeneration.ChatID, newGeneration.AccountID, newGeneration.Prompt)
	job.SourceFileID = newGeneration.SourceFileID
	job.ReplyToMessageID = newGeneration.ReplyToMessageID

	err := a.paintbox.SubmitGeneration(c.Request.Context(), job)
	if err != nil {
		switch {
		case errors.Is(err, paintbox.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
		case errors.Is(err, paintbox.ErrAccountBlocked):
			c.JSON(http.StatusForbidden, gin.H{"error": "account blocked"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.JobID, "status": "queued"})
}

// GetBalance returns the account's balance and lifetime counters.
func (a Api) GetBalance(c *gin.Context) {
	accountID, passed := c.Params.Get("account_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required. pass id in the route /balances/:account_id"})
		return
	}

	account, err := a.paintbox.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, account)
}

// StartPurchase begins the email-collection purchase flow for a
// conversation.
func (a Api) StartPurchase(c *gin.Context) {
	var newPurchase model2.StartPurchase
	if err := c.BindJSON(&newPurchase); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newPurchase.ValidateStartPurchase(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.paintbox.StartPurchaseFlow(c.Request.Context(), newPurchase.ChatID, newPurchase.AccountID, newPurchase.PackageID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "awaiting email"})
}
