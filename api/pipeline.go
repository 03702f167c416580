/*
Copyright 2025 NBA Stats Scraper Authors.

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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	api_model "github.com/najicham/nba-stats-scraper-sub004/api/model"
	"github.com/najicham/nba-stats-scraper-sub004/internal/apierror"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// GetPhaseStatus returns the completion document, processor history and
// breaker states for one (phase, run_date).
func (a Api) GetPhaseStatus(c *gin.Context) {
	phase := model.Phase(c.Param("phase"))
	if !phase.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phase"})
		return
	}
	runDate, err := model.ParseRunDate(c.Param("run_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_date must be formatted YYYY-MM-DD"})
		return
	}

	status, err := a.orchestrator.GetPhaseStatus(c.Request.Context(), phase, runDate)
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

// IngestCompletion accepts a completion report over HTTP and publishes it
// onto the phase's completion queue. The queue-side idempotency guard treats
// HTTP retries like redeliveries.
func (a Api) IngestCompletion(c *gin.Context) {
	var req api_model.IngestCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateIngestCompletion(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := &model.CompletionEvent{
		MessageID:    req.MessageID,
		Topic:        "completions_" + req.Phase,
		Phase:        model.Phase(req.Phase),
		RunDate:      req.RunDate,
		Processor:    req.Processor,
		Status:       model.Status(req.Status),
		RecordCount:  req.RecordCount,
		ErrorSummary: req.ErrorSummary,
		EmittedAt:    time.Now(),
	}
	if err := a.orchestrator.GetQueue().EnqueueCompletion(c.Request.Context(), event); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue completion"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message_id": event.MessageID})
}

// ForceTrigger publishes the downstream trigger regardless of the completion
// fraction.
func (a Api) ForceTrigger(c *gin.Context) {
	var req api_model.ForceTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateForceTrigger(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := a.orchestrator.ForceTrigger(c.Request.Context(), model.Phase(req.Phase), req.RunDate, req.Actor, req.Reason)
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "trigger published", "phase": req.Phase, "run_date": req.RunDate})
}

// OverrideTriggered force-sets or resets the triggered flag.
func (a Api) OverrideTriggered(c *gin.Context) {
	var req api_model.OverrideTriggeredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateOverrideTriggered(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := a.orchestrator.OverrideTriggered(c.Request.Context(), model.Phase(req.Phase), req.RunDate, *req.Triggered, req.Actor, req.Reason)
	if err != nil {
		logrus.Error(err)
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "triggered flag updated", "triggered": *req.Triggered})
}

// ReleaseLock breaks the trigger lease for a (phase, run_date).
func (a Api) ReleaseLock(c *gin.Context) {
	var req api_model.ReleaseLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateReleaseLock(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := a.orchestrator.ForceReleaseLock(c.Request.Context(), model.Phase(req.Phase), req.RunDate, req.Actor, req.Reason)
	if err != nil {
		logrus.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "lock released"})
}

// Reconcile runs one sweep on demand. With ?dry_run=true the response is the
// correction report and nothing is written.
func (a Api) Reconcile(c *gin.Context) {
	dryRun := c.Query("dry_run") == "true"

	report, err := a.reconciler.Sweep(c.Request.Context(), dryRun)
	if err != nil {
		logrus.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run reconciliation"})
		return
	}

	c.JSON(http.StatusOK, report)
}
