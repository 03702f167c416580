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

package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/najicham/nba-stats-scraper-sub004/config"
	"github.com/najicham/nba-stats-scraper-sub004/internal/apierror"
	"github.com/najicham/nba-stats-scraper-sub004/internal/retry"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// HandleCompletionEvent processes one processor completion report. The path
// is: idempotency drop, history append, monotonic merge into the completion
// document under CAS with retry, then threshold evaluation. Redelivered
// events with a MessageID already marked handled are acknowledged silently.
func (o *Orchestrator) HandleCompletionEvent(ctx context.Context, event *model.CompletionEvent) error {
	ctx, span := tracer.Start(ctx, "Handling completion event")
	defer span.End()

	if err := validateCompletionEvent(event); err != nil {
		// Malformed events are logged and dropped; retrying cannot fix them.
		logrus.Errorf("dropping malformed completion event %s: %v", event.MessageID, err)
		return nil
	}

	if o.idempotency.AlreadyHandled(ctx, event.Topic, event.MessageID) {
		logrus.Infof("duplicate completion event dropped: %s", event.MessageID)
		return nil
	}

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	phaseCnf, ok := cnf.Pipeline.Phase(string(event.Phase))
	if !ok {
		logrus.Warnf("completion event for unconfigured phase %s ignored: %s", event.Phase, event.MessageID)
		return nil
	}

	// Only terminal statuses are attempt outcomes. Running/pending heartbeats
	// from a long-running processor must not score as breaker failures.
	if event.Status.Terminal() {
		o.breakers.RecordAttempt(event.Processor, event.Status.Completed())
	}

	if err := o.recordHistory(ctx, event); err != nil {
		return err
	}

	doc, err := o.mergeCompletion(ctx, event, phaseCnf.ExpectedProcessors)
	if err != nil {
		return err
	}

	// Mark handled only after the guarded side effects are durable, so a
	// crash in between replays the event rather than losing it.
	if err := o.idempotency.MarkHandled(ctx, event.Topic, event.MessageID); err != nil {
		logrus.Warnf("failed to mark event handled %s: %v", event.MessageID, err)
	}

	if doc == nil {
		return nil
	}
	return o.evaluateThreshold(ctx, doc, phaseCnf.TriggerThreshold)
}

func validateCompletionEvent(event *model.CompletionEvent) error {
	if event.MessageID == "" {
		return errors.New("missing message_id")
	}
	if !event.Phase.Valid() {
		return errors.Errorf("invalid phase %q", event.Phase)
	}
	if !event.Status.Valid() {
		return errors.Errorf("invalid status %q", event.Status)
	}
	if _, err := model.ParseRunDate(event.RunDate); err != nil {
		return err
	}
	if event.Processor == "" {
		return errors.New("missing processor_name")
	}
	return nil
}

// recordHistory appends the event to the append-only completion history.
func (o *Orchestrator) recordHistory(ctx context.Context, event *model.CompletionEvent) error {
	rec := &model.ProcessorCompletionRecord{
		Phase:        event.Phase,
		RunDate:      event.RunDate,
		Processor:    event.Processor,
		Status:       event.Status,
		RecordCount:  event.RecordCount,
		StartedAt:    event.EmittedAt,
		ErrorSummary: event.ErrorSummary,
	}
	if event.Status.Terminal() {
		at := event.EmittedAt
		rec.CompletedAt = &at
	}
	return o.datasource.RecordProcessorCompletion(ctx, rec)
}

// mergeCompletion folds the event's status into the phase completion document
// under the monotonic merge rule, creating the document on first contact and
// retrying CAS conflicts with layered backoff. It returns the updated
// document, or nil when the event was for an unexpected processor.
func (o *Orchestrator) mergeCompletion(ctx context.Context, event *model.CompletionEvent, expectedProcessors []string) (*model.PhaseCompletionDocument, error) {
	var doc *model.PhaseCompletionDocument

	err := retry.DoLayered(ctx, func() error {
		var err error
		doc, err = o.datasource.GetPhaseCompletion(ctx, event.Phase, event.RunDate)
		if apierror.IsNotFound(err) {
			if err = o.datasource.CreatePhaseCompletion(ctx, event.Phase, event.RunDate, expectedProcessors); err != nil {
				return err
			}
			doc, err = o.datasource.GetPhaseCompletion(ctx, event.Phase, event.RunDate)
		}
		if err != nil {
			return err
		}

		if !doc.Expects(event.Processor) {
			logrus.Warnf("completion from unexpected processor %s for %s/%s ignored",
				event.Processor, event.Phase, event.RunDate)
			doc = nil
			return nil
		}

		if !doc.Apply(event.Processor, event.Status) {
			// Stale or redundant status; nothing to persist.
			return nil
		}
		return o.datasource.UpdatePhaseCompletionCAS(ctx, doc)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "merging completion %s/%s/%s",
			event.Phase, event.RunDate, event.Processor)
	}
	return doc, nil
}

// evaluateThreshold triggers the downstream phase when the completion
// fraction has reached the configured threshold and the document has not
// triggered yet.
func (o *Orchestrator) evaluateThreshold(ctx context.Context, doc *model.PhaseCompletionDocument, threshold float64) error {
	if doc.Triggered {
		return nil
	}
	fraction := doc.CompletionFraction()
	if fraction < threshold {
		logrus.Debugf("phase %s/%s at %.2f of %.2f, waiting",
			doc.Phase, doc.RunDate, fraction, threshold)
		return nil
	}
	return o.triggerOnce(ctx, doc.Phase, doc.RunDate)
}

// triggerOnce publishes the downstream trigger for (phase, run_date) at most
// once across all orchestrator instances. Every trigger path, push and
// reconciliation alike, funnels through here: lease lock, re-check under the
// lock, publish, then flip the triggered flag. Lock contention means another
// instance is already publishing, so losing the lock is a clean no-op.
func (o *Orchestrator) triggerOnce(ctx context.Context, phase model.Phase, runDate string) error {
	ctx, span := tracer.Start(ctx, "Triggering downstream phase")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	lockKey := lockKeyFor(phase, runDate)
	holder := model.GenerateHolderID()
	lock, err := o.locker.TryAcquire(ctx, lockKey, holder, time.Duration(cnf.Pipeline.LockTTLSec)*time.Second)
	if err != nil {
		// Fail closed: with the lock service unreachable we cannot rule out a
		// concurrent trigger, so skip and let the reconciler catch up.
		return errors.Wrapf(err, "acquiring trigger lock %s", lockKey)
	}
	if lock == nil {
		logrus.Infof("trigger lock %s held elsewhere, skipping", lockKey)
		return nil
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logrus.Warnf("failed to release trigger lock %s: %v", lockKey, err)
		}
	}()

	// Re-read under the lock: a racing instance may have triggered between
	// our threshold check and lock acquisition.
	doc, err := o.datasource.GetPhaseCompletion(ctx, phase, runDate)
	if err != nil {
		return err
	}
	if doc.Triggered {
		return nil
	}

	next, ok := phase.Next()
	if ok {
		event := &model.TriggerEvent{
			MessageID:        model.GenerateMessageID("trigger"),
			Phase:            next,
			RunDate:          runDate,
			UpstreamSnapshot: doc.CompletionSnapshot(),
			EmittedAt:        time.Now(),
		}
		if err := o.queue.EnqueueTrigger(ctx, event); err != nil {
			return err
		}
	} else {
		logrus.Infof("phase %s/%s complete, end of pipeline", phase, runDate)
	}

	won, err := o.datasource.MarkTriggered(ctx, phase, runDate)
	if err != nil {
		return err
	}
	if won {
		logrus.Infof("phase %s/%s triggered downstream", phase, runDate)
	}
	return nil
}

func lockKeyFor(phase model.Phase, runDate string) string {
	return "trigger:" + string(phase) + ":" + runDate
}
