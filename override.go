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
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/najicham/nba-stats-scraper-sub004/config"
	"github.com/najicham/nba-stats-scraper-sub004/internal/apierror"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// ForceTrigger publishes the downstream trigger for (phase, run_date)
// regardless of the completion fraction. It takes the same lease lock as the
// automatic path so a racing threshold trigger cannot double-publish. The
// triggered flag is force-set, so a force on an already-triggered phase
// republishes; the trigger task ID dedup absorbs the duplicate.
func (o *Orchestrator) ForceTrigger(ctx context.Context, phase model.Phase, runDate, actor, reason string) error {
	ctx, span := tracer.Start(ctx, "Force triggering phase")
	defer span.End()

	if !phase.Valid() {
		return errors.Errorf("invalid phase %q", phase)
	}
	runDate, err := model.ParseRunDate(runDate)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"phase":    phase,
		"run_date": runDate,
		"actor":    actor,
		"reason":   reason,
	}).Warn("manual force-trigger requested")

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	lockKey := lockKeyFor(phase, runDate)
	lock, err := o.locker.TryAcquire(ctx, lockKey, model.GenerateHolderID(), time.Duration(cnf.Pipeline.LockTTLSec)*time.Second)
	if err != nil {
		return errors.Wrapf(err, "acquiring trigger lock %s", lockKey)
	}
	if lock == nil {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("trigger lock %s held by another instance, retry shortly", lockKey), nil)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logrus.Warnf("failed to release trigger lock %s: %v", lockKey, err)
		}
	}()

	doc, err := o.datasource.GetPhaseCompletion(ctx, phase, runDate)
	if err != nil {
		return err
	}

	if next, ok := phase.Next(); ok {
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
	}

	return o.datasource.OverrideTriggered(ctx, phase, runDate, true)
}

// OverrideTriggered force-sets the triggered flag without publishing
// anything. Resetting to false re-arms the automatic trigger for the next
// qualifying completion event or reconciler pass.
func (o *Orchestrator) OverrideTriggered(ctx context.Context, phase model.Phase, runDate string, triggered bool, actor, reason string) error {
	ctx, span := tracer.Start(ctx, "Overriding triggered flag")
	defer span.End()

	if !phase.Valid() {
		return errors.Errorf("invalid phase %q", phase)
	}
	runDate, err := model.ParseRunDate(runDate)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"phase":     phase,
		"run_date":  runDate,
		"triggered": triggered,
		"actor":     actor,
		"reason":    reason,
	}).Warn("manual triggered-flag override")

	return o.datasource.OverrideTriggered(ctx, phase, runDate, triggered)
}

// ForceReleaseLock breaks the trigger lease for (phase, run_date). Incident
// recovery only: a healthy lease expires on its own.
func (o *Orchestrator) ForceReleaseLock(ctx context.Context, phase model.Phase, runDate, actor, reason string) error {
	ctx, span := tracer.Start(ctx, "Force releasing trigger lock")
	defer span.End()

	lockKey := lockKeyFor(phase, runDate)
	holder, err := o.locker.Holder(ctx, lockKey)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"lock":   lockKey,
		"holder": holder,
		"actor":  actor,
		"reason": reason,
	}).Warn("manual lock release")

	return o.locker.ForceRelease(ctx, lockKey)
}
