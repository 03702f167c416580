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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/najicham/nba-stats-scraper-sub004/config"
	"github.com/najicham/nba-stats-scraper-sub004/internal/apierror"
	"github.com/najicham/nba-stats-scraper-sub004/internal/notification"
	"github.com/najicham/nba-stats-scraper-sub004/internal/retry"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// Reconciler periodically sweeps recent run-dates and repairs coordination
// state that push-path events missed: lost completion events, stuck documents
// and phases that earned their trigger while the orchestrator was down. It is
// the safety net under the push path, not a replacement for it.
type Reconciler struct {
	orchestrator     *Orchestrator
	interval         time.Duration
	windowDays       int
	alertAfterPasses int
	enableBackfill   bool

	// absentPasses counts consecutive sweeps in which a processor had
	// neither a completion report nor probed output. In-memory by choice:
	// a restart just restarts the count.
	absentPasses map[string]int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewReconciler builds a Reconciler from configuration.
func NewReconciler(o *Orchestrator) *Reconciler {
	interval := 5 * time.Minute
	windowDays := 3
	alertAfterPasses := 3
	enableBackfill := false
	cfg, err := config.Fetch()
	if err == nil {
		interval = time.Duration(cfg.Reconciler.IntervalSec) * time.Second
		windowDays = cfg.Reconciler.WindowDays
		alertAfterPasses = cfg.Reconciler.AlertAfterPasses
		enableBackfill = cfg.Reconciler.EnableBackfill
	}

	return &Reconciler{
		orchestrator:     o,
		interval:         interval,
		windowDays:       windowDays,
		alertAfterPasses: alertAfterPasses,
		enableBackfill:   enableBackfill,
		absentPasses:     make(map[string]int),
		stopCh:           make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()

	logrus.Info("Pipeline reconciler started")
}

// Stop signals the loop and waits for the in-flight sweep to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	logrus.Info("Pipeline reconciler stopped")
}

func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconciler) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Pipeline reconciler context cancelled")
			return
		case <-r.stopCh:
			logrus.Info("Pipeline reconciler stop signal received")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, false); err != nil {
				logrus.Errorf("reconciliation sweep failed: %v", err)
			}
		}
	}
}

// PhaseReport describes what one sweep found, and did, for one
// (phase, run_date).
type PhaseReport struct {
	Phase       model.Phase `json:"phase"`
	RunDate     string      `json:"run_date"`
	Corrected   []string    `json:"corrected,omitempty"`
	Absent      []string    `json:"absent,omitempty"`
	Backfilled  []string    `json:"backfilled,omitempty"`
	WouldRepair bool        `json:"would_repair"`
	Triggered   bool        `json:"triggered"`
}

// SweepReport aggregates a full reconciliation pass.
type SweepReport struct {
	StartedAt time.Time      `json:"started_at"`
	DryRun    bool           `json:"dry_run"`
	Phases    []*PhaseReport `json:"phases,omitempty"`
}

// Sweep reconciles every phase of the last windowDays run-dates. With dryRun
// set it computes the correction report without writing or publishing.
func (r *Reconciler) Sweep(ctx context.Context, dryRun bool) (*SweepReport, error) {
	ctx, span := tracer.Start(ctx, "Reconciling pipeline state")
	defer span.End()

	report := &SweepReport{StartedAt: time.Now(), DryRun: dryRun}
	for offset := 0; offset < r.windowDays; offset++ {
		runDate := model.RunDateForOffset(time.Now(), offset)
		for _, phase := range model.AllPhases() {
			phaseReport, err := r.reconcilePhase(ctx, phase, runDate, dryRun)
			if err != nil {
				logrus.Errorf("reconciling %s/%s: %v", phase, runDate, err)
				continue
			}
			if phaseReport != nil {
				report.Phases = append(report.Phases, phaseReport)
			}
		}
	}
	return report, nil
}

// reconcilePhase inspects one completion document, probes the output store
// for processors that never reported terminally, corrects the document where
// the probe shows completed work, and re-evaluates the trigger threshold
// through the same lock path the push path uses. A nil report means the
// document does not exist or needs nothing.
func (r *Reconciler) reconcilePhase(ctx context.Context, phase model.Phase, runDate string, dryRun bool) (*PhaseReport, error) {
	o := r.orchestrator

	doc, err := o.datasource.GetPhaseCompletion(ctx, phase, runDate)
	if apierror.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	phaseCnf, ok := cnf.Pipeline.Phase(string(phase))
	if !ok {
		return nil, nil
	}

	report := &PhaseReport{Phase: phase, RunDate: runDate}
	for _, processor := range doc.ExpectedProcessors {
		status, reported := doc.Completions[processor]
		if status.Completed() {
			r.clearAbsent(phase, runDate, processor)
			continue
		}

		count, err := o.datasource.CountOutputRecords(ctx, phase, runDate, processor)
		if err != nil {
			logrus.Warnf("output probe failed for %s/%s/%s: %v", phase, runDate, processor, err)
			continue
		}

		if count > 0 {
			// The processor finished its work but the completion event was
			// lost. Trust the output store and repair the document.
			report.Corrected = append(report.Corrected, processor)
			r.clearAbsent(phase, runDate, processor)
			if !dryRun {
				if err := r.correctCompletion(ctx, phase, runDate, processor); err != nil {
					return nil, err
				}
			}
			continue
		}

		// A terminal failure was reported through the push path; there is no
		// lost signal to recover, so it is not treated as absent.
		if reported && status.Terminal() {
			continue
		}

		report.Absent = append(report.Absent, processor)
		if dryRun {
			continue
		}
		r.trackAbsent(ctx, phase, runDate, processor, report)
	}

	if len(report.Corrected) == 0 && len(report.Absent) == 0 && doc.Triggered {
		return nil, nil
	}

	if dryRun {
		report.WouldRepair = len(report.Corrected) > 0
		return report, nil
	}

	// Re-read after corrections and re-evaluate the trigger through the
	// shared lock path.
	doc, err = o.datasource.GetPhaseCompletion(ctx, phase, runDate)
	if err != nil {
		return nil, err
	}
	if !doc.Triggered && doc.CompletionFraction() >= phaseCnf.TriggerThreshold {
		if err := o.triggerOnce(ctx, phase, runDate); err != nil {
			return nil, err
		}
		report.Triggered = true
	}
	return report, nil
}

// correctCompletion folds a probed success into the document under the same
// CAS discipline as the push path.
func (r *Reconciler) correctCompletion(ctx context.Context, phase model.Phase, runDate, processor string) error {
	o := r.orchestrator
	return retry.DoLayered(ctx, func() error {
		doc, err := o.datasource.GetPhaseCompletion(ctx, phase, runDate)
		if err != nil {
			return err
		}
		if !doc.Apply(processor, model.StatusSuccess) {
			return nil
		}
		logrus.Infof("reconciler corrected %s/%s/%s to success from output probe", phase, runDate, processor)
		return o.datasource.UpdatePhaseCompletionCAS(ctx, doc)
	})
}

// trackAbsent advances the consecutive-absence counter for a processor that
// shows neither a completion report nor output records. After the configured
// number of passes it alerts, and optionally enqueues one backfill command
// gated by the processor's circuit breaker.
func (r *Reconciler) trackAbsent(ctx context.Context, phase model.Phase, runDate, processor string, report *PhaseReport) {
	key := absentKey(phase, runDate, processor)

	r.mu.Lock()
	r.absentPasses[key]++
	passes := r.absentPasses[key]
	r.mu.Unlock()

	if passes < r.alertAfterPasses {
		return
	}

	notification.NotifyProcessorAbsent(notification.ProcessorAlert{
		Phase:     string(phase),
		RunDate:   runDate,
		Processor: processor,
		Elapsed:   time.Duration(passes) * r.interval,
		Reason:    fmt.Sprintf("no completion report or output records after %d reconciliation passes", passes),
	})

	if !r.enableBackfill {
		return
	}
	if !r.orchestrator.breakers.AllowAttempt(processor) {
		logrus.Warnf("backfill for %s suppressed, circuit breaker open", processor)
		return
	}
	cmd := &model.ReprocessCommand{
		Phase:     phase,
		RunDate:   runDate,
		Processor: processor,
		Reason:    "reconciler backfill after repeated absence",
		Mode:      model.ReprocessModeBackfill,
	}
	if err := r.orchestrator.queue.EnqueueReprocess(ctx, cmd); err != nil {
		logrus.Errorf("failed to enqueue backfill for %s/%s/%s: %v", phase, runDate, processor, err)
		return
	}
	report.Backfilled = append(report.Backfilled, processor)
}

func (r *Reconciler) clearAbsent(phase model.Phase, runDate, processor string) {
	r.mu.Lock()
	delete(r.absentPasses, absentKey(phase, runDate, processor))
	r.mu.Unlock()
}

func absentKey(phase model.Phase, runDate, processor string) string {
	return fmt.Sprintf("%s:%s:%s", phase, runDate, processor)
}
