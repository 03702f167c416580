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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/najicham/nba-stats-scraper-sub004/internal/apierror"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

func newTestReconciler(o *Orchestrator) *Reconciler {
	return &Reconciler{
		orchestrator:     o,
		interval:         time.Minute,
		windowDays:       1,
		alertAfterPasses: 3,
		absentPasses:     make(map[string]int),
		stopCh:           make(chan struct{}),
	}
}

func TestReconcilePhase_CorrectsLostCompletion(t *testing.T) {
	o, mockDS, pub, _ := newTestOrchestrator(t)
	r := newTestReconciler(o)
	ctx := context.Background()

	// Four of five raw processors reported; bigdataball-pbp's completion
	// event was lost, but its output records are in the store.
	doc := rawDoc(map[string]model.Status{
		"nbacom-boxscores": model.StatusSuccess,
		"nbacom-gamebooks": model.StatusSuccess,
		"espn-boxscores":   model.StatusSuccess,
		"odds-api-lines":   model.StatusFailed,
	}, false)

	mockDS.On("GetPhaseCompletion", mock.Anything, model.PhaseRaw, "2025-01-15").Return(doc, nil)
	mockDS.On("CountOutputRecords", mock.Anything, model.PhaseRaw, "2025-01-15", "bigdataball-pbp").
		Return(int64(1200), nil)
	mockDS.On("CountOutputRecords", mock.Anything, model.PhaseRaw, "2025-01-15", "odds-api-lines").
		Return(int64(0), nil)
	mockDS.On("UpdatePhaseCompletionCAS", mock.Anything, mock.Anything).Return(nil)
	mockDS.On("MarkTriggered", mock.Anything, model.PhaseRaw, "2025-01-15").Return(true, nil)

	report, err := r.reconcilePhase(ctx, model.PhaseRaw, "2025-01-15", false)
	assert.NoError(t, err)
	assert.NotNil(t, report)
	assert.Equal(t, []string{"bigdataball-pbp"}, report.Corrected)

	// odds-api-lines reported a terminal failure; it is not absent.
	assert.Empty(t, report.Absent)

	// The probe correction pushed the document to 4/5 and the reconciler
	// re-triggered through the shared lock path.
	assert.True(t, report.Triggered)
	assert.Equal(t, 1, pub.triggerCount())
	assert.Equal(t, model.PhaseAnalytics, pub.triggers[0].Phase)
	assert.Equal(t, model.StatusSuccess, doc.Completions["bigdataball-pbp"])
	mockDS.AssertExpectations(t)
}

func TestReconcilePhase_DryRunWritesNothing(t *testing.T) {
	o, mockDS, pub, _ := newTestOrchestrator(t)
	r := newTestReconciler(o)
	ctx := context.Background()

	doc := rawDoc(map[string]model.Status{
		"nbacom-boxscores": model.StatusSuccess,
		"nbacom-gamebooks": model.StatusSuccess,
		"espn-boxscores":   model.StatusSuccess,
	}, false)

	mockDS.On("GetPhaseCompletion", mock.Anything, model.PhaseRaw, "2025-01-15").Return(doc, nil)
	mockDS.On("CountOutputRecords", mock.Anything, model.PhaseRaw, "2025-01-15", "bigdataball-pbp").
		Return(int64(1200), nil)
	mockDS.On("CountOutputRecords", mock.Anything, model.PhaseRaw, "2025-01-15", "odds-api-lines").
		Return(int64(0), nil)

	report, err := r.reconcilePhase(ctx, model.PhaseRaw, "2025-01-15", true)
	assert.NoError(t, err)
	assert.NotNil(t, report)
	assert.True(t, report.WouldRepair)
	assert.Equal(t, []string{"bigdataball-pbp"}, report.Corrected)
	assert.Equal(t, []string{"odds-api-lines"}, report.Absent)
	assert.False(t, report.Triggered)
	assert.False(t, doc.Triggered)

	assert.Equal(t, 0, pub.triggerCount())
	mockDS.AssertNotCalled(t, "UpdatePhaseCompletionCAS", mock.Anything, mock.Anything)
	mockDS.AssertNotCalled(t, "MarkTriggered", mock.Anything, mock.Anything, mock.Anything)
	mockDS.AssertExpectations(t)
}

func TestReconcilePhase_MissingDocumentSkipped(t *testing.T) {
	o, mockDS, _, _ := newTestOrchestrator(t)
	r := newTestReconciler(o)
	ctx := context.Background()

	notFound := apierror.NewAPIError(apierror.ErrNotFound, "phase completion document not found", nil)
	mockDS.On("GetPhaseCompletion", mock.Anything, model.PhaseRaw, "2025-01-15").Return(nil, notFound)

	report, err := r.reconcilePhase(ctx, model.PhaseRaw, "2025-01-15", false)
	assert.NoError(t, err)
	assert.Nil(t, report)
}

func TestReconcilePhase_AbsentPassesEscalateToBackfill(t *testing.T) {
	o, mockDS, pub, _ := newTestOrchestrator(t)
	r := newTestReconciler(o)
	r.enableBackfill = true
	r.alertAfterPasses = 2
	ctx := context.Background()

	doc := &model.PhaseCompletionDocument{
		Phase:              model.PhaseAnalytics,
		RunDate:            "2025-01-15",
		ExpectedProcessors: []string{"player-game-summary"},
		Completions:        map[string]model.Status{},
		Version:            1,
	}
	mockDS.On("GetPhaseCompletion", mock.Anything, model.PhaseAnalytics, "2025-01-15").Return(doc, nil)
	mockDS.On("CountOutputRecords", mock.Anything, model.PhaseAnalytics, "2025-01-15", "player-game-summary").
		Return(int64(0), nil)

	// First pass: below the alert threshold, nothing enqueued.
	report, err := r.reconcilePhase(ctx, model.PhaseAnalytics, "2025-01-15", false)
	assert.NoError(t, err)
	assert.Empty(t, report.Backfilled)
	assert.Empty(t, pub.reprocess)

	// Second consecutive absent pass crosses the threshold.
	report, err = r.reconcilePhase(ctx, model.PhaseAnalytics, "2025-01-15", false)
	assert.NoError(t, err)
	assert.Equal(t, []string{"player-game-summary"}, report.Backfilled)
	assert.Len(t, pub.reprocess, 1)
	assert.Equal(t, model.ReprocessModeBackfill, pub.reprocess[0].Mode)
	assert.Equal(t, "player-game-summary", pub.reprocess[0].Processor)
}

func TestReconcilePhase_BackfillSuppressedByOpenBreaker(t *testing.T) {
	o, mockDS, pub, _ := newTestOrchestrator(t)
	r := newTestReconciler(o)
	r.enableBackfill = true
	r.alertAfterPasses = 1
	ctx := context.Background()

	// Trip the breaker for the absent processor.
	for i := 0; i < 5; i++ {
		o.breakers.RecordAttempt("player-game-summary", false)
	}

	doc := &model.PhaseCompletionDocument{
		Phase:              model.PhaseAnalytics,
		RunDate:            "2025-01-15",
		ExpectedProcessors: []string{"player-game-summary"},
		Completions:        map[string]model.Status{},
		Version:            1,
	}
	mockDS.On("GetPhaseCompletion", mock.Anything, model.PhaseAnalytics, "2025-01-15").Return(doc, nil)
	mockDS.On("CountOutputRecords", mock.Anything, model.PhaseAnalytics, "2025-01-15", "player-game-summary").
		Return(int64(0), nil)

	report, err := r.reconcilePhase(ctx, model.PhaseAnalytics, "2025-01-15", false)
	assert.NoError(t, err)
	assert.Empty(t, report.Backfilled)
	assert.Empty(t, pub.reprocess)
}

func TestReconciler_StartStop(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	r := newTestReconciler(o)

	r.Start(context.Background())
	assert.True(t, r.IsRunning())

	// Idempotent start.
	r.Start(context.Background())
	assert.True(t, r.IsRunning())

	r.Stop()
	assert.False(t, r.IsRunning())
}

func TestSweep_ReportsOnlyActionablePhases(t *testing.T) {
	o, mockDS, _, _ := newTestOrchestrator(t)
	r := newTestReconciler(o)
	ctx := context.Background()

	notFound := apierror.NewAPIError(apierror.ErrNotFound, "phase completion document not found", nil)
	mockDS.On("GetPhaseCompletion", mock.Anything, mock.Anything, mock.Anything).Return(nil, notFound)

	report, err := r.Sweep(ctx, true)
	assert.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Empty(t, report.Phases)
}

func TestReconcilePhase_HealthyTriggeredDocumentUntouched(t *testing.T) {
	o, mockDS, pub, _ := newTestOrchestrator(t)
	r := newTestReconciler(o)
	ctx := context.Background()

	doc := rawDoc(map[string]model.Status{
		"nbacom-boxscores": model.StatusSuccess,
		"nbacom-gamebooks": model.StatusSuccess,
		"espn-boxscores":   model.StatusSuccess,
		"bigdataball-pbp":  model.StatusSuccess,
		"odds-api-lines":   model.StatusSuccess,
	}, true)

	mockDS.On("GetPhaseCompletion", mock.Anything, model.PhaseRaw, "2025-01-15").Return(doc, nil)

	report, err := r.reconcilePhase(ctx, model.PhaseRaw, "2025-01-15", false)
	assert.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, 0, pub.triggerCount())
	mockDS.AssertNotCalled(t, "CountOutputRecords", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
