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

package database

import (
	"context"

	"github.com/najicham/nba-stats-scraper-sub004/model"
)

type phaseCompletion interface {
	CreatePhaseCompletion(ctx context.Context, phase model.Phase, runDate string, expectedProcessors []string) error
	GetPhaseCompletion(ctx context.Context, phase model.Phase, runDate string) (*model.PhaseCompletionDocument, error)
	UpdatePhaseCompletionCAS(ctx context.Context, doc *model.PhaseCompletionDocument) error
	MarkTriggered(ctx context.Context, phase model.Phase, runDate string) (bool, error)
	OverrideTriggered(ctx context.Context, phase model.Phase, runDate string, triggered bool) error
}

type processorCompletion interface {
	RecordProcessorCompletion(ctx context.Context, rec *model.ProcessorCompletionRecord) error
	GetLatestProcessorCompletions(ctx context.Context, phase model.Phase, runDate string) ([]*model.ProcessorCompletionRecord, error)
}

type circuitBreaker interface {
	UpsertCircuitBreakerState(ctx context.Context, state *model.CircuitBreakerState) error
	GetCircuitBreakerStates(ctx context.Context, processors []string) ([]*model.CircuitBreakerState, error)
}

type outputProbe interface {
	CountOutputRecords(ctx context.Context, phase model.Phase, runDate, processor string) (int64, error)
}

// IDataSource is the full coordination-store surface consumed by the
// orchestrator, reconciler, API and CLI.
type IDataSource interface {
	phaseCompletion
	processorCompletion
	circuitBreaker
	outputProbe
}
