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
package mocks

import (
	"context"

	"github.com/najicham/nba-stats-scraper-sub004/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Phase completion methods

func (m *MockDataSource) CreatePhaseCompletion(ctx context.Context, phase model.Phase, runDate string, expectedProcessors []string) error {
	args := m.Called(ctx, phase, runDate, expectedProcessors)
	return args.Error(0)
}

func (m *MockDataSource) GetPhaseCompletion(ctx context.Context, phase model.Phase, runDate string) (*model.PhaseCompletionDocument, error) {
	args := m.Called(ctx, phase, runDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PhaseCompletionDocument), args.Error(1)
}

func (m *MockDataSource) UpdatePhaseCompletionCAS(ctx context.Context, doc *model.PhaseCompletionDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDataSource) MarkTriggered(ctx context.Context, phase model.Phase, runDate string) (bool, error) {
	args := m.Called(ctx, phase, runDate)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) OverrideTriggered(ctx context.Context, phase model.Phase, runDate string, triggered bool) error {
	args := m.Called(ctx, phase, runDate, triggered)
	return args.Error(0)
}

// Processor completion methods

func (m *MockDataSource) RecordProcessorCompletion(ctx context.Context, rec *model.ProcessorCompletionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDataSource) GetLatestProcessorCompletions(ctx context.Context, phase model.Phase, runDate string) ([]*model.ProcessorCompletionRecord, error) {
	args := m.Called(ctx, phase, runDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ProcessorCompletionRecord), args.Error(1)
}

// Circuit breaker methods

func (m *MockDataSource) UpsertCircuitBreakerState(ctx context.Context, state *model.CircuitBreakerState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockDataSource) GetCircuitBreakerStates(ctx context.Context, processors []string) ([]*model.CircuitBreakerState, error) {
	args := m.Called(ctx, processors)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CircuitBreakerState), args.Error(1)
}

// Output probe methods

func (m *MockDataSource) CountOutputRecords(ctx context.Context, phase model.Phase, runDate, processor string) (int64, error) {
	args := m.Called(ctx, phase, runDate, processor)
	return args.Get(0).(int64), args.Error(1)
}
