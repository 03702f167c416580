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
	"embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/najicham/nba-stats-scraper-sub004/config"
	"github.com/najicham/nba-stats-scraper-sub004/database"
	"github.com/najicham/nba-stats-scraper-sub004/internal/breaker"
	"github.com/najicham/nba-stats-scraper-sub004/internal/cache"
	"github.com/najicham/nba-stats-scraper-sub004/internal/idempotency"
	redlock "github.com/najicham/nba-stats-scraper-sub004/internal/lock"
	redis_db "github.com/najicham/nba-stats-scraper-sub004/internal/redis-db"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

var tracer = otel.Tracer("orchestrator.pipeline")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Publisher is the outbound side of the message bus adapter.
type Publisher interface {
	EnqueueTrigger(ctx context.Context, event *model.TriggerEvent) error
	EnqueueReprocess(ctx context.Context, cmd *model.ReprocessCommand) error
	EnqueueCompletion(ctx context.Context, event *model.CompletionEvent) error
}

// Orchestrator coordinates the five-phase stats pipeline: it tracks processor
// completions per run-date, triggers each downstream phase exactly once when
// its upstream threshold is met, and exposes the manual override surface.
type Orchestrator struct {
	queue       Publisher
	redis       redis.UniversalClient
	datasource  database.IDataSource
	cache       cache.Cache
	locker      *redlock.Service
	idempotency *idempotency.Store
	breakers    *breaker.Registry
}

// New initializes an Orchestrator with the provided datasource. It fetches
// configuration and wires the Redis client, queue, lock service, idempotency
// store and circuit breaker registry.
func New(db database.IDataSource) (*Orchestrator, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		queue:       NewQueue(configuration),
		redis:       redisClient.Client(),
		datasource:  db,
		cache:       newCache,
		locker:      redlock.NewService(redisClient.Client()),
		idempotency: idempotency.NewStore(redisClient.Client(), time.Duration(configuration.Pipeline.IdempotencyTTLSec)*time.Second),
	}
	o.breakers = breaker.NewRegistry(
		configuration.CircuitBreaker.FailureThreshold,
		time.Duration(configuration.CircuitBreaker.CooldownSec)*time.Second,
		o.persistBreakerSnapshot,
	)
	return o, nil
}

// persistBreakerSnapshot writes a breaker state change to the coordination
// store so status readers in other processes can see it. Persistence is best
// effort; the live state machine is in-process.
func (o *Orchestrator) persistBreakerSnapshot(state model.CircuitBreakerState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.datasource.UpsertCircuitBreakerState(ctx, &state); err != nil {
		logrus.Warnf("failed to persist breaker snapshot for %s: %v", state.Processor, err)
	}
}

// Breakers exposes the registry for worker wiring and the status surface.
func (o *Orchestrator) Breakers() *breaker.Registry {
	return o.breakers
}

// GetQueue exposes the queue adapter for worker and CLI wiring.
func (o *Orchestrator) GetQueue() Publisher {
	return o.queue
}

// PhaseStatus is the aggregate view served by the status CLI and API: the
// completion document plus latest per-processor history and breaker states.
type PhaseStatus struct {
	Document   *model.PhaseCompletionDocument     `json:"document"`
	Fraction   float64                            `json:"completion_fraction"`
	Threshold  float64                            `json:"trigger_threshold"`
	Processors []*model.ProcessorCompletionRecord `json:"processors,omitempty"`
	Breakers   []*model.CircuitBreakerState       `json:"circuit_breakers,omitempty"`
}

// GetPhaseStatus assembles the status view for one (phase, run_date). Results
// are cached briefly; the reconciler and trigger paths never read this.
func (o *Orchestrator) GetPhaseStatus(ctx context.Context, phase model.Phase, runDate string) (*PhaseStatus, error) {
	ctx, span := tracer.Start(ctx, "Fetching phase status")
	defer span.End()

	cacheKey := fmt.Sprintf("status:%s:%s", phase, runDate)
	var status PhaseStatus
	if err := o.cache.Get(ctx, cacheKey, &status); err == nil && status.Document != nil {
		return &status, nil
	}

	doc, err := o.datasource.GetPhaseCompletion(ctx, phase, runDate)
	if err != nil {
		return nil, err
	}

	records, err := o.datasource.GetLatestProcessorCompletions(ctx, phase, runDate)
	if err != nil {
		return nil, err
	}

	breakers, err := o.datasource.GetCircuitBreakerStates(ctx, doc.ExpectedProcessors)
	if err != nil {
		return nil, err
	}

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	threshold := 1.0
	if phaseCnf, ok := cnf.Pipeline.Phase(string(phase)); ok {
		threshold = phaseCnf.TriggerThreshold
	}

	status = PhaseStatus{
		Document:   doc,
		Fraction:   doc.CompletionFraction(),
		Threshold:  threshold,
		Processors: records,
		Breakers:   breakers,
	}
	if err := o.cache.Set(ctx, cacheKey, &status, 10*time.Second); err != nil {
		logrus.Warnf("failed to cache phase status %s: %v", cacheKey, err)
	}
	return &status, nil
}
