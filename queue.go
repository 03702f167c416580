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
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/najicham/nba-stats-scraper-sub004/config"
	redis_db "github.com/najicham/nba-stats-scraper-sub004/internal/redis-db"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// Queue is the message bus adapter. Completion events arrive on per-phase
// completion queues, trigger events go out on per-phase trigger queues, and
// reprocess commands share one queue. Task IDs carry the dedup identity so a
// redelivered publish collapses to one task.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// CompletionQueue returns the queue name completion events for phase arrive
// on, e.g. completions_raw.
func CompletionQueue(conf *config.Configuration, phase model.Phase) string {
	return fmt.Sprintf("%s_%s", conf.Queue.CompletionQueuePrefix, phase)
}

// TriggerQueue returns the queue name trigger events for phase are published
// to, e.g. triggers_analytics.
func TriggerQueue(conf *config.Configuration, phase model.Phase) string {
	return fmt.Sprintf("%s_%s", conf.Queue.TriggerQueuePrefix, phase)
}

// EnqueueTrigger publishes a trigger event for event.Phase. The task ID is
// derived from (phase, run_date), so concurrent publishers of the same
// trigger collapse to a single task even if the caller-side dedup failed.
func (q *Queue) EnqueueTrigger(ctx context.Context, event *model.TriggerEvent) error {
	ctx, span := tracer.Start(ctx, "Publishing trigger event")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	queueName := TriggerQueue(cfg, event.Phase)
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("trigger:%s:%s", event.Phase, event.RunDate)),
		asynq.Queue(queueName),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			log.Printf(" [*] Trigger already enqueued: %s %s", event.Phase, event.RunDate)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued trigger: %s %s", event.Phase, event.RunDate)
	return nil
}

// EnqueueReprocess asks one processor to redo its work for a run-date. Used
// by the reconciler's backfill path and the operator CLI.
func (q *Queue) EnqueueReprocess(ctx context.Context, cmd *model.ReprocessCommand) error {
	ctx, span := tracer.Start(ctx, "Publishing reprocess command")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("reprocess:%s:%s:%s", cmd.Phase, cmd.RunDate, cmd.Processor)),
		asynq.Queue(cfg.Queue.ReprocessQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.ReprocessQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			log.Printf(" [*] Reprocess already enqueued: %s %s %s", cmd.Phase, cmd.RunDate, cmd.Processor)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued reprocess: %s %s %s", cmd.Phase, cmd.RunDate, cmd.Processor)
	return nil
}

// EnqueueCompletion publishes a completion event onto the phase's completion
// queue. Processors normally publish these themselves; this path serves the
// admin API ingest endpoint and test harnesses.
func (q *Queue) EnqueueCompletion(ctx context.Context, event *model.CompletionEvent) error {
	ctx, span := tracer.Start(ctx, "Publishing completion event")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	queueName := CompletionQueue(cfg, event.Phase)
	taskOptions := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued completion: %s %s %s", event.Phase, event.RunDate, event.Processor)
	return nil
}
