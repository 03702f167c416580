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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	orchestrator "github.com/najicham/nba-stats-scraper-sub004"
	"github.com/najicham/nba-stats-scraper-sub004/config"
	redis_db "github.com/najicham/nba-stats-scraper-sub004/internal/redis-db"
	"github.com/najicham/nba-stats-scraper-sub004/model"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

// processCompletion consumes a completion event from the Redis queue and
// feeds it through the tracker. Returning an error pushes the task back for
// retry; malformed payloads are dropped inside the tracker.
func (b *orchInstance) processCompletion(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("orchestrator.completions.worker").Start(ctx, "Process Completion From Redis Queue")
	defer span.End()

	var event model.CompletionEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		logrus.Error(err)
		return err
	}

	err := b.orchestrator.HandleCompletionEvent(ctx, &event)
	if err != nil {
		logrus.Infof("Completion %s pushed back for retry due to error: %v", event.MessageID, err)
		return err
	}

	log.Println(" [*] Completion Processed", event.MessageID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	for _, phase := range model.AllPhases() {
		queues[orchestrator.CompletionQueue(cfg, phase)] = 3
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *orchInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	for _, phase := range model.AllPhases() {
		mux.HandleFunc(orchestrator.CompletionQueue(cfg, phase), b.processCompletion)
	}
}

// workerCommands defines the "workers" command to start worker processes.
// The workers consume the per-phase completion queues and run the reconciler
// sweep loop alongside them. Trigger and reprocess queues are consumed by the
// downstream processors, not here.
func workerCommands(b *orchInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start orchestrator workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			reconciler := orchestrator.NewReconciler(b.orchestrator)
			reconciler.Start(ctx)
			defer reconciler.Stop()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
