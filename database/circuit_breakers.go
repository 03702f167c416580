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
	"database/sql"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// UpsertCircuitBreakerState persists one breaker snapshot. The live state
// machine runs in the worker process; these rows exist so the status CLI and
// API can show breaker state from any process.
func (d Datasource) UpsertCircuitBreakerState(ctx context.Context, state *model.CircuitBreakerState) error {
	ctx, span := otel.Tracer("CircuitBreaker").Start(ctx, "Upserting circuit breaker snapshot")
	defer span.End()

	openedAt := sql.NullTime{}
	if state.OpenedAt != nil {
		openedAt = sql.NullTime{Time: *state.OpenedAt, Valid: true}
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO orch.circuit_breakers (
			processor_name, state, consecutive_failures, opened_at, last_attempt_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (processor_name) DO UPDATE SET
			state = EXCLUDED.state,
			consecutive_failures = EXCLUDED.consecutive_failures,
			opened_at = EXCLUDED.opened_at,
			last_attempt_at = EXCLUDED.last_attempt_at
	`, state.Processor, state.State, state.ConsecutiveFailures, openedAt, state.LastAttemptAt)

	return err
}

// GetCircuitBreakerStates returns persisted snapshots for the given
// processors. Processors with no snapshot yet are simply absent.
func (d Datasource) GetCircuitBreakerStates(ctx context.Context, processors []string) ([]*model.CircuitBreakerState, error) {
	ctx, span := otel.Tracer("CircuitBreaker").Start(ctx, "Fetching circuit breaker snapshots")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT processor_name, state, consecutive_failures, opened_at, last_attempt_at
		FROM orch.circuit_breakers
		WHERE processor_name = ANY($1)
		ORDER BY processor_name
	`, pq.Array(processors))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*model.CircuitBreakerState
	for rows.Next() {
		state := &model.CircuitBreakerState{}
		var openedAt sql.NullTime
		err = rows.Scan(
			&state.Processor, &state.State, &state.ConsecutiveFailures,
			&openedAt, &state.LastAttemptAt,
		)
		if err != nil {
			return nil, err
		}
		if openedAt.Valid {
			at := openedAt.Time
			state.OpenedAt = &at
		}
		states = append(states, state)
	}

	return states, rows.Err()
}
