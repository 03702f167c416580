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

	"go.opentelemetry.io/otel"

	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// RecordProcessorCompletion appends one history row. History is append-only;
// the latest row per processor is authoritative.
func (d Datasource) RecordProcessorCompletion(ctx context.Context, rec *model.ProcessorCompletionRecord) error {
	ctx, span := otel.Tracer("ProcessorCompletion").Start(ctx, "Saving processor completion to db")
	defer span.End()

	completedAt := sql.NullTime{}
	if rec.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *rec.CompletedAt, Valid: true}
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO orch.processor_completions (
			phase, run_date, processor_name, status, record_count,
			started_at, completed_at, error_summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.Phase, rec.RunDate, rec.Processor, rec.Status, rec.RecordCount,
		rec.StartedAt, completedAt, rec.ErrorSummary)

	return err
}

// GetLatestProcessorCompletions returns the newest history row per processor
// for a (phase, run_date).
func (d Datasource) GetLatestProcessorCompletions(ctx context.Context, phase model.Phase, runDate string) ([]*model.ProcessorCompletionRecord, error) {
	ctx, span := otel.Tracer("ProcessorCompletion").Start(ctx, "Fetching latest processor completions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT DISTINCT ON (processor_name)
			phase, run_date, processor_name, status, record_count,
			started_at, completed_at, error_summary
		FROM orch.processor_completions
		WHERE phase = $1 AND run_date = $2
		ORDER BY processor_name, created_at DESC
	`, phase, runDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.ProcessorCompletionRecord
	for rows.Next() {
		rec := &model.ProcessorCompletionRecord{}
		var completedAt sql.NullTime
		var errorSummary sql.NullString
		err = rows.Scan(
			&rec.Phase, &rec.RunDate, &rec.Processor, &rec.Status,
			&rec.RecordCount, &rec.StartedAt, &completedAt, &errorSummary,
		)
		if err != nil {
			return nil, err
		}
		if completedAt.Valid {
			at := completedAt.Time
			rec.CompletedAt = &at
		}
		rec.ErrorSummary = errorSummary.String
		records = append(records, rec)
	}

	return records, rows.Err()
}
