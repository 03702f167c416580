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
	"encoding/json"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/najicham/nba-stats-scraper-sub004/internal/apierror"
	"github.com/najicham/nba-stats-scraper-sub004/internal/retry"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// CreatePhaseCompletion inserts the completion document for (phase, run_date)
// if it does not already exist. The expected processor set is snapshotted from
// static configuration at creation time.
func (d Datasource) CreatePhaseCompletion(ctx context.Context, phase model.Phase, runDate string, expectedProcessors []string) error {
	ctx, span := otel.Tracer("PhaseCompletion").Start(ctx, "Creating phase completion document")
	defer span.End()

	expected, err := json.Marshal(expectedProcessors)
	if err != nil {
		return err
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO orch.phase_completions (phase, run_date, expected_processors, completions)
		VALUES ($1, $2, $3, '{}')
		ON CONFLICT (phase, run_date) DO NOTHING
	`, phase, runDate, expected)

	return err
}

// GetPhaseCompletion loads the completion document with its CAS version.
func (d Datasource) GetPhaseCompletion(ctx context.Context, phase model.Phase, runDate string) (*model.PhaseCompletionDocument, error) {
	ctx, span := otel.Tracer("PhaseCompletion").Start(ctx, "Fetching phase completion document")
	defer span.End()

	doc := &model.PhaseCompletionDocument{}
	var expected, completions []byte
	var triggeredAt sql.NullTime

	err := d.Conn.QueryRowContext(ctx, `
		SELECT phase, run_date, expected_processors, completions, triggered, triggered_at, version
		FROM orch.phase_completions
		WHERE phase = $1 AND run_date = $2
	`, phase, runDate).Scan(
		&doc.Phase, &doc.RunDate, &expected, &completions,
		&doc.Triggered, &triggeredAt, &doc.Version,
	)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound,
			"phase completion document not found", map[string]interface{}{
				"phase": phase, "run_date": runDate,
			})
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(expected, &doc.ExpectedProcessors); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(completions, &doc.Completions); err != nil {
		return nil, err
	}
	if triggeredAt.Valid {
		at := triggeredAt.Time
		doc.TriggeredAt = &at
	}
	return doc, nil
}

// UpdatePhaseCompletionCAS writes the completions map back, guarded by the
// version read with the document. A lost race returns
// retry.ErrVersionConflict so callers re-read and retry with backoff.
func (d Datasource) UpdatePhaseCompletionCAS(ctx context.Context, doc *model.PhaseCompletionDocument) error {
	ctx, span := otel.Tracer("PhaseCompletion").Start(ctx, "Updating phase completion document")
	defer span.End()

	completions, err := json.Marshal(doc.Completions)
	if err != nil {
		return err
	}

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE orch.phase_completions
		SET completions = $3, version = version + 1
		WHERE phase = $1 AND run_date = $2 AND version = $4
	`, doc.Phase, doc.RunDate, completions, doc.Version)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Wrapf(retry.ErrVersionConflict,
			"phase completion %s/%s at version %d", doc.Phase, doc.RunDate, doc.Version)
	}
	doc.Version++
	return nil
}

// MarkTriggered flips the triggered flag, returning true only for the caller
// that actually performed the false-to-true transition. The flag is monotonic
// here; only OverrideTriggered can reset it.
func (d Datasource) MarkTriggered(ctx context.Context, phase model.Phase, runDate string) (bool, error) {
	ctx, span := otel.Tracer("PhaseCompletion").Start(ctx, "Marking phase triggered")
	defer span.End()

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE orch.phase_completions
		SET triggered = TRUE, triggered_at = NOW(), version = version + 1
		WHERE phase = $1 AND run_date = $2 AND triggered = FALSE
	`, phase, runDate)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// OverrideTriggered force-sets the triggered flag. Operator incident recovery
// only; callers log actor and reason.
func (d Datasource) OverrideTriggered(ctx context.Context, phase model.Phase, runDate string, triggered bool) error {
	ctx, span := otel.Tracer("PhaseCompletion").Start(ctx, "Overriding triggered flag")
	defer span.End()

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE orch.phase_completions
		SET triggered = $3,
			triggered_at = CASE WHEN $3 THEN NOW() ELSE NULL END,
			version = version + 1
		WHERE phase = $1 AND run_date = $2
	`, phase, runDate, triggered)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound,
			"phase completion document not found", map[string]interface{}{
				"phase": phase, "run_date": runDate,
			})
	}
	return nil
}
