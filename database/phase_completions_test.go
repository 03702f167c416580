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
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/najicham/nba-stats-scraper-sub004/internal/apierror"
	"github.com/najicham/nba-stats-scraper-sub004/internal/retry"
	"github.com/najicham/nba-stats-scraper-sub004/model"
)

func TestCreatePhaseCompletion(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	ctx := context.TODO()

	expected, _ := json.Marshal([]string{"nbacom-boxscores", "espn-boxscores"})
	mock.ExpectExec("INSERT INTO orch.phase_completions").
		WithArgs(model.PhaseRaw, "2025-01-15", expected).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.CreatePhaseCompletion(ctx, model.PhaseRaw, "2025-01-15", []string{"nbacom-boxscores", "espn-boxscores"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPhaseCompletion(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	ctx := context.TODO()

	triggeredAt := time.Now()
	rows := sqlmock.NewRows([]string{
		"phase", "run_date", "expected_processors", "completions", "triggered", "triggered_at", "version",
	}).AddRow(
		"raw", "2025-01-15",
		[]byte(`["nbacom-boxscores","espn-boxscores"]`),
		[]byte(`{"nbacom-boxscores":"success"}`),
		true, triggeredAt, int64(4),
	)

	mock.ExpectQuery("SELECT phase, run_date, expected_processors").
		WithArgs(model.PhaseRaw, "2025-01-15").
		WillReturnRows(rows)

	doc, err := ds.GetPhaseCompletion(ctx, model.PhaseRaw, "2025-01-15")
	assert.NoError(t, err)
	assert.Equal(t, model.PhaseRaw, doc.Phase)
	assert.Equal(t, []string{"nbacom-boxscores", "espn-boxscores"}, doc.ExpectedProcessors)
	assert.Equal(t, model.StatusSuccess, doc.Completions["nbacom-boxscores"])
	assert.True(t, doc.Triggered)
	assert.NotNil(t, doc.TriggeredAt)
	assert.Equal(t, int64(4), doc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPhaseCompletion_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	ctx := context.TODO()

	mock.ExpectQuery("SELECT phase, run_date, expected_processors").
		WithArgs(model.PhaseExport, "2025-01-15").
		WillReturnRows(sqlmock.NewRows([]string{"phase"}))

	_, err = ds.GetPhaseCompletion(ctx, model.PhaseExport, "2025-01-15")
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, err.(apierror.APIError).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePhaseCompletionCAS(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	ctx := context.TODO()

	doc := &model.PhaseCompletionDocument{
		Phase:       model.PhaseRaw,
		RunDate:     "2025-01-15",
		Completions: map[string]model.Status{"nbacom-boxscores": model.StatusSuccess},
		Version:     2,
	}
	completions, _ := json.Marshal(doc.Completions)

	mock.ExpectExec("UPDATE orch.phase_completions").
		WithArgs(doc.Phase, doc.RunDate, completions, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdatePhaseCompletionCAS(ctx, doc)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), doc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePhaseCompletionCAS_VersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	ctx := context.TODO()

	doc := &model.PhaseCompletionDocument{
		Phase:       model.PhaseRaw,
		RunDate:     "2025-01-15",
		Completions: map[string]model.Status{},
		Version:     2,
	}
	completions, _ := json.Marshal(doc.Completions)

	mock.ExpectExec("UPDATE orch.phase_completions").
		WithArgs(doc.Phase, doc.RunDate, completions, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdatePhaseCompletionCAS(ctx, doc)
	assert.ErrorIs(t, err, retry.ErrVersionConflict)
	assert.Equal(t, int64(2), doc.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTriggered(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	ctx := context.TODO()

	mock.ExpectExec("UPDATE orch.phase_completions").
		WithArgs(model.PhaseAnalytics, "2025-01-15").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := ds.MarkTriggered(ctx, model.PhaseAnalytics, "2025-01-15")
	assert.NoError(t, err)
	assert.True(t, won)

	// Second caller sees triggered already TRUE: zero rows, no transition.
	mock.ExpectExec("UPDATE orch.phase_completions").
		WithArgs(model.PhaseAnalytics, "2025-01-15").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err = ds.MarkTriggered(ctx, model.PhaseAnalytics, "2025-01-15")
	assert.NoError(t, err)
	assert.False(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideTriggered_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	ctx := context.TODO()

	mock.ExpectExec("UPDATE orch.phase_completions").
		WithArgs(model.PhaseRaw, "1999-01-01", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.OverrideTriggered(ctx, model.PhaseRaw, "1999-01-01", false)
	assert.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, err.(apierror.APIError).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
