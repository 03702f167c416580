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
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/najicham/nba-stats-scraper-sub004/config"
	"github.com/najicham/nba-stats-scraper-sub004/internal/cache"
)

var instance *Datasource
var once sync.Once

// Datasource is the coordination store. All orchestration state lives in the
// orch schema; atomic create-if-absent plus versioned compare-and-set are the
// only storage primitives the coordination layer relies on.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a process-wide access point to the datasource and
// initializes it on first use.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	if _, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS orch`); err != nil {
		return nil, err
	}
	err = createPhaseCompletionTable(db)
	if err != nil {
		return nil, err
	}
	err = createProcessorCompletionTable(db)
	if err != nil {
		return nil, err
	}
	err = createCircuitBreakerTable(db)
	if err != nil {
		return nil, err
	}
	err = createProcessorOutputTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func createPhaseCompletionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orch.phase_completions (
			id SERIAL PRIMARY KEY,
			phase TEXT NOT NULL,
			run_date TEXT NOT NULL,
			expected_processors JSONB NOT NULL,
			completions JSONB NOT NULL DEFAULT '{}',
			triggered BOOLEAN NOT NULL DEFAULT FALSE,
			triggered_at TIMESTAMP,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (phase, run_date)
		)
	`)
	return err
}

func createProcessorCompletionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orch.processor_completions (
			id SERIAL PRIMARY KEY,
			phase TEXT NOT NULL,
			run_date TEXT NOT NULL,
			processor_name TEXT NOT NULL,
			status TEXT NOT NULL,
			record_count BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error_summary TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_processor_completions_key
			ON orch.processor_completions (phase, run_date, processor_name)
	`)
	return err
}

func createCircuitBreakerTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orch.circuit_breakers (
			processor_name TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			consecutive_failures BIGINT NOT NULL DEFAULT 0,
			opened_at TIMESTAMP,
			last_attempt_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func createProcessorOutputTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orch.processor_outputs (
			id SERIAL PRIMARY KEY,
			phase TEXT NOT NULL,
			run_date TEXT NOT NULL,
			processor_name TEXT NOT NULL,
			record_count BIGINT NOT NULL,
			produced_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_processor_outputs_key
			ON orch.processor_outputs (phase, run_date, processor_name)
	`)
	return err
}

// GenerateUUIDWithSuffix returns a module-prefixed unique id, e.g.
// "trigger_6ba7b810-...".
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}
