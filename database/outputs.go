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

	"go.opentelemetry.io/otel"

	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// CountOutputRecords probes the output store for records attributable to a
// (phase, run_date, processor). The reconciler trusts this over self-reported
// status: a processor whose push event was lost still left its records here.
func (d Datasource) CountOutputRecords(ctx context.Context, phase model.Phase, runDate, processor string) (int64, error) {
	ctx, span := otel.Tracer("OutputProbe").Start(ctx, "Counting processor output records")
	defer span.End()

	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(record_count), 0)
		FROM orch.processor_outputs
		WHERE phase = $1 AND run_date = $2 AND processor_name = $3
	`, phase, runDate, processor).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
