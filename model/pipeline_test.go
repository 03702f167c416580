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

package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseNext(t *testing.T) {
	next, ok := PhaseRaw.Next()
	assert.True(t, ok)
	assert.Equal(t, PhaseAnalytics, next)

	_, ok = PhaseExport.Next()
	assert.False(t, ok)
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusRunning, StatusSuccess, StatusPartial, StatusFailed} {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("done").Valid())
	assert.False(t, Status("").Valid())
}

func TestMergeStatusMonotonic(t *testing.T) {
	assert.Equal(t, StatusSuccess, MergeStatus(StatusSuccess, StatusRunning))
	assert.Equal(t, StatusSuccess, MergeStatus(StatusRunning, StatusSuccess))
	assert.Equal(t, StatusSuccess, MergeStatus(StatusSuccess, StatusFailed))
	assert.Equal(t, StatusFailed, MergeStatus(StatusPending, StatusFailed))
	assert.Equal(t, StatusPartial, MergeStatus(StatusFailed, StatusPartial))
}

// Any interleaving of running/success reports must leave the stored status at
// success once success has been observed.
func TestApplyMonotonicUnderInterleavings(t *testing.T) {
	for i := 0; i < 50; i++ {
		doc := &PhaseCompletionDocument{
			Phase:              PhaseRaw,
			RunDate:            "2025-01-15",
			ExpectedProcessors: []string{"gamebook-parser"},
		}
		events := []Status{StatusRunning, StatusRunning, StatusSuccess, StatusRunning}
		rand.Shuffle(len(events), func(a, b int) { events[a], events[b] = events[b], events[a] })
		for _, s := range events {
			doc.Apply("gamebook-parser", s)
		}
		assert.Equal(t, StatusSuccess, doc.Completions["gamebook-parser"])
	}
}

func TestApplyReportsChange(t *testing.T) {
	doc := &PhaseCompletionDocument{Phase: PhaseRaw, RunDate: "2025-01-15"}

	assert.True(t, doc.Apply("boxscore-scraper", StatusRunning))
	assert.True(t, doc.Apply("boxscore-scraper", StatusSuccess))
	// Replay and downgrade are both no-ops.
	assert.False(t, doc.Apply("boxscore-scraper", StatusSuccess))
	assert.False(t, doc.Apply("boxscore-scraper", StatusRunning))
}

func TestCompletionFraction(t *testing.T) {
	doc := &PhaseCompletionDocument{
		Phase:              PhaseAnalytics,
		RunDate:            "2025-01-15",
		ExpectedProcessors: []string{"a", "b", "c", "d", "e"},
		Completions: map[string]Status{
			"a": StatusSuccess,
			"b": StatusSuccess,
			"c": StatusPartial,
			"d": StatusFailed,
			"e": StatusRunning,
		},
	}
	// Failed and running stay in the denominator but not the numerator.
	assert.InDelta(t, 0.6, doc.CompletionFraction(), 1e-9)

	// A reporter outside the expected set never expands the fraction.
	doc.Completions["rogue"] = StatusSuccess
	assert.InDelta(t, 0.6, doc.CompletionFraction(), 1e-9)
}

func TestCompletionFractionEmptySet(t *testing.T) {
	doc := &PhaseCompletionDocument{Phase: PhaseRaw, RunDate: "2025-01-15"}
	assert.Zero(t, doc.CompletionFraction())
}

func TestCompletionSnapshotIsACopy(t *testing.T) {
	doc := &PhaseCompletionDocument{
		Completions: map[string]Status{"a": StatusSuccess},
	}
	snap := doc.CompletionSnapshot()
	snap["a"] = StatusFailed
	assert.Equal(t, StatusSuccess, doc.Completions["a"])
}

func TestParseRunDate(t *testing.T) {
	got, err := ParseRunDate("2025-01-15")
	assert.NoError(t, err)
	assert.Equal(t, "2025-01-15", got)

	_, err = ParseRunDate("01/15/2025")
	assert.Error(t, err)
}
