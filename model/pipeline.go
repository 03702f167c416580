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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase identifies one stage of the pipeline. The phase graph is small and
// fixed; phases always run in the order returned by AllPhases.
type Phase string

const (
	PhaseRaw         Phase = "raw"
	PhaseAnalytics   Phase = "analytics"
	PhaseFeatures    Phase = "features"
	PhasePredictions Phase = "predictions"
	PhaseExport      Phase = "export"
)

// AllPhases returns the pipeline phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseRaw, PhaseAnalytics, PhaseFeatures, PhasePredictions, PhaseExport}
}

// Valid reports whether p is one of the configured pipeline phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseRaw, PhaseAnalytics, PhaseFeatures, PhasePredictions, PhaseExport:
		return true
	}
	return false
}

// Next returns the downstream phase triggered when p completes. The export
// phase is the end of the graph and has no successor.
func (p Phase) Next() (Phase, bool) {
	phases := AllPhases()
	for i, ph := range phases {
		if ph == p && i+1 < len(phases) {
			return phases[i+1], true
		}
	}
	return "", false
}

// Status is the closed set of processor completion states. It is a sum type;
// free-form strings must be rejected at the boundary via Valid.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s represents a finished processor run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Completed reports whether s counts toward the phase trigger threshold.
// A partial run still feeds the downstream phase; a failed run does not.
func (s Status) Completed() bool {
	return s == StatusSuccess || s == StatusPartial
}

// statusRank orders statuses for the monotonic merge rule. A status can only
// move up the ranking; in particular a late "running" never overwrites an
// observed "success".
func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusFailed:
		return 2
	case StatusPartial:
		return 3
	case StatusSuccess:
		return 4
	}
	return -1
}

// MergeStatus applies the monotonic merge rule and returns the status that
// should be stored given an existing and an incoming report.
func MergeStatus(existing, incoming Status) Status {
	if statusRank(incoming) > statusRank(existing) {
		return incoming
	}
	return existing
}

const runDateLayout = "2006-01-02"

// ParseRunDate validates a run-date string. Run-dates are logical batch keys,
// not wall-clock processing times.
func ParseRunDate(s string) (string, error) {
	t, err := time.Parse(runDateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid run date %q, expected YYYY-MM-DD", s)
	}
	return t.Format(runDateLayout), nil
}

// RunDateForOffset returns the run-date string for today minus offset days.
func RunDateForOffset(now time.Time, offset int) string {
	return now.AddDate(0, 0, -offset).Format(runDateLayout)
}

// ProcessorCompletionRecord is one append-only history row describing a single
// processor run for a (phase, run_date). The latest row is authoritative.
type ProcessorCompletionRecord struct {
	Phase        Phase      `json:"phase"`
	RunDate      string     `json:"run_date"`
	Processor    string     `json:"processor_name"`
	Status       Status     `json:"status"`
	RecordCount  int64      `json:"record_count"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorSummary string     `json:"error_summary,omitempty"`
}

// PhaseCompletionDocument is the aggregate coordination record for one
// (phase, run_date). ExpectedProcessors is snapshotted from static phase
// configuration and never inferred from observed events. Triggered flips
// false to true at most once; only an operator override resets it.
type PhaseCompletionDocument struct {
	Phase              Phase             `json:"phase"`
	RunDate            string            `json:"run_date"`
	ExpectedProcessors []string          `json:"expected_processor_set"`
	Completions        map[string]Status `json:"completions"`
	Triggered          bool              `json:"triggered"`
	TriggeredAt        *time.Time        `json:"triggered_at,omitempty"`

	// Version is the optimistic concurrency token for compare-and-set
	// updates. It is storage metadata, not part of the document identity.
	Version int64 `json:"-"`
}

// Expects reports whether processor belongs to the document's configured set.
func (d *PhaseCompletionDocument) Expects(processor string) bool {
	for _, p := range d.ExpectedProcessors {
		if p == processor {
			return true
		}
	}
	return false
}

// Apply merges an incoming status report for processor under the monotonic
// rule. It returns true if the stored status changed.
func (d *PhaseCompletionDocument) Apply(processor string, incoming Status) bool {
	if d.Completions == nil {
		d.Completions = make(map[string]Status)
	}
	existing, ok := d.Completions[processor]
	if !ok {
		d.Completions[processor] = incoming
		return true
	}
	merged := MergeStatus(existing, incoming)
	if merged == existing {
		return false
	}
	d.Completions[processor] = merged
	return true
}

// CompletionFraction returns the fraction of expected processors whose latest
// status counts as completed. Failed processors stay in the denominator.
func (d *PhaseCompletionDocument) CompletionFraction() float64 {
	if len(d.ExpectedProcessors) == 0 {
		return 0
	}
	completed := 0
	for _, p := range d.ExpectedProcessors {
		if s, ok := d.Completions[p]; ok && s.Completed() {
			completed++
		}
	}
	return float64(completed) / float64(len(d.ExpectedProcessors))
}

// CompletionSnapshot returns a copy of the completions map for embedding in a
// trigger event, so consumers know exactly which upstream processors fed them.
func (d *PhaseCompletionDocument) CompletionSnapshot() map[string]Status {
	snap := make(map[string]Status, len(d.Completions))
	for k, v := range d.Completions {
		snap[k] = v
	}
	return snap
}

// BreakerState mirrors gobreaker's CLOSED/OPEN/HALF_OPEN states for
// persistence and operator display.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreakerState is the persisted per-processor breaker snapshot shown
// by the status CLI. The live state machine runs in-process; snapshots are
// written on every recorded attempt and state change.
type CircuitBreakerState struct {
	Processor           string       `json:"processor_name"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int64        `json:"consecutive_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	LastAttemptAt       time.Time    `json:"last_attempt_at"`
}

// CompletionEvent is published by a processor when it finishes a run.
// MessageID is unique per logical completion and shared across redeliveries.
type CompletionEvent struct {
	MessageID    string    `json:"message_id"`
	Topic        string    `json:"topic"`
	Phase        Phase     `json:"phase"`
	RunDate      string    `json:"run_date"`
	Processor    string    `json:"processor_name"`
	Status       Status    `json:"status"`
	RecordCount  int64     `json:"record_count"`
	ErrorSummary string    `json:"error_summary,omitempty"`
	EmittedAt    time.Time `json:"emitted_at"`
}

// TriggerEvent starts the processors of Phase for RunDate. The upstream
// snapshot records which processors completed when threshold < 1.0.
type TriggerEvent struct {
	MessageID        string            `json:"message_id"`
	Phase            Phase             `json:"phase"`
	RunDate          string            `json:"run_date"`
	UpstreamSnapshot map[string]Status `json:"upstream_completion_snapshot"`
	EmittedAt        time.Time         `json:"emitted_at"`
}

// ReprocessModeBackfill instructs a processor to redo a run without emitting
// a normal completion event that would redundantly re-trigger downstream.
const ReprocessModeBackfill = "backfill"

// ReprocessCommand asks one processor to redo its work for a run-date.
type ReprocessCommand struct {
	Phase     Phase  `json:"phase"`
	RunDate   string `json:"run_date"`
	Processor string `json:"processor_name"`
	Reason    string `json:"reason"`
	Mode      string `json:"mode"`
}

// GenerateMessageID returns a prefixed unique id for outbound events.
func GenerateMessageID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}

// GenerateHolderID identifies one lock acquisition attempt; a holder id is
// never reused so release and extend can prove ownership.
func GenerateHolderID() string {
	return GenerateMessageID("holder")
}
