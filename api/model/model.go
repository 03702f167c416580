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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/najicham/nba-stats-scraper-sub004/model"
)

func validPhase(value interface{}) error {
	phase, ok := value.(string)
	if !ok || !model.Phase(phase).Valid() {
		return errors.New("phase must be one of raw, analytics, features, predictions, export")
	}
	return nil
}

func validRunDate(value interface{}) error {
	runDate, ok := value.(string)
	if !ok {
		return errors.New("run_date must be a string")
	}
	if _, err := model.ParseRunDate(runDate); err != nil {
		return errors.New("please format the run date as 'YYYY-MM-DD' (e.g., 2025-01-15)")
	}
	return nil
}

// ForceTriggerRequest is the body of POST /force-trigger.
type ForceTriggerRequest struct {
	Phase   string `json:"phase"`
	RunDate string `json:"run_date"`
	Actor   string `json:"actor"`
	Reason  string `json:"reason"`
}

func (r *ForceTriggerRequest) ValidateForceTrigger() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Phase, validation.Required, validation.By(validPhase)),
		validation.Field(&r.RunDate, validation.Required, validation.By(validRunDate)),
		validation.Field(&r.Actor, validation.Required),
		validation.Field(&r.Reason, validation.Required),
	)
}

// OverrideTriggeredRequest is the body of POST /override-triggered.
type OverrideTriggeredRequest struct {
	Phase     string `json:"phase"`
	RunDate   string `json:"run_date"`
	Triggered *bool  `json:"triggered"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
}

func (r *OverrideTriggeredRequest) ValidateOverrideTriggered() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Phase, validation.Required, validation.By(validPhase)),
		validation.Field(&r.RunDate, validation.Required, validation.By(validRunDate)),
		validation.Field(&r.Triggered, validation.NotNil),
		validation.Field(&r.Actor, validation.Required),
		validation.Field(&r.Reason, validation.Required),
	)
}

// ReleaseLockRequest is the body of POST /locks/release.
type ReleaseLockRequest struct {
	Phase   string `json:"phase"`
	RunDate string `json:"run_date"`
	Actor   string `json:"actor"`
	Reason  string `json:"reason"`
}

func (r *ReleaseLockRequest) ValidateReleaseLock() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Phase, validation.Required, validation.By(validPhase)),
		validation.Field(&r.RunDate, validation.Required, validation.By(validRunDate)),
		validation.Field(&r.Actor, validation.Required),
		validation.Field(&r.Reason, validation.Required),
	)
}

// IngestCompletionRequest lets HTTP-only processors report completions
// without a queue client. The server wraps it into a completion event and
// publishes it onto the phase's completion queue.
type IngestCompletionRequest struct {
	MessageID    string `json:"message_id"`
	Phase        string `json:"phase"`
	RunDate      string `json:"run_date"`
	Processor    string `json:"processor_name"`
	Status       string `json:"status"`
	RecordCount  int64  `json:"record_count"`
	ErrorSummary string `json:"error_summary"`
}

func (r *IngestCompletionRequest) ValidateIngestCompletion() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.MessageID, validation.Required),
		validation.Field(&r.Phase, validation.Required, validation.By(validPhase)),
		validation.Field(&r.RunDate, validation.Required, validation.By(validRunDate)),
		validation.Field(&r.Processor, validation.Required),
		validation.Field(&r.Status, validation.Required, validation.By(func(value interface{}) error {
			status, ok := value.(string)
			if !ok || !model.Status(status).Valid() {
				return errors.New("status must be one of pending, running, success, partial, failed")
			}
			return nil
		})),
	)
}
