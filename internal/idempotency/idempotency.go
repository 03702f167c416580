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

package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Store records which (topic, message_id) pairs have already been handled so
// redelivered messages are dropped. Records are TTL-bounded since redelivery
// is not unbounded in time.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(topic, messageID string) string {
	return fmt.Sprintf("idem:%s:%s", topic, messageID)
}

// AlreadyHandled reports whether the message was processed before. When the
// store is unreachable it fails open (treats the message as new) rather than
// block the pipeline; downstream writers tolerate the resulting duplicate.
func (s *Store) AlreadyHandled(ctx context.Context, topic, messageID string) bool {
	n, err := s.client.Exists(ctx, key(topic, messageID)).Result()
	if err != nil {
		logrus.Warnf("idempotency check failed for %s/%s, failing open: %v", topic, messageID, err)
		return false
	}
	return n > 0
}

// MarkHandled records the message as processed. Call this only after the
// guarded side effect has durably completed; a crash in between yields at
// most one extra duplicate.
func (s *Store) MarkHandled(ctx context.Context, topic, messageID string) error {
	return s.client.Set(ctx, key(topic, messageID), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}
