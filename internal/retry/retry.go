package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/najicham/nba-stats-scraper-sub004/config"
)

// Policy bounds one retry loop. Delays use full jitter: each sleep is drawn
// uniformly from [0, min(Cap, BaseDelay*2^attempt)]. Without jitter,
// synchronized retry schedules turn into a thundering herd against the shared
// store being retried against.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Cap         time.Duration
}

// ConflictPolicy suits transient write conflicts, which clear on the next
// scheduling tick.
func ConflictPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, Cap: time.Second}
}

// ExhaustedPolicy suits resource exhaustion, where sustained load needs time
// to clear before another attempt is worth making. Attempts and delays come
// from the retry configuration when one is loaded.
func ExhaustedPolicy() Policy {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Cap: 30 * time.Second}
	cnf, err := config.Fetch()
	if err != nil {
		return p
	}
	if cnf.Retry.MaxAttempts > 0 {
		p.MaxAttempts = cnf.Retry.MaxAttempts
	}
	if cnf.Retry.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(cnf.Retry.BaseDelayMs) * time.Millisecond
	}
	if cnf.Retry.CapMs > 0 {
		p.Cap = time.Duration(cnf.Retry.CapMs) * time.Millisecond
	}
	return p
}

// delayCeiling returns min(Cap, BaseDelay*2^attempt) with overflow guarding.
func (p Policy) delayCeiling(attempt int) time.Duration {
	ceiling := p.BaseDelay
	for i := 0; i < attempt; i++ {
		ceiling *= 2
		if ceiling >= p.Cap || ceiling <= 0 {
			return p.Cap
		}
	}
	if ceiling > p.Cap {
		return p.Cap
	}
	return ceiling
}

// fullJitterBackOff adapts the full-jitter schedule to backoff.BackOff.
type fullJitterBackOff struct {
	policy  Policy
	attempt int
}

func (b *fullJitterBackOff) NextBackOff() time.Duration {
	ceiling := b.policy.delayCeiling(b.attempt)
	b.attempt++
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

func (b *fullJitterBackOff) Reset() {
	b.attempt = 0
}

// Do runs op, retrying per the policy while retryable(err) holds.
// Non-retryable errors are returned immediately without sleeping.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&fullJitterBackOff{policy: p}, uint64(p.MaxAttempts-1)),
		ctx,
	)
	return backoff.Retry(wrapped, b)
}

// DoLayered composes the two standard policies by decoration: an outer
// resource-exhausted loop wraps an inner write-conflict loop, so each class
// of transient failure gets its own backoff horizon.
func DoLayered(ctx context.Context, op func() error) error {
	return Do(ctx, ExhaustedPolicy(), IsResourceExhausted, func() error {
		return Do(ctx, ConflictPolicy(), IsWriteConflict, op)
	})
}

// ErrVersionConflict marks a lost compare-and-set race on a coordination
// document. Callers retry with the conflict policy; the next read picks up
// the winner's version.
var ErrVersionConflict = errors.New("document version conflict")

// IsWriteConflict reports whether err is a transient write conflict:
// a lost CAS race, a serialization failure, or a deadlock unwound by the
// database.
func IsWriteConflict(err error) bool {
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

// IsResourceExhausted reports whether err indicates quota or capacity
// exhaustion on the store being written to.
func IsResourceExhausted(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 53: insufficient resources.
		if strings.HasPrefix(string(pqErr.Code), "53") {
			return true
		}
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "quota exceeded")
}
