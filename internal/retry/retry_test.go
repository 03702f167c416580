package retry

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/najicham/nba-stats-scraper-sub004/config"
)

func TestDelayCeilingBounds(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Cap: 30 * time.Second}

	assert.Equal(t, time.Second, p.delayCeiling(0))
	assert.Equal(t, 2*time.Second, p.delayCeiling(1))
	assert.Equal(t, 4*time.Second, p.delayCeiling(2))
	assert.Equal(t, 16*time.Second, p.delayCeiling(4))
	// Capped from attempt 5 onward.
	assert.Equal(t, 30*time.Second, p.delayCeiling(5))
	assert.Equal(t, 30*time.Second, p.delayCeiling(60))
}

// Every computed delay lies in [0, min(cap, base*2^attempt)].
func TestFullJitterWithinBounds(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Cap: 30 * time.Second}

	for run := 0; run < 20; run++ {
		b := &fullJitterBackOff{policy: p}
		for attempt := 0; attempt < p.MaxAttempts; attempt++ {
			ceiling := p.delayCeiling(attempt)
			d := b.NextBackOff()
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, ceiling)
		}
		b.Reset()
		assert.LessOrEqual(t, b.NextBackOff(), p.delayCeiling(0))
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	fatal := errors.New("schema does not exist")

	err := Do(context.Background(), ConflictPolicy(), IsWriteConflict, func() error {
		calls++
		return fatal
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, fatal, err)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Cap: 5 * time.Millisecond}, IsWriteConflict, func() error {
		calls++
		if calls < 3 {
			return ErrVersionConflict
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Cap: 2 * time.Millisecond}, IsWriteConflict, func() error {
		calls++
		return ErrVersionConflict
	})

	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, Cap: 20 * time.Millisecond}, IsWriteConflict, func() error {
		calls++
		return ErrVersionConflict
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsWriteConflict(t *testing.T) {
	assert.True(t, IsWriteConflict(ErrVersionConflict))
	assert.True(t, IsWriteConflict(errors.Wrap(ErrVersionConflict, "updating phase completion")))
	assert.True(t, IsWriteConflict(&pq.Error{Code: "40001"}))
	assert.True(t, IsWriteConflict(&pq.Error{Code: "40P01"}))
	assert.False(t, IsWriteConflict(&pq.Error{Code: "23505"}))
	assert.False(t, IsWriteConflict(errors.New("boom")))
}

func TestIsResourceExhausted(t *testing.T) {
	assert.True(t, IsResourceExhausted(&pq.Error{Code: "53300"}))
	assert.True(t, IsResourceExhausted(errors.New("rpc error: resource exhausted")))
	assert.True(t, IsResourceExhausted(errors.New("write quota exceeded for table")))
	assert.False(t, IsResourceExhausted(ErrVersionConflict))
	assert.False(t, IsResourceExhausted(nil))
}

func TestDoLayered(t *testing.T) {
	calls := 0

	// A conflict then an exhaustion then success exercises both layers.
	err := DoLayered(context.Background(), func() error {
		calls++
		switch calls {
		case 1:
			return ErrVersionConflict
		case 2:
			return errors.New("resource exhausted")
		default:
			return nil
		}
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExhaustedPolicyFromConfig(t *testing.T) {
	// Without loaded configuration the policy keeps its defaults.
	p := ExhaustedPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.Cap)

	config.MockConfig(&config.Configuration{
		Retry: config.RetryConfig{MaxAttempts: 7, BaseDelayMs: 5, CapMs: 20},
	})

	p = ExhaustedPolicy()
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, 5*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 20*time.Millisecond, p.Cap)
}
