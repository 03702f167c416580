package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/najicham/nba-stats-scraper-sub004/model"
)

func TestClosedUntilThreshold(t *testing.T) {
	r := NewRegistry(3, time.Minute, nil)

	assert.True(t, r.AllowAttempt("espn-boxscores"))
	r.RecordAttempt("espn-boxscores", false)
	assert.True(t, r.AllowAttempt("espn-boxscores"))
	r.RecordAttempt("espn-boxscores", false)
	assert.Equal(t, model.BreakerClosed, r.State("espn-boxscores"))

	// Third consecutive failure trips the breaker.
	assert.True(t, r.AllowAttempt("espn-boxscores"))
	r.RecordAttempt("espn-boxscores", false)
	assert.Equal(t, model.BreakerOpen, r.State("espn-boxscores"))
	assert.False(t, r.AllowAttempt("espn-boxscores"))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	r := NewRegistry(3, time.Minute, nil)

	r.RecordAttempt("odds-api-lines", false)
	r.RecordAttempt("odds-api-lines", false)
	r.RecordAttempt("odds-api-lines", true)
	r.RecordAttempt("odds-api-lines", false)
	r.RecordAttempt("odds-api-lines", false)

	assert.Equal(t, model.BreakerClosed, r.State("odds-api-lines"))
	assert.True(t, r.AllowAttempt("odds-api-lines"))
}

func TestHalfOpenProbeAndReopen(t *testing.T) {
	r := NewRegistry(2, 50*time.Millisecond, nil)

	r.RecordAttempt("bigdataball-pbp", false)
	r.RecordAttempt("bigdataball-pbp", false)
	assert.False(t, r.AllowAttempt("bigdataball-pbp"))

	time.Sleep(60 * time.Millisecond)

	// After cooldown exactly one probe is admitted.
	assert.True(t, r.AllowAttempt("bigdataball-pbp"))
	assert.Equal(t, model.BreakerHalfOpen, r.State("bigdataball-pbp"))
	assert.False(t, r.AllowAttempt("bigdataball-pbp"))

	// A failed probe re-opens the breaker.
	r.RecordAttempt("bigdataball-pbp", false)
	assert.Equal(t, model.BreakerOpen, r.State("bigdataball-pbp"))
	assert.False(t, r.AllowAttempt("bigdataball-pbp"))
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	r := NewRegistry(2, 50*time.Millisecond, nil)

	r.RecordAttempt("nbacom-gamebooks", false)
	r.RecordAttempt("nbacom-gamebooks", false)

	time.Sleep(60 * time.Millisecond)

	assert.True(t, r.AllowAttempt("nbacom-gamebooks"))
	r.RecordAttempt("nbacom-gamebooks", true)
	assert.Equal(t, model.BreakerClosed, r.State("nbacom-gamebooks"))
	assert.True(t, r.AllowAttempt("nbacom-gamebooks"))
}

func TestHalfOpenSlotFreedWhenOutcomeNeverArrives(t *testing.T) {
	r := NewRegistry(2, 50*time.Millisecond, nil)

	r.RecordAttempt("grading-export", false)
	r.RecordAttempt("grading-export", false)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.AllowAttempt("grading-export"))

	// The admitted attempt never reports back. Once its window lapses the
	// registry scores it as a failure and re-opens the breaker instead of
	// holding the half-open slot forever.
	time.Sleep(60 * time.Millisecond)
	assert.False(t, r.AllowAttempt("grading-export"))
	assert.Equal(t, model.BreakerOpen, r.State("grading-export"))

	// Automatic recovery resumes: the next cooldown admits a fresh attempt
	// and a success closes the breaker.
	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.AllowAttempt("grading-export"))
	r.RecordAttempt("grading-export", true)
	assert.Equal(t, model.BreakerClosed, r.State("grading-export"))
}

func TestOutcomesDroppedWhileOpen(t *testing.T) {
	r := NewRegistry(2, time.Minute, nil)

	r.RecordAttempt("grading-export", false)
	r.RecordAttempt("grading-export", false)
	assert.Equal(t, model.BreakerOpen, r.State("grading-export"))

	// Recording without a reservation while open is a no-op, not a panic.
	r.RecordAttempt("grading-export", true)
	assert.Equal(t, model.BreakerOpen, r.State("grading-export"))
}

func TestSnapshotsArePerProcessor(t *testing.T) {
	var persisted []model.CircuitBreakerState
	r := NewRegistry(2, time.Minute, func(s model.CircuitBreakerState) {
		persisted = append(persisted, s)
	})

	r.RecordAttempt("player-form-features", false)
	r.RecordAttempt("matchup-features", true)

	assert.Len(t, persisted, 2)
	snaps := r.Snapshots()
	assert.Len(t, snaps, 2)

	one := r.Snapshot("player-form-features")
	assert.Equal(t, int64(1), one.ConsecutiveFailures)
	assert.Equal(t, model.BreakerClosed, one.State)

	// Breakers and their counters never contend across processors.
	other := r.Snapshot("matchup-features")
	assert.Equal(t, int64(0), other.ConsecutiveFailures)
}
