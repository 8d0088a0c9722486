package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker()
	assert.True(t, b.Allow("a"))

	b.RecordFailure("a")
	b.RecordFailure("a")
	assert.True(t, b.Allow("a"))

	b.RecordFailure("a")
	assert.False(t, b.Allow("a"))
}

func TestBreakerIsolatesAgents(t *testing.T) {
	b := NewBreaker()

	// One failure each on three different agents must not open anyone's
	// circuit, least of all a fourth healthy agent's.
	b.RecordFailure("a")
	b.RecordFailure("b")
	b.RecordFailure("c")

	assert.True(t, b.Allow("a"))
	assert.True(t, b.Allow("b"))
	assert.True(t, b.Allow("c"))
	assert.True(t, b.Allow("d"))

	// Opening one agent's circuit leaves the others closed.
	b.RecordFailure("a")
	b.RecordFailure("a")
	assert.False(t, b.Allow("a"))
	assert.True(t, b.Allow("b"))
	assert.True(t, b.Allow("d"))
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker()
	b.RecordFailure("a")
	b.RecordFailure("a")
	b.RecordSuccess("a")
	b.RecordFailure("a")
	b.RecordFailure("a")
	assert.True(t, b.Allow("a"))
}

func TestBreakerFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	now := time.Now()
	b := NewBreaker()
	b.now = func() time.Time { return now }

	b.RecordFailure("a")
	b.RecordFailure("a")

	// Third failure lands outside the window: the count restarts.
	now = now.Add(breakerWindow + time.Second)
	b.RecordFailure("a")
	assert.True(t, b.Allow("a"))
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker()
	b.now = func() time.Time { return now }

	b.RecordFailure("a")
	b.RecordFailure("a")
	b.RecordFailure("a")
	assert.False(t, b.Allow("a"))

	now = now.Add(breakerCooldown + time.Second)
	assert.True(t, b.Allow("a"))
}
