package executor

import (
	"sync"
	"time"
)

const (
	breakerThreshold = 3
	breakerWindow    = 60 * time.Second
	breakerCooldown  = 60 * time.Second
)

// Breaker is a per-agent circuit breaker over LLM calls. For each agent,
// three consecutive failures inside a 60 second window open that agent's
// circuit; it closes again after a 60 second cooldown. A success resets the
// agent's count. Failures of one agent never affect another's circuit.
type Breaker struct {
	mu     sync.Mutex
	agents map[string]*breakerState
	now    func() time.Time
}

type breakerState struct {
	failures    int
	windowStart time.Time
	openUntil   time.Time
}

// NewBreaker creates a breaker with every circuit closed.
func NewBreaker() *Breaker {
	return &Breaker{agents: make(map[string]*breakerState), now: time.Now}
}

func (b *Breaker) state(agentID string) *breakerState {
	st, ok := b.agents[agentID]
	if !ok {
		st = &breakerState{}
		b.agents[agentID] = st
	}
	return st
}

// Allow reports whether a call for the agent may proceed.
func (b *Breaker) Allow(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(agentID)
	now := b.now()
	if now.Before(st.openUntil) {
		return false
	}
	if !st.openUntil.IsZero() && !now.Before(st.openUntil) {
		// Cooldown elapsed: half-open, give the next call a chance.
		st.openUntil = time.Time{}
		st.failures = 0
	}
	return true
}

// RecordFailure counts a failed call against the agent, opening its circuit
// at the threshold.
func (b *Breaker) RecordFailure(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(agentID)
	now := b.now()
	if st.failures == 0 || now.Sub(st.windowStart) > breakerWindow {
		st.failures = 0
		st.windowStart = now
	}
	st.failures++
	if st.failures >= breakerThreshold {
		st.openUntil = now.Add(breakerCooldown)
	}
}

// RecordSuccess resets the agent's failure count.
func (b *Breaker) RecordSuccess(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(agentID)
	st.failures = 0
	st.openUntil = time.Time{}
}
