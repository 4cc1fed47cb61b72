package evaluator

import (
	"sync"
	"time"
)

// Ledger tracks cumulative evaluator spend for the current warm period.
// The warm period ends when the evaluator sits idle past the configured
// threshold or the last session detaches; re-arming resets the spend.
type Ledger struct {
	mu        sync.Mutex
	maxCost   float64
	idleReset time.Duration
	spent     float64
	lastUsed  time.Time
	now       func() time.Time
}

// NewLedger creates a ledger with the given hard cap and idle threshold.
func NewLedger(maxCost float64, idleReset time.Duration) *Ledger {
	return &Ledger{maxCost: maxCost, idleReset: idleReset, now: time.Now}
}

// Arm marks the start of a call, re-arming the warm period if the
// evaluator has been idle past the threshold. Returns false when the
// cumulative cap is already reached — the caller must not spend.
func (l *Ledger) Arm() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.idleReset > 0 && !l.lastUsed.IsZero() && now.Sub(l.lastUsed) > l.idleReset {
		l.spent = 0
	}
	l.lastUsed = now

	return l.maxCost <= 0 || l.spent < l.maxCost
}

// Charge records the cost of a completed call.
func (l *Ledger) Charge(cost float64) {
	l.mu.Lock()
	l.spent += cost
	l.lastUsed = l.now()
	l.mu.Unlock()
}

// Spent reports the cumulative spend for the current warm period.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

// Reset clears the warm period, typically on last-session-end.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.spent = 0
	l.lastUsed = time.Time{}
	l.mu.Unlock()
}
