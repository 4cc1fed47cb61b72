// Package metrics accumulates per-session decision counters and writes
// one summary record per session on detach.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkondratev/packwatch/internal/model"
)

// Summary is the per-session record appended to the metrics file.
type Summary struct {
	SessionID        string         `json:"session_id"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          time.Time      `json:"ended_at"`
	BySource         map[string]int `json:"by_source"`
	ByDecision       map[string]int `json:"by_decision"`
	Total            int            `json:"total"`
	AutoApprovalRate float64        `json:"auto_approval_rate"`
}

type sessionCounters struct {
	startedAt  time.Time
	bySource   map[string]int
	byDecision map[string]int
	total      int
	autoAllows int
}

// Recorder tracks decision counters per attached session.
type Recorder struct {
	path string
	mu   sync.Mutex
	live map[string]*sessionCounters
}

// NewRecorder creates a recorder writing summaries to path.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path, live: make(map[string]*sessionCounters)}
}

// Track begins counting for a session. Idempotent.
func (r *Recorder) Track(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[sessionID]; !ok {
		r.live[sessionID] = &sessionCounters{
			startedAt:  time.Now().UTC(),
			bySource:   make(map[string]int),
			byDecision: make(map[string]int),
		}
	}
}

// Count records one decision for a session. Unknown sessions are
// tracked implicitly so no decision is lost.
func (r *Recorder) Count(sessionID string, res model.EvalResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.live[sessionID]
	if !ok {
		c = &sessionCounters{
			startedAt:  time.Now().UTC(),
			bySource:   make(map[string]int),
			byDecision: make(map[string]int),
		}
		r.live[sessionID] = c
	}

	c.bySource[string(res.Source)]++
	c.byDecision[string(res.Decision)]++
	c.total++
	if res.Decision == model.Allow &&
		(res.Source == model.SourceAllowlist || res.Source == model.SourceLearned) {
		c.autoAllows++
	}
}

// FlushSession finalizes a session's counters, appends the summary to
// the metrics file, and returns it. Returns nil for untracked sessions.
func (r *Recorder) FlushSession(sessionID string) (*Summary, error) {
	r.mu.Lock()
	c, ok := r.live[sessionID]
	if ok {
		delete(r.live, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	s := &Summary{
		SessionID:  sessionID,
		StartedAt:  c.startedAt,
		EndedAt:    time.Now().UTC(),
		BySource:   c.bySource,
		ByDecision: c.byDecision,
		Total:      c.total,
	}
	if c.total > 0 {
		s.AutoApprovalRate = float64(c.autoAllows) / float64(c.total)
	}

	if err := r.append(s); err != nil {
		return s, err
	}
	return s, nil
}

// Snapshot returns aggregate live counters for status reporting.
func (r *Recorder) Snapshot() (bySource, byDecision map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySource = make(map[string]int)
	byDecision = make(map[string]int)
	for _, c := range r.live {
		for k, v := range c.bySource {
			bySource[k] += v
		}
		for k, v := range c.byDecision {
			byDecision[k] += v
		}
	}
	return bySource, byDecision
}

func (r *Recorder) append(s *Summary) error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		return fmt.Errorf("metrics: create dir: %w", err)
	}

	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("metrics: marshal summary: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("metrics: open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("metrics: append summary: %w", err)
	}
	return nil
}
