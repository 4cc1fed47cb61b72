package session

import (
	"strings"
	"sync"
	"time"

	"github.com/pkondratev/packwatch/internal/relevance"
)

// categoryKeywords maps prompt keywords to pack categories.
var categoryKeywords = map[string]string{
	"test":      "testing",
	"spec":      "testing",
	"coverage":  "testing",
	"auth":      "security",
	"security":  "security",
	"secret":    "security",
	"token":     "security",
	"sql":       "database",
	"query":     "database",
	"migration": "database",
	"schema":    "database",
	"endpoint":  "api",
	"api":       "api",
	"handler":   "api",
	"css":       "styling",
	"style":     "styling",
	"layout":    "styling",
	"deploy":    "deployment",
	"release":   "deployment",
	"docker":    "deployment",
	"commit":    "git",
	"branch":    "git",
	"merge":     "git",
	"build":     "build",
	"compile":   "build",
	"slow":      "performance",
	"perf":      "performance",
	"doc":       "documentation",
	"readme":    "documentation",
}

// correctionMarkers flag a prompt as a correction rather than plain
// guidance.
var correctionMarkers = []string{
	"no,", "not what", "wrong", "don't", "do not", "stop", "undo",
	"that's incorrect", "instead of", "revert",
}

type guidanceEntry struct {
	category   string
	correction bool
	at         time.Time
}

// GuidanceLog keeps a trailing window of guidance and correction
// categories extracted from user prompts.
type GuidanceLog struct {
	window time.Duration
	mu     sync.Mutex
	items  []guidanceEntry
	now    func() time.Time
}

// NewGuidanceLog creates a log with the given trailing window.
func NewGuidanceLog(window time.Duration) *GuidanceLog {
	return &GuidanceLog{window: window, now: time.Now}
}

// Record extracts categories from a prompt and stores them. Prompts
// carrying a correction marker are recorded as corrections.
func (g *GuidanceLog) Record(prompt string) {
	lower := strings.ToLower(prompt)

	correction := false
	for _, m := range correctionMarkers {
		if strings.Contains(lower, m) {
			correction = true
			break
		}
	}

	seen := map[string]bool{}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	for kw, cat := range categoryKeywords {
		if seen[cat] || !strings.Contains(lower, kw) {
			continue
		}
		seen[cat] = true
		g.items = append(g.items, guidanceEntry{category: cat, correction: correction, at: now})
	}
	g.prune(now)
}

// Categories returns the distinct guidance categories inside the window.
func (g *GuidanceLog) Categories() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.prune(now)

	seen := map[string]bool{}
	var out []string
	for _, it := range g.items {
		if !seen[it.category] {
			seen[it.category] = true
			out = append(out, it.category)
		}
	}
	return out
}

// Corrections returns correction events inside the window.
func (g *GuidanceLog) Corrections() []relevance.Correction {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.prune(now)

	var out []relevance.Correction
	for _, it := range g.items {
		if it.correction {
			out = append(out, relevance.Correction{Category: it.category, At: it.at})
		}
	}
	return out
}

// Clear drops all recorded guidance.
func (g *GuidanceLog) Clear() {
	g.mu.Lock()
	g.items = nil
	g.mu.Unlock()
}

// prune drops entries older than the window. Caller holds the lock.
func (g *GuidanceLog) prune(now time.Time) {
	if g.window <= 0 {
		return
	}
	kept := g.items[:0]
	for _, it := range g.items {
		if now.Sub(it.at) <= g.window {
			kept = append(kept, it)
		}
	}
	g.items = kept
}
