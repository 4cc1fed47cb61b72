package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkondratev/packwatch/internal/model"
)

func TestCountersAndAutoApprovalRate(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "metrics.jsonl"))
	r.Track("s1")

	r.Count("s1", model.EvalResult{Decision: model.Allow, Source: model.SourceAllowlist})
	r.Count("s1", model.EvalResult{Decision: model.Allow, Source: model.SourceLearned})
	r.Count("s1", model.EvalResult{Decision: model.Deny, Source: model.SourceDenylist})
	r.Count("s1", model.EvalResult{Decision: model.Ask, Source: model.SourceError})

	s, err := r.FlushSession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Total != 4 {
		t.Errorf("expected 4 decisions, got %d", s.Total)
	}
	if s.BySource["allowlist"] != 1 || s.BySource["learned"] != 1 {
		t.Errorf("unexpected source counts: %v", s.BySource)
	}
	if s.AutoApprovalRate != 0.5 {
		t.Errorf("expected auto-approval rate 0.5, got %f", s.AutoApprovalRate)
	}
}

func TestFlushAppendsOneSummaryLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	r := NewRecorder(path)
	r.Track("s1")
	r.Count("s1", model.EvalResult{Decision: model.Allow, Source: model.SourceAllowlist})
	if _, err := r.FlushSession("s1"); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
		var s Summary
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			t.Fatalf("malformed summary line: %v", err)
		}
		if s.SessionID != "s1" {
			t.Errorf("unexpected session id %q", s.SessionID)
		}
	}
	if lines != 1 {
		t.Errorf("expected 1 summary line, got %d", lines)
	}
}

func TestFlushUnknownSessionIsNil(t *testing.T) {
	r := NewRecorder("")
	s, err := r.FlushSession("ghost")
	if err != nil || s != nil {
		t.Errorf("expected nil summary for unknown session, got %v, %v", s, err)
	}
}

func TestUntrackedSessionCountsImplicitly(t *testing.T) {
	r := NewRecorder("")
	r.Count("late", model.EvalResult{Decision: model.Ask, Source: model.SourceLLM})
	s, _ := r.FlushSession("late")
	if s == nil || s.Total != 1 {
		t.Errorf("expected implicit tracking, got %+v", s)
	}
}
