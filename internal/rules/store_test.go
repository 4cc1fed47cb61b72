package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, allowYAML, denyYAML string) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	allowPath := filepath.Join(dir, "allow.yaml")
	denyPath := filepath.Join(dir, "deny.yaml")
	learnedPath := filepath.Join(dir, "learned.jsonl")

	if allowYAML != "" {
		if err := os.WriteFile(allowPath, []byte(allowYAML), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if denyYAML != "" {
		if err := os.WriteFile(denyPath, []byte(denyYAML), 0600); err != nil {
			t.Fatal(err)
		}
	}

	s, err := NewStore(allowPath, denyPath, learnedPath, nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s, learnedPath
}

const denyRmRF = `rules:
  - id: no-rm-rf
    type: regex
    pattern: 'rm\s+-rf\s+/'
    reason: destructive
`

func TestAppendLearnedPersistsAndMatches(t *testing.T) {
	s, learnedPath := newTestStore(t, "", denyRmRF)

	err := s.AppendLearned(Rule{ID: "npm-test", Type: MatchPrefix, Pattern: "npm test", Reason: "approved by user"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hit := s.MatchLearned("npm test -- --watch"); hit == nil || hit.ID != "npm-test" {
		t.Errorf("expected learned match, got %+v", hit)
	}

	// A fresh store must see the persisted rule in the same order.
	s2, err := NewStore(filepath.Join(filepath.Dir(learnedPath), "allow.yaml"), filepath.Join(filepath.Dir(learnedPath), "deny.yaml"), learnedPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if hit := s2.MatchLearned("npm test"); hit == nil {
		t.Error("expected learned rule to survive reload")
	}
}

func TestAppendLearnedRejectsDenyConflict(t *testing.T) {
	s, learnedPath := newTestStore(t, "", denyRmRF)

	err := s.AppendLearned(Rule{ID: "bad", Type: MatchPrefix, Pattern: "rm -rf /tmp/x", Reason: "oops"})
	if !errors.Is(err, ErrDenyConflict) {
		t.Fatalf("expected ErrDenyConflict, got %v", err)
	}

	// Nothing may be persisted on rejection.
	if _, err := os.Stat(learnedPath); !os.IsNotExist(err) {
		data, _ := os.ReadFile(learnedPath)
		if len(data) != 0 {
			t.Errorf("expected empty learned store, got %q", data)
		}
	}
}

func TestMalformedLearnedLineSkipped(t *testing.T) {
	dir := t.TempDir()
	learnedPath := filepath.Join(dir, "learned.jsonl")
	content := `{"id":"ok","type":"prefix","pattern":"go test","reason":"fine"}
garbage line
{"id":"ok2","type":"prefix","pattern":"go vet","reason":"fine"}
`
	if err := os.WriteFile(learnedPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(filepath.Join(dir, "a.yaml"), filepath.Join(dir, "d.yaml"), learnedPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, _, learned := s.Snapshot()
	if len(learned) != 2 {
		t.Errorf("expected 2 learned rules, got %d", len(learned))
	}
}

func TestReloadPicksUpNewDenyRules(t *testing.T) {
	s, _ := newTestStore(t, "", "")
	if s.MatchDeny("rm -rf /") != nil {
		t.Fatal("deny list should start empty")
	}

	denyPath := s.denyPath
	if err := os.WriteFile(denyPath, []byte(denyRmRF), 0600); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}
	if s.MatchDeny("rm -rf /") == nil {
		t.Error("expected reloaded deny rule to match")
	}
}

func TestConcurrentAppendAndMatch(t *testing.T) {
	s, _ := newTestStore(t, "", "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = s.AppendLearned(Rule{ID: "r", Type: MatchPrefix, Pattern: "go build", Reason: "ok"})
		}
	}()
	for i := 0; i < 200; i++ {
		s.MatchLearned("go build ./...")
	}
	<-done
}
