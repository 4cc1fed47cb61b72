package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open decision log: %v", err)
	}
	return l, path
}

func testEntry(decision string) Entry {
	return Entry{
		SessionID: "s-test",
		Tool:      "Bash",
		Command:   "echo hello",
		Decision:  decision,
		Source:    "allowlist",
		Reason:    "test reason",
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Record(testEntry("allow")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 3; i++ {
		if err := l.Record(testEntry("allow")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"allow"`, `"deny"`, 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to fail verification")
	}
}

func TestReopenRecoversChainTail(t *testing.T) {
	l, path := newTestLog(t)
	if err := l.Record(testEntry("allow")); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l2.Record(testEntry("deny")); err != nil {
		t.Fatal(err)
	}
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 2 {
		t.Fatalf("expected valid 2-line chain after reopen, got %+v", result)
	}
}
