package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	Valid     bool
	Lines     int
	ErrorLine int
	Error     string
}

// Verify walks a decision log and checks the hash chain end to end.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer func() { _ = f.Close() }()

	expected := GenesisHash
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{Lines: lineNo, ErrorLine: lineNo, Error: fmt.Sprintf("malformed entry: %v", err)}
		}
		if entry.PrevHash != expected {
			return VerifyResult{Lines: lineNo, ErrorLine: lineNo, Error: "hash chain broken"}
		}

		// Re-marshal to get the canonical line for hashing; tampering
		// with any field breaks the chain at the next entry.
		canonical, err := json.Marshal(entry)
		if err != nil {
			return VerifyResult{Lines: lineNo, ErrorLine: lineNo, Error: fmt.Sprintf("remarshal: %v", err)}
		}
		expected = HashLine(canonical)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: lineNo, Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Lines: lineNo}
}
