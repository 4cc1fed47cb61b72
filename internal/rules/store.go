package rules

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// ErrDenyConflict is returned when a learned rule would contradict the
// static deny list. The store never holds a self-contradictory state.
var ErrDenyConflict = errors.New("learned rule conflicts with deny list")

// Store holds the three disjoint rule collections. Allow and deny are
// loaded from shared YAML files; learned rules live in a machine-local
// append-only JSONL file.
type Store struct {
	log *zap.Logger

	allowPath   string
	denyPath    string
	learnedPath string

	mu      sync.RWMutex
	allow   *Ruleset
	deny    *Ruleset
	learned *Ruleset
}

// NewStore loads all three rule sets. Load failures of individual files
// degrade to empty sets with a diagnostic, except unreadable learned
// state which is fatal (a corrupt learned store must not silently allow).
func NewStore(allowPath, denyPath, learnedPath string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		log:         log,
		allowPath:   allowPath,
		denyPath:    denyPath,
		learnedPath: learnedPath,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads all rule files and swaps them in atomically.
func (s *Store) Reload() error {
	allow := s.loadStatic(s.allowPath, "allowlist")
	deny := s.loadStatic(s.denyPath, "denylist")

	learned, err := loadLearned(s.learnedPath, s.log)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.allow = allow
	s.deny = deny
	s.learned = learned
	s.mu.Unlock()
	return nil
}

func (s *Store) loadStatic(path, kind string) *Ruleset {
	set, dropped, err := LoadFile(path)
	if err != nil {
		s.log.Warn("cannot load rule file, using empty set",
			zap.String("kind", kind), zap.String("path", path), zap.Error(err))
		set, _ = NewRuleset(nil)
	}
	for _, d := range dropped {
		s.log.Warn("dropped rule", zap.String("kind", kind), zap.Error(d))
	}
	return set
}

// AllowPath returns the allowlist file path.
func (s *Store) AllowPath() string { return s.allowPath }

// DenyPath returns the denylist file path.
func (s *Store) DenyPath() string { return s.denyPath }

// MatchAllow returns the first matching allow rule, or nil.
func (s *Store) MatchAllow(command string) *Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allow.Match(command)
}

// MatchDeny returns the first matching deny rule, or nil.
func (s *Store) MatchDeny(command string) *Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deny.Match(command)
}

// MatchLearned returns the first matching learned rule, or nil.
func (s *Store) MatchLearned(command string) *Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.learned.Match(command)
}

// Snapshot returns copies of all three rule lists for inspection.
func (s *Store) Snapshot() (allow, deny, learned []Rule) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allow.Rules(), s.deny.Rules(), s.learned.Rules()
}

// AppendLearned validates, persists, and activates one learned rule.
// The rule's pattern is treated as representative command text and is
// rejected if the deny list matches it — a learned approval must never
// cover denied commands.
func (s *Store) AppendLearned(r Rule) error {
	if err := r.compile(); err != nil {
		return err
	}
	if r.Pattern == "" {
		return fmt.Errorf("learned rule %s: empty pattern", r.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if hit := s.deny.Match(r.Pattern); hit != nil {
		return fmt.Errorf("%w: deny rule %s matches pattern %q", ErrDenyConflict, hit.ID, r.Pattern)
	}

	if err := appendLine(s.learnedPath, r); err != nil {
		return err
	}

	s.learned.rules = append(s.learned.rules, r)
	return nil
}

// appendLine writes one JSON record as a single atomic O_APPEND write.
func appendLine(path string, r Rule) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create learned dir: %w", err)
	}

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal learned rule: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open learned store: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append learned rule: %w", err)
	}
	return f.Sync()
}

// loadLearned reads the append-only learned store, preserving line order.
// Malformed lines are skipped with a diagnostic.
func loadLearned(path string, log *zap.Logger) (*Ruleset, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			set, _ := NewRuleset(nil)
			return set, nil
		}
		return nil, fmt.Errorf("open learned store: %w", err)
	}
	defer func() { _ = f.Close() }()

	var rs []Rule
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Rule
		if err := json.Unmarshal(line, &r); err != nil {
			log.Warn("skipping malformed learned rule",
				zap.String("path", path), zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		rs = append(rs, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan learned store: %w", err)
	}

	set, dropped := NewRuleset(rs)
	for _, d := range dropped {
		log.Warn("dropped learned rule", zap.Error(d))
	}
	return set, nil
}
