// Package pack loads knowledge packs from disk: a YAML metadata document,
// a line-delimited lesson list, and a free-text rule document passed
// through verbatim. Packs are authored externally and read-only here.
package pack

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	metadataFile = "pack.yaml"
	lessonsFile  = "lessons.jsonl"
	rulesFile    = "rules.md"
)

// Lesson is one learned, actionable instruction belonging to a pack.
// Immutable within a cache generation.
type Lesson struct {
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Actionable  string    `json:"actionable"`
	CreatedAt   time.Time `json:"created_at"`
	Utility     int       `json:"utility,omitempty"`
	Injections  int       `json:"injections,omitempty"`
	Corrections int       `json:"corrections,omitempty"`
}

// Metadata is the structured document at the root of each pack directory.
type Metadata struct {
	Name           string   `yaml:"name"`
	Version        string   `yaml:"version"`
	Team           string   `yaml:"team"`
	Categories     []string `yaml:"categories"`
	Extensions     []string `yaml:"extensions"`
	SensitivePaths []string `yaml:"sensitive_paths"`
	ExcludePaths   []string `yaml:"exclude_paths"`
	KeyPaths       []string `yaml:"key_paths"`
	DependsOn      []string `yaml:"depends_on"`
}

// Pack is one loaded knowledge bundle.
type Pack struct {
	Metadata
	Rules   string // rules.md passed through verbatim
	Lessons []Lesson
}

// loadPack reads one pack directory. Lesson lines that fail to parse or
// lack a required field are dropped with a diagnostic, not fatal.
func loadPack(dir string, log *zap.Logger) (*Pack, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("read pack metadata: %w", err)
	}

	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse pack metadata in %s: %w", dir, err)
	}
	if meta.Name == "" {
		meta.Name = filepath.Base(dir)
	}

	p := &Pack{Metadata: meta}

	if rules, err := os.ReadFile(filepath.Join(dir, rulesFile)); err == nil {
		p.Rules = string(rules)
	}

	p.Lessons = loadLessons(filepath.Join(dir, lessonsFile), meta.Name, log)
	return p, nil
}

// loadLessons parses the line-delimited lesson list. Each line is an
// independent record; failures skip the line and continue.
func loadLessons(path, packName string, log *zap.Logger) []Lesson {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var lessons []Lesson
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var l Lesson
		if err := json.Unmarshal(line, &l); err != nil {
			log.Warn("skipping malformed lesson line",
				zap.String("pack", packName),
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		if l.Title == "" || l.Actionable == "" {
			log.Warn("skipping lesson missing required field",
				zap.String("pack", packName),
				zap.Int("line", lineNo))
			continue
		}
		lessons = append(lessons, l)
	}
	return lessons
}
