// Package relevance ranks knowledge packs against the current operation
// context. Scoring is pure: identical inputs against the same cache
// generation produce identical selections.
package relevance

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkondratev/packwatch/internal/config"
	"github.com/pkondratev/packwatch/internal/pack"
)

// Correction is one recent user correction attributed to a category.
type Correction struct {
	Category string
	At       time.Time
}

// Context describes the operation being scored.
type Context struct {
	FilePath    string
	Guidance    []string // categories from recently captured guidance
	Corrections []Correction
	Now         time.Time
}

// ScoredPack pairs a pack with its total score and lesson selection.
type ScoredPack struct {
	Pack    *pack.Pack
	Score   int
	Lessons []pack.Lesson
}

// Selection is a ranked, capped set of packs and lessons.
type Selection struct {
	Packs        []ScoredPack
	TotalLessons int
}

// Scorer applies configured weights and caps.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer creates a scorer with the given policy constants.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

type candidate struct {
	p      *pack.Pack
	score  int
	strong bool
}

// Score ranks the given packs for the context. Packs whose exclude
// prefixes cover the path score exactly zero regardless of other
// signals. A pack qualifies at StrongMin when any strong signal fired,
// otherwise at the higher WeakMin. Selection runs two passes: the
// second adds the dependency boost for packs declared as dependencies
// of a provisionally selected pack. Output order is score descending,
// pack name ascending on ties.
func (s *Scorer) Score(ctx Context, packs []*pack.Pack) Selection {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	base := make([]candidate, 0, len(packs))
	for _, p := range packs {
		score, strong := s.scorePack(ctx, p, now)
		base = append(base, candidate{p: p, score: score, strong: strong})
	}

	provisional := s.qualify(base)

	// Dependency boost: a pack declared in a provisionally selected
	// pack's depends_on list accrues a small extra signal.
	deps := make(map[string]bool)
	for _, c := range provisional {
		for _, d := range c.p.DependsOn {
			deps[d] = true
		}
	}
	if len(deps) > 0 {
		for i := range base {
			if base[i].score > 0 && deps[base[i].p.Name] {
				base[i].score += s.cfg.DependencyWeight
			}
		}
	}

	final := s.qualify(base)

	var sel Selection
	for _, c := range final {
		remaining := s.cfg.MaxLessonsTotal - sel.TotalLessons
		limit := s.cfg.MaxLessonsPerPack
		if limit > remaining {
			limit = remaining
		}
		lessons := topLessons(c.p.Lessons, limit)
		sel.TotalLessons += len(lessons)
		sel.Packs = append(sel.Packs, ScoredPack{Pack: c.p, Score: c.score, Lessons: lessons})
	}
	return sel
}

// qualify filters by threshold, orders deterministically, and caps the
// pack count.
func (s *Scorer) qualify(cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		if c.score <= 0 {
			continue
		}
		min := s.cfg.WeakMin
		if c.strong {
			min = s.cfg.StrongMin
		}
		if c.score >= min {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].p.Name < out[j].p.Name
	})
	if len(out) > s.cfg.MaxPacks {
		out = out[:s.cfg.MaxPacks]
	}
	return out
}

// scorePack accrues points from independent signals. Returns the total
// and whether any strong signal (key path, sensitive path, recent
// correction) fired.
func (s *Scorer) scorePack(ctx Context, p *pack.Pack, now time.Time) (int, bool) {
	path := filepath.ToSlash(ctx.FilePath)

	for _, prefix := range p.ExcludePaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return 0, false
		}
	}

	score := 0
	strong := false

	for _, kp := range p.KeyPaths {
		if kp != "" && (path == kp || strings.HasSuffix(path, kp)) {
			score += s.cfg.KeyPathWeight
			strong = true
			break
		}
	}

	for _, pattern := range p.SensitivePaths {
		if globMatch(pattern, path) {
			score += s.cfg.SensitiveWeight
			strong = true
			break
		}
	}

	if s.recentCorrection(ctx, p, now) {
		score += s.cfg.CorrectionWeight
		strong = true
	}

	if ext := filepath.Ext(path); ext != "" {
		for _, trigger := range p.Extensions {
			if strings.EqualFold(trigger, ext) {
				score += s.cfg.ExtensionWeight
				break
			}
		}
	}

	for _, g := range ctx.Guidance {
		if hasCategory(p, g) {
			score += s.cfg.GuidanceWeight
			break
		}
	}

	if pathKeywordHit(path, p.Categories) {
		score += s.cfg.KeywordWeight
	}

	return score, strong
}

func (s *Scorer) recentCorrection(ctx Context, p *pack.Pack, now time.Time) bool {
	for _, c := range ctx.Corrections {
		if now.Sub(c.At) > s.cfg.CorrectionWindow {
			continue
		}
		if hasCategory(p, c.Category) {
			return true
		}
	}
	return false
}

func hasCategory(p *pack.Pack, category string) bool {
	for _, c := range p.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// pathKeywordHit checks whether any path segment relates to a pack
// category, e.g. a path containing "test" boosts testing packs.
func pathKeywordHit(path string, categories []string) bool {
	for _, seg := range strings.Split(strings.ToLower(path), "/") {
		if seg == "" {
			continue
		}
		seg = strings.TrimSuffix(seg, filepath.Ext(seg))
		for _, c := range categories {
			lc := strings.ToLower(c)
			if lc == "" {
				continue
			}
			if strings.Contains(seg, lc) || strings.Contains(lc, seg) {
				return true
			}
		}
	}
	return false
}

// topLessons picks up to limit lessons by descending effectiveness,
// newest first on ties.
func topLessons(lessons []pack.Lesson, limit int) []pack.Lesson {
	if limit <= 0 || len(lessons) == 0 {
		return nil
	}
	sorted := make([]pack.Lesson, len(lessons))
	copy(sorted, lessons)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Utility != sorted[j].Utility {
			return sorted[i].Utility > sorted[j].Utility
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// globMatch tests a path against a glob-like pattern where ** crosses
// directory separators and * stays within one segment.
func globMatch(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	re, err := regexp.Compile("(?i)^" + globToRegex(pattern) + "$")
	if err != nil {
		return false
	}
	if re.MatchString(path) {
		return true
	}
	// Patterns like **/auth/** should also cover paths without a
	// leading directory component.
	return re.MatchString("./" + path)
}

func globToRegex(pattern string) string {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^/]*")
	return escaped
}
