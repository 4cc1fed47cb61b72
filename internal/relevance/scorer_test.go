package relevance

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/pkondratev/packwatch/internal/config"
	"github.com/pkondratev/packwatch/internal/pack"
)

func testCfg() config.ScoringConfig {
	return config.DefaultConfig().Scoring
}

func mkPack(name string, mut func(*pack.Pack)) *pack.Pack {
	p := &pack.Pack{Metadata: pack.Metadata{Name: name}}
	if mut != nil {
		mut(p)
	}
	return p
}

func mkLessons(n int) []pack.Lesson {
	var ls []pack.Lesson
	for i := 0; i < n; i++ {
		ls = append(ls, pack.Lesson{
			Title:      fmt.Sprintf("lesson-%d", i),
			Actionable: "do it",
			Utility:    i,
		})
	}
	return ls
}

func TestSensitivePathWithExtensionClearsStrongThreshold(t *testing.T) {
	p := mkPack("auth-pack", func(p *pack.Pack) {
		p.SensitivePaths = []string{"**/auth/**"}
		p.Extensions = []string{".ts"}
		p.Lessons = mkLessons(1)
	})
	noisy := mkPack("big-pack", func(p *pack.Pack) {
		p.Extensions = []string{".ts"}
		p.Lessons = mkLessons(50)
	})

	sel := NewScorer(testCfg()).Score(Context{FilePath: "src/auth/session.ts"}, []*pack.Pack{noisy, p})
	if len(sel.Packs) == 0 || sel.Packs[0].Pack.Name != "auth-pack" {
		t.Fatalf("expected auth-pack selected first, got %+v", sel.Packs)
	}
	for _, sp := range sel.Packs {
		if sp.Pack.Name == "big-pack" {
			t.Error("extension-only pack must not clear the weak threshold alone")
		}
	}
}

func TestExcludePrefixForcesZeroDespiteStrongSignals(t *testing.T) {
	p := mkPack("p", func(p *pack.Pack) {
		p.SensitivePaths = []string{"**/auth/**"}
		p.KeyPaths = []string{"vendor/auth/core.ts"}
		p.ExcludePaths = []string{"vendor/"}
	})

	sel := NewScorer(testCfg()).Score(Context{FilePath: "vendor/auth/core.ts"}, []*pack.Pack{p})
	if len(sel.Packs) != 0 {
		t.Errorf("expected exclusion to force score 0, got %+v", sel.Packs)
	}
}

func TestPackAndLessonCaps(t *testing.T) {
	var packs []*pack.Pack
	for i := 0; i < 8; i++ {
		packs = append(packs, mkPack(fmt.Sprintf("p%d", i), func(p *pack.Pack) {
			p.KeyPaths = []string{"src/main.go"}
			p.Lessons = mkLessons(5)
		}))
	}

	sel := NewScorer(testCfg()).Score(Context{FilePath: "src/main.go"}, packs)
	if len(sel.Packs) > 4 {
		t.Errorf("pack cap exceeded: %d", len(sel.Packs))
	}
	if sel.TotalLessons > 10 {
		t.Errorf("global lesson cap exceeded: %d", sel.TotalLessons)
	}
	for _, sp := range sel.Packs {
		if len(sp.Lessons) > 3 {
			t.Errorf("per-pack lesson cap exceeded for %s: %d", sp.Pack.Name, len(sp.Lessons))
		}
	}
}

func TestLessonsDrawnByDescendingUtility(t *testing.T) {
	p := mkPack("p", func(p *pack.Pack) {
		p.KeyPaths = []string{"src/main.go"}
		p.Lessons = mkLessons(5)
	})

	sel := NewScorer(testCfg()).Score(Context{FilePath: "src/main.go"}, []*pack.Pack{p})
	got := sel.Packs[0].Lessons
	if len(got) != 3 || got[0].Utility < got[1].Utility || got[1].Utility < got[2].Utility {
		t.Errorf("expected lessons by descending utility, got %+v", got)
	}
}

func TestScoringIsIdempotent(t *testing.T) {
	packs := []*pack.Pack{
		mkPack("alpha", func(p *pack.Pack) { p.KeyPaths = []string{"src/main.go"}; p.Lessons = mkLessons(4) }),
		mkPack("beta", func(p *pack.Pack) { p.KeyPaths = []string{"src/main.go"}; p.Lessons = mkLessons(4) }),
	}
	ctx := Context{FilePath: "src/main.go", Now: time.Now()}

	s := NewScorer(testCfg())
	first := s.Score(ctx, packs)
	second := s.Score(ctx, packs)
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs must produce identical selections")
	}
	// Equal scores break ties by name for determinism.
	if first.Packs[0].Pack.Name != "alpha" {
		t.Errorf("expected name tiebreak, got %s first", first.Packs[0].Pack.Name)
	}
}

func TestRecentCorrectionCountsAsStrongSignal(t *testing.T) {
	p := mkPack("testing-pack", func(p *pack.Pack) {
		p.Categories = []string{"testing"}
	})
	now := time.Now()

	sel := NewScorer(testCfg()).Score(Context{
		FilePath:    "src/handler.go",
		Corrections: []Correction{{Category: "testing", At: now.Add(-time.Minute)}},
		Now:         now,
	}, []*pack.Pack{p})
	if len(sel.Packs) != 1 {
		t.Fatalf("expected correction signal to qualify the pack, got %+v", sel.Packs)
	}

	// Outside the trailing window the signal is gone.
	sel = NewScorer(testCfg()).Score(Context{
		FilePath:    "src/handler.go",
		Corrections: []Correction{{Category: "testing", At: now.Add(-time.Hour)}},
		Now:         now,
	}, []*pack.Pack{p})
	if len(sel.Packs) != 0 {
		t.Errorf("expected stale correction to be ignored, got %+v", sel.Packs)
	}
}

func TestDependencyBoostAppliesToSelectedPacksDeps(t *testing.T) {
	cfg := testCfg()
	lead := mkPack("lead", func(p *pack.Pack) {
		p.KeyPaths = []string{"src/api.go"}
		p.DependsOn = []string{"helper"}
	})
	// helper sits exactly one point below the weak threshold without
	// the dependency boost.
	helper := mkPack("helper", func(p *pack.Pack) {
		p.Extensions = []string{".go"}
		p.Categories = []string{"api"}
	})
	helperScoreWithout := cfg.ExtensionWeight + cfg.KeywordWeight
	if helperScoreWithout+cfg.DependencyWeight < cfg.WeakMin {
		t.Skip("default weights changed; boost cannot qualify helper")
	}

	sel := NewScorer(cfg).Score(Context{FilePath: "src/api.go"}, []*pack.Pack{lead, helper})

	names := map[string]bool{}
	for _, sp := range sel.Packs {
		names[sp.Pack.Name] = true
	}
	if !names["lead"] {
		t.Fatal("lead pack should be selected")
	}
	if !names["helper"] {
		t.Errorf("expected dependency boost to qualify helper, got %+v", sel.Packs)
	}
}

func TestInjectionSetEvictsOldestPastCapacity(t *testing.T) {
	s := NewInjectionSet(3)
	for _, k := range []string{"a", "b", "c"} {
		if !s.Add(k) {
			t.Fatalf("first add of %q should succeed", k)
		}
	}
	if s.Add("a") {
		t.Error("duplicate add should report already present")
	}
	s.Add("d") // evicts "a"
	if s.Seen("a") {
		t.Error("oldest entry should have been evicted")
	}
	if !s.Seen("d") || s.Len() != 3 {
		t.Errorf("unexpected set state, len=%d", s.Len())
	}
}

func TestInjectionSetClear(t *testing.T) {
	s := NewInjectionSet(4)
	s.Add("x")
	s.Clear()
	if s.Seen("x") || s.Len() != 0 {
		t.Error("clear should empty the set")
	}
}
