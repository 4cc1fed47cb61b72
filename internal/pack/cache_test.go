package pack

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePack(t *testing.T, root, name, meta string, lessons []string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pack.yaml"), []byte(meta), 0600); err != nil {
		t.Fatal(err)
	}
	if lessons != nil {
		content := ""
		for _, l := range lessons {
			content += l + "\n"
		}
		if err := os.WriteFile(filepath.Join(dir, "lessons.jsonl"), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestGetLoadsPacksSorted(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "zeta", "name: zeta\ncategories: [testing]\n", nil)
	writePack(t, root, "alpha", "name: alpha\n", nil)

	packs := NewCache(nil).Get(root)
	if len(packs) != 2 {
		t.Fatalf("expected 2 packs, got %d", len(packs))
	}
	if packs[0].Name != "alpha" || packs[1].Name != "zeta" {
		t.Errorf("expected name-sorted packs, got %s, %s", packs[0].Name, packs[1].Name)
	}
}

func TestGetSkipsReservedAndBareDirs(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, ".hidden", "name: hidden\n", nil)
	writePack(t, root, "_archive", "name: archive\n", nil)
	if err := os.MkdirAll(filepath.Join(root, "no-metadata"), 0750); err != nil {
		t.Fatal(err)
	}
	writePack(t, root, "real", "name: real\n", nil)

	packs := NewCache(nil).Get(root)
	if len(packs) != 1 || packs[0].Name != "real" {
		t.Fatalf("expected only the real pack, got %d packs", len(packs))
	}
}

func TestLessonMissingActionableIsSkipped(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "go-style", "name: go-style\n", []string{
		`{"category":"style","title":"first","actionable":"do the thing"}`,
		`{"category":"style","title":"no actionable field"}`,
		`not json at all`,
		`{"category":"style","title":"last","actionable":"do the other thing"}`,
	})

	packs := NewCache(nil).Get(root)
	if len(packs) != 1 {
		t.Fatalf("expected 1 pack, got %d", len(packs))
	}
	if len(packs[0].Lessons) != 2 {
		t.Fatalf("expected 2 valid lessons, got %d", len(packs[0].Lessons))
	}
	if packs[0].Lessons[1].Title != "last" {
		t.Errorf("expected loading to continue past bad lines, got %q", packs[0].Lessons[1].Title)
	}
}

func TestCacheHitReturnsSamePack(t *testing.T) {
	root := t.TempDir()
	writePack(t, root, "p", "name: p\n", nil)

	c := NewCache(nil)
	first := c.Get(root)[0]
	second := c.Get(root)[0]
	if first != second {
		t.Error("expected cache hit to return the identical in-memory pack")
	}
}

func TestCacheRebuildsOnMtimeChange(t *testing.T) {
	root := t.TempDir()
	dir := writePack(t, root, "p", "name: p\nversion: \"1\"\n", nil)

	c := NewCache(nil)
	first := c.Get(root)[0]
	if first.Version != "1" {
		t.Fatalf("unexpected version %q", first.Version)
	}

	metaPath := filepath.Join(dir, "pack.yaml")
	if err := os.WriteFile(metaPath, []byte("name: p\nversion: \"2\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Force a distinct mtime on coarse-grained filesystems.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(metaPath, future, future); err != nil {
		t.Fatal(err)
	}

	second := c.Get(root)[0]
	if second.Version != "2" {
		t.Errorf("expected rebuilt pack with version 2, got %q", second.Version)
	}
}

func TestRulesDocumentPassedThroughVerbatim(t *testing.T) {
	root := t.TempDir()
	dir := writePack(t, root, "p", "name: p\n", nil)
	text := "# Rules\n\nAlways run gofmt.\n"
	if err := os.WriteFile(filepath.Join(dir, "rules.md"), []byte(text), 0600); err != nil {
		t.Fatal(err)
	}

	packs := NewCache(nil).Get(root)
	if packs[0].Rules != text {
		t.Errorf("expected verbatim rules text, got %q", packs[0].Rules)
	}
}
