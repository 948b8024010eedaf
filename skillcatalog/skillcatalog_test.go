package skillcatalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, root, folder, md string) {
	t.Helper()
	dir := filepath.Join(root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(md), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSkill(t, root, "csv-tools", "---\nname: csv-tools\ndescription: \"Cleans CSV files\"\n---\n# CSV Tools\nbody text\n")
	writeSkill(t, root, "no-frontmatter", "# Just a doc\nno frontmatter here\n")
	if err := os.MkdirAll(filepath.Join(root, "not-a-skill"), 0o755); err != nil {
		t.Fatal(err)
	}

	idx, err := Load(context.Background(), root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx.Root != root {
		t.Fatalf("Root = %q, want %q", idx.Root, root)
	}
	if len(idx.Skills) != 2 {
		t.Fatalf("len(Skills) = %d, want 2 (not-a-skill has no SKILL.md): %+v", len(idx.Skills), idx.Skills)
	}

	csv, ok := idx.Find("csv-tools")
	if !ok {
		t.Fatal("expected csv-tools entry")
	}
	if csv.Name != "csv-tools" || csv.Description != "Cleans CSV files" {
		t.Fatalf("unexpected entry: %+v", csv)
	}

	noFM, ok := idx.Find("no-frontmatter")
	if !ok {
		t.Fatal("expected no-frontmatter entry")
	}
	if noFM.Name != "no-frontmatter" {
		t.Fatalf("expected name to fall back to folder, got %q", noFM.Name)
	}
}

func TestReadBody(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeSkill(t, root, "a", "---\nname: a\n---\n\nhello body\n")

	body, err := ReadBody(root, "a")
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if body != "hello body\n" {
		t.Fatalf("body = %q, want %q", body, "hello body\n")
	}
}

func TestSplitFrontmatterRawNoDelimiter(t *testing.T) {
	t.Parallel()

	body, props, fm, err := splitFrontmatterRaw("plain text\nno frontmatter\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(props) != 0 || fm != "" {
		t.Fatalf("expected empty props/frontmatter, got %+v %q", props, fm)
	}
	if body != "plain text\nno frontmatter\n" {
		t.Fatalf("body mismatch: %q", body)
	}
}

func TestSplitFrontmatterRawUnterminated(t *testing.T) {
	t.Parallel()

	_, _, _, err := splitFrontmatterRaw("---\nname: a\n")
	if err == nil {
		t.Fatal("expected error for unterminated frontmatter block")
	}
}
