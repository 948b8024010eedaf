package outputpipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeSink struct {
	texts []string
	blobs []BlobMeta
}

func (s *fakeSink) Text(str string)              { s.texts = append(s.texts, str) }
func (s *fakeSink) Blob(_ []byte, meta BlobMeta) { s.blobs = append(s.blobs, meta) }

func (s *fakeSink) joinedText() string {
	return strings.Join(s.texts, "")
}

func TestChunkText(t *testing.T) {
	t.Parallel()

	chunks := ChunkText("hello world", 4)
	want := []string{"hell", "o wo", "rld"}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %v, want %v", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunks[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunkTextEmpty(t *testing.T) {
	t.Parallel()
	if chunks := ChunkText("   ", 8); chunks != nil {
		t.Fatalf("chunks = %v, want nil", chunks)
	}
}

func TestRedactSessionDirAndSkillsRoot(t *testing.T) {
	t.Parallel()

	text := "error in /tmp/session123/script.py, skill at /opt/skills/csv-tools/run.py"
	got := Redact(text, "/tmp/session123", "/opt/skills")
	if strings.Contains(got, "/tmp/session123") || strings.Contains(got, "/opt/skills") {
		t.Fatalf("redacted text still leaks a path: %q", got)
	}
	if !strings.Contains(got, "<REDACTED_PATH>") {
		t.Fatalf("redacted text missing marker: %q", got)
	}
}

func TestRedactWindowsPath(t *testing.T) {
	t.Parallel()
	got := Redact(`failed reading C:\Users\me\file.txt`, "", "")
	if strings.Contains(got, `C:\Users`) {
		t.Fatalf("windows path not redacted: %q", got)
	}
}

func TestGuessMIMEType(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"report.csv":  "text/csv",
		"data.xlsx":   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"notes.md":    "text/markdown",
		"unknown.xyz": "application/octet-stream",
	}
	for filename, want := range cases {
		if got := GuessMIMEType(filename); got != want {
			t.Errorf("GuessMIMEType(%q) = %q, want %q", filename, got, want)
		}
	}
}

func TestFinishStreamsFinalTextWhenNotAlreadyStreamed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &fakeSink{}
	turn := Turn{SessionDir: dir, FinalText: "all done"}

	history := Finish(sink, turn)
	if history != "all done" {
		t.Fatalf("history = %q, want %q", history, "all done")
	}
	if sink.joinedText() != "all done" {
		t.Fatalf("streamed text = %q, want %q", sink.joinedText(), "all done")
	}
}

func TestFinishSkipsReStreamingAlreadyStreamedText(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &fakeSink{}
	turn := Turn{SessionDir: dir, FinalText: "streamed earlier", FinalTextStreamed: true}

	Finish(sink, turn)
	if len(sink.texts) != 0 {
		t.Fatalf("expected no text re-emitted, got %v", sink.texts)
	}
}

func TestFinishNoOutputAtAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &fakeSink{}
	history := Finish(sink, Turn{SessionDir: dir})
	if history != textNoOutput {
		t.Fatalf("history = %q", history)
	}
}

func TestFinishIntermediateFilesNotExported(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sink := &fakeSink{}
	history := Finish(sink, Turn{SessionDir: dir})
	if history != textIntermediateFilesNotExported {
		t.Fatalf("history = %q", history)
	}
	if len(sink.blobs) != 0 {
		t.Fatalf("expected no blobs emitted for unexported files, got %v", sink.blobs)
	}
}

func TestFinishExportedFileEmitsBlob(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "out.csv"), []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sink := &fakeSink{}
	turn := Turn{
		SessionDir: dir,
		Exports:    []ExportRequest{{RelativePath: "out.csv"}},
	}
	history := Finish(sink, turn)
	if history != textFilesGenerated {
		t.Fatalf("history = %q", history)
	}
	if len(sink.blobs) != 1 {
		t.Fatalf("blobs = %v, want 1", sink.blobs)
	}
	if sink.blobs[0].MIMEType != "text/csv" {
		t.Fatalf("mime = %q, want text/csv", sink.blobs[0].MIMEType)
	}
}

func TestFinishExportedFileOverrideAppliesNameAndMime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "raw.bin"), []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sink := &fakeSink{}
	turn := Turn{
		SessionDir: dir,
		Exports: []ExportRequest{{
			RelativePath: "raw.bin",
			Override:     FileOverride{Filename: "result.json", MIMEType: "application/json"},
		}},
	}
	Finish(sink, turn)
	if len(sink.blobs) != 1 || sink.blobs[0].Filename != "result.json" || sink.blobs[0].MIMEType != "application/json" {
		t.Fatalf("blobs = %+v", sink.blobs)
	}
}

func TestFinishDedupsIdenticalExports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("same"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("same"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sink := &fakeSink{}
	turn := Turn{
		SessionDir: dir,
		Exports: []ExportRequest{
			{RelativePath: "a.txt", Override: FileOverride{Filename: "out.txt"}},
			{RelativePath: "b.txt", Override: FileOverride{Filename: "out.txt"}},
		},
	}
	Finish(sink, turn)
	if len(sink.blobs) != 1 {
		t.Fatalf("blobs = %v, want 1 (same filename+mime+content should dedup)", sink.blobs)
	}
}

func TestFinishIgnoresMissingExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &fakeSink{}
	turn := Turn{
		SessionDir: dir,
		Exports:    []ExportRequest{{RelativePath: "does-not-exist.txt"}},
	}
	history := Finish(sink, turn)
	if history != textNoOutput {
		t.Fatalf("history = %q", history)
	}
}

func TestFinishIgnoresSkillCacheSubtree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "_skill_cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "pip-cache.bin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sink := &fakeSink{}
	history := Finish(sink, Turn{SessionDir: dir})
	if history != textNoOutput {
		t.Fatalf("history = %q, want no-output message since _skill_cache is excluded", history)
	}
}

func TestAssistantHistoryTextMatchesFinishDecision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	turn := Turn{SessionDir: dir, FinalText: "hello"}
	if got := AssistantHistoryText(turn); got != "hello" {
		t.Fatalf("AssistantHistoryText = %q", got)
	}
}
