package assetsink

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestPersistBase64Decode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := New()
	raw := []byte("hello world")
	parts := []Part{
		{Kind: "document", MIMEType: "text/plain", Filename: "note.txt", Base64Data: base64.StdEncoding.EncodeToString(raw)},
	}

	saved, err := sink.Persist(context.Background(), dir, parts)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("saved = %d entries, want 1", len(saved))
	}
	got, err := os.ReadFile(saved[0].Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content = %q, want %q", got, "hello world")
	}
	if filepath.Base(saved[0].Path) != "note.txt" {
		t.Fatalf("filename = %q, want note.txt", filepath.Base(saved[0].Path))
	}
}

func TestPersistDataURLDecode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := New()
	raw := []byte("<svg></svg>")
	url := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(raw)
	parts := []Part{{Kind: "image", URL: url}}

	saved, err := sink.Persist(context.Background(), dir, parts)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("saved = %d entries, want 1", len(saved))
	}
	if saved[0].MIMEType != "image/svg+xml" {
		t.Fatalf("mime = %q, want image/svg+xml", saved[0].MIMEType)
	}
}

func TestPersistDedupBySHA1(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := New()
	b64 := base64.StdEncoding.EncodeToString([]byte("same bytes"))
	parts := []Part{
		{Kind: "document", MIMEType: "text/plain", Base64Data: b64},
		{Kind: "document", MIMEType: "text/plain", Base64Data: b64},
	}

	saved, err := sink.Persist(context.Background(), dir, parts)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("saved = %d entries, want 1 (dedup expected)", len(saved))
	}

	// A second call with the same Sink must still dedup against prior calls.
	saved2, err := sink.Persist(context.Background(), dir, parts[:1])
	if err != nil {
		t.Fatalf("Persist (2nd call): %v", err)
	}
	if len(saved2) != 0 {
		t.Fatalf("saved2 = %d entries, want 0 (cross-call dedup expected)", len(saved2))
	}
}

func TestPersistExtensionInference(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := New()
	parts := []Part{
		{Kind: "image", MIMEType: "image/png", Base64Data: base64.StdEncoding.EncodeToString([]byte("a"))},
		{Kind: "document", MIMEType: "application/pdf", Base64Data: base64.StdEncoding.EncodeToString([]byte("b"))},
	}

	saved, err := sink.Persist(context.Background(), dir, parts)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("saved = %d entries, want 2", len(saved))
	}
	if filepath.Ext(saved[0].Path) != ".png" {
		t.Fatalf("ext = %q, want .png", filepath.Ext(saved[0].Path))
	}
	if filepath.Ext(saved[1].Path) != ".pdf" {
		t.Fatalf("ext = %q, want .pdf", filepath.Ext(saved[1].Path))
	}
}

func TestPersistFilenameCollision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := New()
	parts := []Part{
		{Kind: "document", MIMEType: "text/plain", Filename: "out.txt", Base64Data: base64.StdEncoding.EncodeToString([]byte("first"))},
		{Kind: "document", MIMEType: "text/plain", Filename: "out.txt", Base64Data: base64.StdEncoding.EncodeToString([]byte("second"))},
	}

	saved, err := sink.Persist(context.Background(), dir, parts)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("saved = %d entries, want 2", len(saved))
	}
	if saved[0].Path == saved[1].Path {
		t.Fatalf("colliding filenames were not disambiguated: %q == %q", saved[0].Path, saved[1].Path)
	}
}

func TestPersistSkipsUnknownKind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := New()
	parts := []Part{{Kind: "unknown", Base64Data: base64.StdEncoding.EncodeToString([]byte("x"))}}

	saved, err := sink.Persist(context.Background(), dir, parts)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(saved) != 0 {
		t.Fatalf("saved = %d entries, want 0 for unrecognized kind", len(saved))
	}
}

func TestPersistNoPartsIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := New()
	saved, err := sink.Persist(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if saved != nil {
		t.Fatalf("saved = %+v, want nil", saved)
	}
	if _, err := os.Stat(filepath.Join(dir, assetDir)); err == nil {
		t.Fatalf("llm_assets dir should not be created when there are no parts")
	}
}

func TestPersistContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	sink := New()
	parts := []Part{{Kind: "document", Base64Data: base64.StdEncoding.EncodeToString([]byte("x"))}}

	if _, err := sink.Persist(ctx, dir, parts); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
