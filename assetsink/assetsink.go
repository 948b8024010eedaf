// Package assetsink persists model-emitted media parts (base64 or data:
// URL payloads) under a session directory, deduplicated by SHA-1 of the
// decoded bytes. It is a direct port of the original plugin's
// persist_llm_assets, generalized to use pathguard for containment instead
// of the original's own safe-join helper.
package assetsink

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/flexigpt/skillagent-go/pathguard"
)

// previewMaxChars bounds the size of the generated .preview.txt sidecar.
const previewMaxChars = 4000

// assetDir is the fixed subdirectory under session_dir that model-emitted
// media is written to.
const assetDir = "llm_assets"

// allowedKinds mirrors the original's accepted media-part types.
var allowedKinds = map[string]bool{"image": true, "document": true, "audio": true, "video": true}

// mimeExtensions is checked by substring, matching the original's ad hoc
// mime-to-extension inference (not a full mime.ExtensionsByType lookup,
// since these are the only kinds the model actually emits).
var mimeExtensions = []struct {
	substr string
	ext    string
}{
	{"png", ".png"},
	{"jpeg", ".jpg"},
	{"jpg", ".jpg"},
	{"pdf", ".pdf"},
	{"json", ".json"},
	{"markdown", ".txt"},
	{"text", ".txt"},
}

// Part is one candidate media payload from a model response.
type Part struct {
	Kind       string // "image", "document", "audio", "video"
	MIMEType   string
	Filename   string
	URL        string // may be a data: URL
	Base64Data string
}

// Saved describes one persisted asset.
type Saved struct {
	Path     string `json:"path"`
	MIMEType string `json:"mime_type"`
	Bytes    int    `json:"bytes"`
}

// Sink persists Parts under a session directory, deduplicating across the
// lifetime of one Sink instance by a SHA-1 fingerprint of kind|mime|hash.
type Sink struct {
	seen map[string]bool
}

// New builds an empty Sink. Callers should construct one Sink per turn (or
// per conversation, if cross-turn dedup is desired) and reuse it across
// calls to Persist within that scope.
func New() *Sink {
	return &Sink{seen: map[string]bool{}}
}

// Persist decodes and writes every accepted part under
// <sessionDir>/llm_assets, skipping parts that fail to decode, are of an
// unrecognized kind, or duplicate an already-seen fingerprint. It returns
// one Saved entry per newly written file, in input order.
func (s *Sink) Persist(ctx context.Context, sessionDir string, parts []Part) ([]Saved, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}

	outDir := filepath.Join(sessionDir, assetDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("assetsink: create %q: %w", outDir, err)
	}

	var saved []Saved
	for i, p := range parts {
		if !allowedKinds[p.Kind] {
			continue
		}
		raw, mime := decode(p)
		if raw == nil {
			continue
		}

		sum := sha1.Sum(raw)
		fp := hex.EncodeToString(sum[:])
		key := p.Kind + "|" + mime + "|" + fp
		if s.seen[key] {
			continue
		}

		filename := strings.TrimSpace(p.Filename)
		if filename == "" {
			filename = fmt.Sprintf("%s-%d%s", p.Kind, i+1, extensionFor(mime))
		}

		dst, err := pathguard.SafeJoin(outDir, filename)
		if err != nil {
			continue
		}
		if _, err := os.Stat(dst); err == nil {
			base := strings.TrimSuffix(filename, filepath.Ext(filename))
			dst, err = pathguard.SafeJoin(outDir, fmt.Sprintf("%s-%s%s", base, fp[:8], filepath.Ext(filename)))
			if err != nil {
				continue
			}
		}

		if err := os.WriteFile(dst, raw, 0o644); err != nil {
			return saved, fmt.Errorf("assetsink: write %q: %w", dst, err)
		}
		s.seen[key] = true
		saved = append(saved, Saved{Path: dst, MIMEType: mime, Bytes: len(raw)})

		if strings.Contains(mime, "pdf") {
			extractPreview(dst)
		}
	}
	return saved, nil
}

// extractPreview writes a short text preview alongside a persisted PDF
// asset at <path>.preview.txt. Failures are non-fatal: a preview is a
// convenience, not part of the asset itself.
func extractPreview(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage() && b.Len() < previewMaxChars; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	preview := b.String()
	if len(preview) > previewMaxChars {
		preview = preview[:previewMaxChars]
	}
	if strings.TrimSpace(preview) == "" {
		return
	}
	_ = os.WriteFile(path+".preview.txt", []byte(preview), 0o644)
}

// decode attempts Base64Data first, then a data:...;base64,... URL,
// returning the decoded bytes and the resolved mime type (the part's
// declared MIMEType, or one inferred from a data: URL header).
func decode(p Part) (raw []byte, mime string) {
	mime = p.MIMEType

	if b64 := strings.TrimSpace(p.Base64Data); b64 != "" {
		if data, err := base64.StdEncoding.DecodeString(b64); err == nil {
			return data, mime
		}
	}

	url := strings.TrimSpace(p.URL)
	if strings.HasPrefix(url, "data:") {
		if header, payload, ok := strings.Cut(url, ";base64,"); ok {
			if mime == "" && strings.HasPrefix(header, "data:") {
				mime = strings.TrimPrefix(header, "data:")
			}
			if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
				return data, mime
			}
		}
	}
	return nil, mime
}

func extensionFor(mime string) string {
	for _, m := range mimeExtensions {
		if strings.Contains(mime, m.substr) {
			return m.ext
		}
	}
	return ""
}
