package agentloop

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/flexigpt/skillagent-go/outputpipeline"
	"github.com/flexigpt/skillagent-go/pathguard"
)

// UploadRef is a user-provided file reference, ported from the original's
// files[i].{url,filename,mime_type} shape.
type UploadRef struct {
	URL      string
	Filename string
	MIMEType string
}

// UploadedFile is one successfully ingested upload, persisted under
// session_dir/uploads/.
type UploadedFile struct {
	RelativePath string
	Bytes        int
	MIMEType     string
	Filename     string
	SourceURL    string
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]+`)

// safeFilename sanitizes preferred into a bare filename, falling back to a
// random name with fallbackExt when preferred is empty or sanitizes to
// nothing.
func safeFilename(preferred, fallbackExt string) string {
	if preferred != "" {
		base := unsafeFilenameChars.ReplaceAllString(filepath.Base(preferred), "_")
		base = strings.TrimSpace(base)
		if base != "" {
			return base
		}
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "") + fallbackExt
}

func inferExtFromURL(rawURL string) string {
	path := rawURL
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	return filepath.Ext(path)
}

// httpGet is the default download function, overridable in tests.
func httpGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "skillagent/1.0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agentloop: download %q: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Fetcher downloads the bytes behind an upload URL. Tests substitute a
// fake implementation instead of hitting the network.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// IngestUploads downloads each ref and persists it under sessionDir/uploads/,
// mirroring the original's upload-handling block. fetch defaults to an
// http.Client-backed Fetcher when nil.
func IngestUploads(ctx context.Context, sessionDir string, refs []UploadRef, fetch Fetcher) ([]UploadedFile, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if fetch == nil {
		fetch = httpGet
	}
	uploadsDir, err := pathguard.SafeJoin(sessionDir, "uploads")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("agentloop: create uploads dir: %w", err)
	}

	out := make([]UploadedFile, 0, len(refs))
	for _, ref := range refs {
		if strings.TrimSpace(ref.URL) == "" {
			return nil, fmt.Errorf("agentloop: upload missing url")
		}
		content, err := fetch(ctx, ref.URL)
		if err != nil {
			return nil, fmt.Errorf("agentloop: download upload %q: %w", ref.URL, err)
		}
		ext := inferExtFromURL(ref.URL)
		filename := safeFilename(ref.Filename, ext)
		dst, err := pathguard.SafeJoin(uploadsDir, filename)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return nil, fmt.Errorf("agentloop: write upload %q: %w", filename, err)
		}

		mimeType := ref.MIMEType
		if mimeType == "" {
			mimeType = outputpipeline.GuessMIMEType(filename)
		}
		out = append(out, UploadedFile{
			RelativePath: "uploads/" + filename,
			Bytes:        len(content),
			MIMEType:     mimeType,
			Filename:     filename,
			SourceURL:    ref.URL,
		})
	}
	return out, nil
}

// uploadsContext renders the uploaded-file listing block the system prompt
// embeds, matching the original's [上传文件清单] section. Returns "" when
// there are no uploads.
func uploadsContext(uploads []UploadedFile) string {
	if len(uploads) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n[上传文件清单]\n以下路径均相对于本次会话的 session_dir：")
	for _, u := range uploads {
		fmt.Fprintf(&b, "\n- %s | mime=%s | bytes=%d | filename=%s", u.RelativePath, u.MIMEType, u.Bytes, u.Filename)
	}
	b.WriteString("\n")
	return b.String()
}
