// Package outputpipeline turns a finished turn's accumulated state (final
// text, export requests, and whatever files the turn left in the session
// directory) into the user-visible event stream: chunked text, deduplicated
// file blobs, and a history-ring append. It is a direct port of the
// original plugin's `finally` block.
package outputpipeline

import (
	"crypto/sha1"
	"encoding/hex"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/flexigpt/skillagent-go/pathguard"
)

// TextChunkSize matches the original's stream_text_to_user default.
const TextChunkSize = 8

// Terminal-text fallbacks for the four cases Finish distinguishes.
// textFilesGenerated is spec.md's literal, quoted termination text (§4.5,
// §8 S6); the other two are this package's English rendering of the
// original plugin's equivalent fallback phrasing, since spec.md does not
// quote those cases verbatim.
const (
	textFilesGenerated               = "Files generated."
	textIntermediateFilesNotExported = "Intermediate files were generated, but export_temp_file was not called to mark deliverables."
	textNoOutput                     = "No text or file output was produced."
)

// excludedDirs are fixed subtree names never considered part of a turn's
// visible file output, even when present under the session directory.
var excludedDirs = map[string]bool{
	"_skill_cache": true,
}

// EventSink receives the emitted text chunks and file blobs for one turn,
// mirroring the host plugin contract from SPEC_FULL.md §6.
type EventSink interface {
	Text(s string)
	Blob(content []byte, meta BlobMeta)
}

// BlobMeta describes one emitted file.
type BlobMeta struct {
	MIMEType string
	Filename string
}

// FileOverride lets a turn rename or re-mime a file it marks for export,
// mirroring final_file_meta in the original.
type FileOverride struct {
	Filename string
	MIMEType string
}

// ExportRequest is one export_temp_file call's bookkeeping: the temp file's
// path relative to the session directory and any metadata override.
type ExportRequest struct {
	RelativePath string
	Override     FileOverride
}

// Turn is everything OutputPipeline needs to finalize one conversation turn.
type Turn struct {
	SessionDir string
	SkillsRoot string
	FinalText  string
	// FinalTextStreamed records whether the caller already streamed
	// FinalText incrementally (e.g. as it arrived from the model) so Finish
	// does not emit it a second time.
	FinalTextStreamed bool
	Exports           []ExportRequest
}

// mimeOverrides mirrors the original's _guess_mime_type extension table,
// which takes precedence over Go's own mime.TypeByExtension for a few
// extensions which either have no stdlib mapping or a different default.
var mimeOverrides = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".json": "application/json",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".htm":  "text/html",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".ppt":  "application/vnd.ms-powerpoint",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
}

// GuessMIMEType resolves a filename to a MIME type using the override table
// first, then falling back to the stdlib mime package.
func GuessMIMEType(filename string) string {
	ext := strings.ToLower(filepath.Ext(strings.ToLower(strings.TrimSpace(filename))))
	if m, ok := mimeOverrides[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}

// absPathPattern matches an absolute POSIX-style path token, used as a
// catch-all redaction after the literal session/skills-root substitutions.
var absPathPattern = regexp.MustCompile(`/[^\s\r\n\t"']+`)

// winPathPattern matches an absolute Windows-style path token (`C:\...`).
var winPathPattern = regexp.MustCompile(`[A-Za-z]:\\[^\s\r\n\t"']+`)

// Redact replaces session_dir and skills_root (in both native and
// forward-slash form) with a fixed marker, then sweeps any remaining
// absolute path token. This runs on every piece of text a turn might send
// back to the user, since tool stderr/stdout can otherwise leak local
// filesystem layout.
func Redact(text, sessionDir, skillsRoot string) string {
	s := text
	if s == "" {
		return s
	}
	for _, p := range []string{sessionDir, skillsRoot} {
		if p == "" {
			continue
		}
		s = strings.ReplaceAll(s, p, "<REDACTED_PATH>")
		s = strings.ReplaceAll(s, filepath.ToSlash(p), "<REDACTED_PATH>")
	}
	s = winPathPattern.ReplaceAllString(s, "<REDACTED_PATH>")
	s = absPathPattern.ReplaceAllString(s, "<REDACTED_PATH>")
	return s
}

// ChunkText splits s into fixed-size runs, matching stream_text_to_user.
// Empty or whitespace-only input produces no chunks.
func ChunkText(s string, chunkSize int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	var chunks []string
	runes := []rune(s)
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// listFiles walks root (skipping excludedDirs) and returns file relative
// paths in lexicographic order, mirroring the original's _list_dir but
// restricted to files since OutputPipeline never needs directory entries.
func listFiles(root string) []string {
	var out []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out
}

// AssistantHistoryText reports what Finish will feed back to the caller for
// history-ring append, without emitting anything. Finish does not call it;
// it makes the same terminal-text decision with its own copy of this switch.
func AssistantHistoryText(t Turn) string {
	final := strings.TrimSpace(t.FinalText)
	files := resolveExports(t)

	switch {
	case final != "":
		if len(files) == 0 && final == textFilesGenerated {
			return textIntermediateFilesNotExported
		}
		return final
	case len(files) > 0:
		return textFilesGenerated
	case len(listFiles(t.SessionDir)) > 0:
		return textIntermediateFilesNotExported
	default:
		return textNoOutput
	}
}

type resolvedFile struct {
	relativePath string
	absPath      string
	mimeType     string
	filename     string
}

// resolveExports turns Turn.Exports into files that actually exist on disk,
// applying filename/mime overrides and silently dropping anything that no
// longer resolves (deleted between export and finish, escapes the session
// directory, or names a directory).
func resolveExports(t Turn) []resolvedFile {
	var out []resolvedFile
	for _, exp := range t.Exports {
		relNorm := strings.TrimPrefix(strings.ReplaceAll(exp.RelativePath, "\\", "/"), "/")
		if relNorm == "" {
			continue
		}
		abs, err := pathguard.SafeJoin(t.SessionDir, relNorm)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		filename := filepath.Base(relNorm)
		outName := exp.Override.Filename
		if outName == "" {
			outName = filename
		}
		mimeType := exp.Override.MIMEType
		if mimeType == "" {
			mimeType = GuessMIMEType(outName)
		}
		out = append(out, resolvedFile{relativePath: relNorm, absPath: abs, mimeType: mimeType, filename: outName})
	}
	return out
}

// Finish emits the terminal text (streaming FinalText if it wasn't already,
// else a fixed fallback message matching the four cases the original
// distinguishes), then emits one deduplicated blob per resolved export. It
// returns the text that was (or would have been) appended to the
// conversation history, for the caller to persist via SessionStore.
func Finish(sink EventSink, t Turn) string {
	final := strings.TrimSpace(t.FinalText)
	files := resolveExports(t)
	hasAnyFiles := len(listFiles(t.SessionDir)) > 0

	var historyText string
	switch {
	case final != "":
		effective := final
		if len(files) == 0 && final == textFilesGenerated {
			effective = textIntermediateFilesNotExported
		}
		historyText = effective
		if !t.FinalTextStreamed {
			emitText(sink, effective)
		}
	case len(files) > 0:
		historyText = textFilesGenerated
		emitText(sink, historyText)
	case hasAnyFiles:
		historyText = textIntermediateFilesNotExported
		emitText(sink, historyText)
	default:
		historyText = textNoOutput
		emitText(sink, historyText)
	}

	emitFiles(sink, files)
	return historyText
}

func emitText(sink EventSink, text string) {
	for _, chunk := range ChunkText(text, TextChunkSize) {
		sink.Text(chunk)
	}
}

func emitFiles(sink EventSink, files []resolvedFile) {
	seenRel := map[string]bool{}
	seenFingerprint := map[string]bool{}
	for _, f := range files {
		if seenRel[f.relativePath] {
			continue
		}
		seenRel[f.relativePath] = true

		content, err := os.ReadFile(f.absPath)
		if err != nil {
			continue
		}
		sum := sha1.Sum(content)
		fp := hex.EncodeToString(sum[:])
		key := f.filename + "|" + f.mimeType + "|" + fp
		if seenFingerprint[key] {
			continue
		}
		seenFingerprint[key] = true

		sink.Blob(content, BlobMeta{MIMEType: f.mimeType, Filename: f.filename})
	}
}
