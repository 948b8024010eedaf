// Package pathguard resolves and validates paths used by tool dispatch so
// that no subprocess or file operation ever escapes a session or skill
// directory. It is policy, not a security boundary: it removes an entire
// class of "file not found" errors caused by subprocess cwd varying between
// the skill directory and the session directory.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathOutsideRoot is returned by SafeJoin when the resolved path would
// escape root.
var ErrPathOutsideRoot = errors.New("path_outside_root")

// ErrInvalidRelativePath is returned by NormalizeRelativeFilePath for empty,
// ".", "..", trailing-slash, or otherwise malformed relative paths.
var ErrInvalidRelativePath = errors.New("invalid_relative_path")

// SafeJoin joins root and relative, guaranteeing the result has root as a
// common-prefix path component. Fails with ErrPathOutsideRoot otherwise.
func SafeJoin(root, relative string) (string, error) {
	root = strings.TrimSpace(root)
	relative = strings.TrimSpace(relative)
	if root == "" {
		return "", fmt.Errorf("%w: empty root", ErrPathOutsideRoot)
	}
	if relative == "" {
		return "", fmt.Errorf("%w: empty relative path", ErrInvalidRelativePath)
	}
	if strings.ContainsRune(relative, 0) {
		return "", fmt.Errorf("%w: NUL byte in path", ErrInvalidRelativePath)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(rootAbs, relative)
	joinedAbs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(rootAbs, joinedAbs)
	if err != nil {
		return "", err
	}
	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q escapes %q", ErrPathOutsideRoot, relative, rootAbs)
	}
	return joinedAbs, nil
}

// NormalizeRelativeFilePath rejects empty, ".", "..", trailing "/", or
// directory-like inputs and returns a cleaned relative path.
func NormalizeRelativeFilePath(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidRelativePath
	}
	if strings.HasSuffix(s, "/") || strings.HasSuffix(s, string(os.PathSeparator)) {
		return "", ErrInvalidRelativePath
	}
	cleaned := filepath.Clean(s)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", ErrInvalidRelativePath
	}
	if filepath.IsAbs(cleaned) {
		return "", ErrInvalidRelativePath
	}
	return cleaned, nil
}

// outFlags are the conventional output-path flags rewritten by RewriteArgs.
var outFlags = map[string]bool{"--out": true, "-o": true, "--output": true}

// RewriteArgs scans a subprocess argument list and, for any token that is a
// relative path beginning with "uploads/", a bare filename referring to an
// existing file in sessionDir, or the value following a conventional
// --out/-o/--output flag, rewrites the token to an absolute path under
// sessionDir. This lets the model emit cwd-relative paths without needing to
// know which directory the subprocess actually runs in.
func RewriteArgs(argv []string, sessionDir string) []string {
	if sessionDir == "" || len(argv) == 0 {
		return argv
	}
	out := make([]string, len(argv))
	copy(out, argv)

	rewriteUploads(out, sessionDir)
	rewriteExistingSessionFiles(out, sessionDir)
	rewriteOutFlagValues(out, sessionDir)
	return out
}

func rewriteUploads(argv []string, sessionDir string) {
	for i, tok := range argv {
		if strings.HasPrefix(tok, "uploads/") || strings.HasPrefix(tok, "uploads\\") {
			if abs, err := SafeJoin(sessionDir, tok); err == nil {
				argv[i] = abs
			}
		}
	}
}

func rewriteExistingSessionFiles(argv []string, sessionDir string) {
	for i, tok := range argv {
		if tok == "" || filepath.IsAbs(tok) || strings.ContainsAny(tok, "/\\") {
			continue
		}
		if strings.HasPrefix(tok, "-") {
			continue
		}
		candidate := filepath.Join(sessionDir, tok)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			if abs, err := filepath.Abs(candidate); err == nil {
				argv[i] = abs
			}
		}
	}
}

func rewriteOutFlagValues(argv []string, sessionDir string) {
	for i, tok := range argv {
		if !outFlags[tok] {
			continue
		}
		if i+1 >= len(argv) {
			continue
		}
		val := argv[i+1]
		if val == "" || filepath.IsAbs(val) {
			continue
		}
		if abs, err := filepath.Abs(filepath.Join(sessionDir, val)); err == nil {
			argv[i+1] = abs
		}
	}
}
