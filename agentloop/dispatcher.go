package agentloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flexigpt/skillagent-go/outputpipeline"
	"github.com/flexigpt/skillagent-go/pathguard"
	"github.com/flexigpt/skillagent-go/procexec"
	"github.com/flexigpt/skillagent-go/skillcatalog"
)

// defaultMaxChars mirrors the original's read_skill_file/read_temp_file
// default when the model omits max_chars.
const defaultMaxChars = 12000

// defaultSkillListDepth and defaultTempListDepth mirror the original's
// per-tool default max_depth.
const (
	defaultSkillListDepth = 2
	defaultTempListDepth  = 4
)

// turnDispatcher implements toolregistry.Dispatcher for exactly one turn: it
// is constructed fresh by Run, accumulates ledger state and export requests
// for that turn only, and is discarded once the turn finishes.
type turnDispatcher struct {
	skillsRoot string
	sessionDir string
	catalog    skillcatalog.Index
	executor   *procexec.Executor
	ledger     *ledger

	exports []outputpipeline.ExportRequest
}

func newTurnDispatcher(skillsRoot, sessionDir string, catalog skillcatalog.Index, executor *procexec.Executor) *turnDispatcher {
	return &turnDispatcher{
		skillsRoot: skillsRoot,
		sessionDir: sessionDir,
		catalog:    catalog,
		executor:   executor,
		ledger:     newLedger(),
	}
}

func (d *turnDispatcher) GetSessionContext(ctx context.Context) (any, error) {
	return map[string]any{
		"skills_root": d.skillsRoot,
		"session_dir": d.sessionDir,
	}, nil
}

func (d *turnDispatcher) GetSkillMetadata(ctx context.Context, skillName string) (any, error) {
	entry, found := d.catalog.Find(skillName)
	if !found {
		return map[string]any{"error": "SKILL.md not found", "skill": skillName}, nil
	}
	d.ledger.markMetadata(skillName)

	skillMD, err := os.ReadFile(filepath.Join(d.skillsRoot, skillName, "SKILL.md"))
	if err != nil {
		return map[string]any{"error": "SKILL.md not found", "skill": skillName}, nil
	}
	return map[string]any{
		"skill": skillName,
		"metadata": map[string]any{
			"name":        entry.Name,
			"description": entry.Description,
			"properties":  entry.Properties,
		},
		"skill_md": string(skillMD),
	}, nil
}

func (d *turnDispatcher) ListSkillFiles(ctx context.Context, skillName string, maxDepth int) (any, error) {
	if err := d.ledger.requireMetadata(skillName, "list_skill_files"); err != nil {
		return nil, err
	}
	skillDir, err := pathguard.SafeJoin(d.skillsRoot, skillName)
	if err != nil {
		return map[string]any{"error": "skill not found", "skill": skillName}, nil
	}
	d.ledger.markFilesListed(skillName)
	if maxDepth <= 0 {
		maxDepth = defaultSkillListDepth
	}
	return map[string]any{"skill": skillName, "entries": listDirEntries(skillDir, maxDepth)}, nil
}

func (d *turnDispatcher) ReadSkillFile(ctx context.Context, skillName, relativePath string, maxChars int) (any, error) {
	if err := d.ledger.requireMetadata(skillName, "read_skill_file"); err != nil {
		return nil, err
	}
	skillDir, err := pathguard.SafeJoin(d.skillsRoot, skillName)
	if err != nil {
		return map[string]any{"error": "skill not found", "skill": skillName}, nil
	}
	path, err := pathguard.SafeJoin(skillDir, relativePath)
	if err != nil {
		return map[string]any{"error": "invalid relative_path", "relative_path": relativePath}, nil
	}
	if info, statErr := os.Stat(path); statErr != nil || info.IsDir() {
		return map[string]any{"error": "file not found", "path": relativePath}, nil
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	content, err := readTextBounded(path, maxChars)
	if err != nil {
		return map[string]any{"error": "read failed", "path": relativePath}, nil
	}
	return map[string]any{"path": path, "content": content}, nil
}

func (d *turnDispatcher) RunSkillCommand(ctx context.Context, skillName string, command []string, cwdRelative string, autoInstall bool) (any, error) {
	if err := d.ledger.requireMetadata(skillName, "run_skill_command"); err != nil {
		return nil, err
	}
	if err := d.ledger.requireFilesListed(skillName, "run_skill_command"); err != nil {
		return nil, err
	}
	if len(command) == 0 {
		return map[string]any{"error": "command must be a non-empty list"}, nil
	}
	skillDir, err := pathguard.SafeJoin(d.skillsRoot, skillName)
	if err != nil {
		return map[string]any{"error": "skill not found", "skill": skillName}, nil
	}
	res, runErr := d.executor.Run(ctx, procexec.Request{
		Argv:         command,
		SessionDir:   d.sessionDir,
		SkillDir:     skillDir,
		CWDRelative:  cwdRelative,
		AllowInstall: autoInstall,
	})
	if runErr != nil {
		return procexecErrorResult(runErr, command, skillName), nil
	}
	return map[string]any{"returncode": res.ExitCode, "stdout": res.Stdout, "stderr": res.Stderr}, nil
}

func (d *turnDispatcher) WriteTempFile(ctx context.Context, relativePath, content string) (any, error) {
	rp, err := pathguard.NormalizeRelativeFilePath(relativePath)
	if err != nil {
		return map[string]any{"error": "invalid relative_path", "relative_path": relativePath}, nil
	}
	path, err := pathguard.SafeJoin(d.sessionDir, rp)
	if err != nil {
		return map[string]any{"error": "invalid relative_path", "relative_path": relativePath}, nil
	}
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		return map[string]any{"error": "path is a directory", "relative_path": relativePath, "path": path}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return map[string]any{"error": "write failed", "relative_path": relativePath, "path": path}, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return map[string]any{"error": "write failed", "relative_path": relativePath, "path": path}, nil
	}
	return map[string]any{"path": path, "bytes": len(content)}, nil
}

func (d *turnDispatcher) ReadTempFile(ctx context.Context, relativePath string, maxChars int) (any, error) {
	rp, err := pathguard.NormalizeRelativeFilePath(relativePath)
	if err != nil {
		return map[string]any{"error": "invalid relative_path", "relative_path": relativePath}, nil
	}
	path, err := pathguard.SafeJoin(d.sessionDir, rp)
	if err != nil {
		return map[string]any{"error": "invalid relative_path", "relative_path": relativePath}, nil
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return map[string]any{"error": "file not found", "relative_path": relativePath}, nil
	}
	if info.IsDir() {
		return map[string]any{"error": "path is a directory", "relative_path": relativePath, "path": path}, nil
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	content, err := readTextBounded(path, maxChars)
	if err != nil {
		return map[string]any{"error": "read failed", "relative_path": relativePath, "path": path}, nil
	}
	return map[string]any{"path": path, "content": content}, nil
}

func (d *turnDispatcher) ListTempFiles(ctx context.Context, maxDepth int) (any, error) {
	if maxDepth <= 0 {
		maxDepth = defaultTempListDepth
	}
	return map[string]any{"session_dir": d.sessionDir, "entries": listDirEntries(d.sessionDir, maxDepth)}, nil
}

func (d *turnDispatcher) RunTempCommand(ctx context.Context, command []string, cwdRelative string, autoInstall bool) (any, error) {
	if len(command) == 0 {
		return map[string]any{"error": "command must be a non-empty list"}, nil
	}
	res, runErr := d.executor.Run(ctx, procexec.Request{
		Argv:         command,
		SessionDir:   d.sessionDir,
		CWDRelative:  cwdRelative,
		AllowInstall: autoInstall,
	})
	if runErr != nil {
		return procexecErrorResult(runErr, command, ""), nil
	}
	return map[string]any{"returncode": res.ExitCode, "stdout": res.Stdout, "stderr": res.Stderr}, nil
}

func (d *turnDispatcher) ExportTempFile(ctx context.Context, tempRelativePath, workspaceRelativePath string, overwrite bool) (any, error) {
	rp, err := pathguard.NormalizeRelativeFilePath(tempRelativePath)
	if err != nil {
		return map[string]any{"error": "invalid temp_relative_path", "temp_relative_path": tempRelativePath}, nil
	}
	src, err := pathguard.SafeJoin(d.sessionDir, rp)
	if err != nil {
		return map[string]any{"error": "invalid temp_relative_path", "temp_relative_path": tempRelativePath}, nil
	}
	info, statErr := os.Stat(src)
	if statErr != nil {
		return map[string]any{"error": "source file not found", "temp_relative_path": tempRelativePath}, nil
	}
	if info.IsDir() {
		return map[string]any{"error": "source path is a directory", "temp_relative_path": tempRelativePath, "source": src}, nil
	}

	outName := filepath.Base(strings.TrimSpace(workspaceRelativePath))
	if outName != "" && outName != "." && outName != string(filepath.Separator) {
		d.exports = append(d.exports, outputpipeline.ExportRequest{
			RelativePath: rp,
			Override: outputpipeline.FileOverride{
				Filename: outName,
				MIMEType: outputpipeline.GuessMIMEType(outName),
			},
		})
	}

	return map[string]any{
		"source":         src,
		"relative_path":  tempRelativePath,
		"bytes":          info.Size(),
		"note":           "export_temp_file does not copy files; tool marks final output only",
		"requested_name": workspaceRelativePath,
		"overwrite":      overwrite,
	}, nil
}

// procexecErrorResult translates a procexec sentinel error into the same
// structured {error: ...} shape the original plugin returns instead of
// raising, so Step can inspect result["error"] exactly as the original does
// (most importantly "no_executable_found", which drives the consent/resume
// branch).
func procexecErrorResult(err error, command []string, skillName string) map[string]any {
	switch {
	case errors.Is(err, procexec.ErrNoExecutableFound):
		return map[string]any{
			"error":  "no_executable_found",
			"skill":  skillName,
			"module": moduleFromCommand(command),
		}
	case errors.Is(err, procexec.ErrCommandNotAllowed):
		return map[string]any{"error": fmt.Sprintf("command not allowed: %s", firstOr(command, ""))}
	case errors.Is(err, procexec.ErrExecutableNotFound):
		return map[string]any{"error": "executable_not_found", "exe": firstOr(command, "")}
	case errors.Is(err, procexec.ErrModuleInstallRequired), errors.Is(err, procexec.ErrModuleInstallFailed):
		return map[string]any{"error": err.Error(), "module": moduleFromCommand(command)}
	default:
		return map[string]any{"error": "subprocess_failed", "exe": firstOr(command, ""), "exception": err.Error()}
	}
}

func firstOr(command []string, fallback string) string {
	if len(command) > 0 {
		return command[0]
	}
	return fallback
}

// moduleFromCommand scans a "python -m MODULE ..." command vector for the
// module name, mirroring procexec's own (unexported) flag scan.
func moduleFromCommand(command []string) string {
	for i, tok := range command {
		if tok == "-m" && i+1 < len(command) {
			return command[i+1]
		}
		if strings.HasPrefix(tok, "-m") && len(tok) > 2 {
			return tok[2:]
		}
	}
	return ""
}

// readTextBounded reads path and truncates to maxChars runes, matching the
// original's text-mode character-bounded read rather than a byte bound.
func readTextBounded(path string, maxChars int) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	s := strings.ToValidUTF8(string(raw), "�")
	runes := []rune(s)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	return string(runes), nil
}

// dirEntry mirrors the original's _list_dir entry shape.
type dirEntry struct {
	Type         string `json:"type"`
	RelativePath string `json:"relative_path"`
}

// listDirEntries walks root to maxDepth, listing each directory's
// subdirectories (sorted) followed by its files (sorted) before descending,
// matching the original's os.walk-based traversal order.
func listDirEntries(root string, maxDepth int) []dirEntry {
	var out []dirEntry
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > maxDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		var dirs, files []os.DirEntry
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e)
			} else {
				files = append(files, e)
			}
		}
		sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name() < dirs[j].Name() })
		sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

		for _, d := range dirs {
			rel, _ := filepath.Rel(root, filepath.Join(dir, d.Name()))
			out = append(out, dirEntry{Type: "dir", RelativePath: filepath.ToSlash(rel)})
		}
		for _, f := range files {
			rel, _ := filepath.Rel(root, filepath.Join(dir, f.Name()))
			out = append(out, dirEntry{Type: "file", RelativePath: filepath.ToSlash(rel)})
		}
		for _, d := range dirs {
			walk(filepath.Join(dir, d.Name()), depth+1)
		}
	}
	walk(root, 0)
	return out
}
