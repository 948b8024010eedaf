// Package procexec runs skill and session-scratch subprocesses under a
// policy gate: an allow-list for non-Python executables, a Python-module
// presence/import probe with optional auto-install, PATH resolution, and
// PathGuard argument rewriting, followed by a supervised spawn with
// polite-then-forceful cancellation. It generalizes the teacher's
// fsskillprovider script runner (which only ever launched scripts living
// inside a skill package) to arbitrary command vectors issued by the model.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flexigpt/skillagent-go/pathguard"
)

// ErrCommandNotAllowed is returned when argv[0] is neither "python" nor a
// member of the executable allow-list.
var ErrCommandNotAllowed = errors.New("command_not_allowed")

// ErrNoExecutableFound is returned when a skill command names a Python
// module (`-m MODULE`) that the skill directory does not itself contain.
// This is the trigger for AgentLoop's resume-consent branch.
var ErrNoExecutableFound = errors.New("no_executable_found")

// ErrExecutableNotFound is returned when the resolved executable is not on
// PATH.
var ErrExecutableNotFound = errors.New("executable_not_found")

// ErrModuleInstallRequired is returned when a Python module fails to import
// and auto_install was not requested.
var ErrModuleInstallRequired = errors.New("module_install_required")

// ErrModuleInstallFailed is returned when an auto-install attempt itself
// fails.
var ErrModuleInstallFailed = errors.New("module_install_failed")

// DefaultAllowList is the set of non-Python executables a skill or temp
// command may invoke directly.
var DefaultAllowList = map[string]bool{
	"node":     true,
	"pandoc":   true,
	"soffice":  true,
	"pdftoppm": true,
}

// DefaultGrace is the interval between a polite termination signal and a
// forceful kill on cancellation.
const DefaultGrace = 3 * time.Second

// Result is the outcome of a completed (or gracefully failed) command.
type Result struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	TimedOut   bool
	DurationMS int64
}

// Installer invokes the host package manager to install a Python module.
// The default implementation shells out to "pip install <module>"; tests
// and alternate hosts may substitute their own.
type Installer interface {
	Install(ctx context.Context, module string) (stdout, stderr string, err error)
}

// PipInstaller is the default Installer, shelling out to the host's pip.
type PipInstaller struct {
	PythonExe string
}

// Install runs "<PythonExe> -m pip install <module>".
func (p PipInstaller) Install(ctx context.Context, module string) (string, string, error) {
	exe := p.PythonExe
	if exe == "" {
		exe = "python3"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, exe, "-m", "pip", "install", module)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Request describes one command invocation.
type Request struct {
	// Argv is the command vector; Argv[0] is "python" (host-interpreter
	// alias) or a member of the allow-list.
	Argv []string

	// SessionDir is the process-private scratch directory; always set.
	SessionDir string

	// SkillDir is the skill package directory. Empty for run_temp_command,
	// set for run_skill_command.
	SkillDir string

	// CWDRelative is resolved under SkillDir (if set) else SessionDir.
	CWDRelative string

	// AllowInstall permits a synchronous pip install on an import miss.
	AllowInstall bool
}

// Executor runs Requests under the policy above.
type Executor struct {
	allowList map[string]bool
	pythonExe string
	installer Installer
	grace     time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures an Executor.
type Option func(*Executor)

// WithAllowList overrides DefaultAllowList.
func WithAllowList(set map[string]bool) Option {
	return func(e *Executor) { e.allowList = set }
}

// WithPythonExecutable overrides the host Python interpreter name (default
// "python3").
func WithPythonExecutable(exe string) Option {
	return func(e *Executor) { e.pythonExe = exe }
}

// WithInstaller overrides the default pip-based Installer.
func WithInstaller(i Installer) Option {
	return func(e *Executor) { e.installer = i }
}

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.grace = d
		}
	}
}

// New builds an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		allowList: DefaultAllowList,
		pythonExe: "python3",
		grace:     DefaultGrace,
		limiters:  map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.installer == nil {
		e.installer = PipInstaller{PythonExe: e.pythonExe}
	}
	return e
}

// Run executes req under the seven-step policy: allow-list check, skill
// module presence check, import probe with optional install, PATH
// resolution, PathGuard argument rewrite, then a supervised spawn.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(req.Argv) == 0 {
		return Result{}, fmt.Errorf("%w: empty command", ErrCommandNotAllowed)
	}

	first := req.Argv[0]
	isPython := first == "python" || first == "python3" || first == "python.exe"
	if !isPython && !e.allowList[first] {
		return Result{}, fmt.Errorf("%w: %q is not python and not in the allow-list", ErrCommandNotAllowed, first)
	}

	if isPython {
		if module, ok := moduleFlagValue(req.Argv); ok {
			if req.SkillDir != "" && !moduleExistsUnder(req.SkillDir, module) {
				return Result{}, fmt.Errorf("%w: module %q not found under skill directory", ErrNoExecutableFound, module)
			}
			if err := e.ensureImportable(ctx, module, req.AllowInstall); err != nil {
				return Result{}, err
			}
		}
	}

	exeName := first
	if isPython {
		exeName = e.pythonExe
	}
	resolvedExe, err := exec.LookPath(exeName)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q is not on PATH", ErrExecutableNotFound, exeName)
	}

	argv := make([]string, len(req.Argv))
	copy(argv, req.Argv)
	argv[0] = resolvedExe
	argv = pathguard.RewriteArgs(argv, req.SessionDir)

	cwdBase := req.SkillDir
	if cwdBase == "" {
		cwdBase = req.SessionDir
	}
	cwd := cwdBase
	if strings.TrimSpace(req.CWDRelative) != "" && req.CWDRelative != "." {
		cwd, err = pathguard.SafeJoin(cwdBase, req.CWDRelative)
		if err != nil {
			return Result{}, err
		}
	}

	return e.spawn(ctx, argv, cwd)
}

// spawn runs argv[0] with argv[1:] as arguments and cwd as the working
// directory, capturing stdout/stderr and honoring cancellation with a
// polite interrupt (os.Interrupt) followed by a forceful kill after
// e.grace if the process has not exited.
func (e *Executor) spawn(ctx context.Context, argv []string, cwd string) (Result, error) {
	start := time.Now()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("procexec: start %q: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timedOut bool
	select {
	case err := <-done:
		dur := time.Since(start)
		return e.result(err, stdout.String(), stderr.String(), dur, false)
	case <-ctx.Done():
		timedOut = true
	}

	politeSignal(cmd.Process)
	select {
	case err := <-done:
		dur := time.Since(start)
		return e.result(err, stdout.String(), stderr.String(), dur, timedOut)
	case <-time.After(e.grace):
	}

	_ = cmd.Process.Kill()
	err := <-done
	dur := time.Since(start)
	return e.result(err, stdout.String(), stderr.String(), dur, timedOut)
}

func (e *Executor) result(runErr error, stdout, stderr string, dur time.Duration, timedOut bool) (Result, error) {
	res := Result{
		Stdout:     decodeLossyUTF8(stdout),
		Stderr:     decodeLossyUTF8(stderr),
		DurationMS: dur.Milliseconds(),
		TimedOut:   timedOut,
	}
	if runErr == nil {
		res.ExitCode = 0
		return res, nil
	}
	var ee *exec.ExitError
	if errors.As(runErr, &ee) {
		res.ExitCode = ee.ExitCode()
		return res, nil
	}
	return Result{}, fmt.Errorf("procexec: run failed: %w", runErr)
}

// ensureImportable probes whether module imports under the host Python
// interpreter, installing it on a miss when allowInstall is set. Install
// attempts are rate-limited per module so repeated no_executable_found
// loops cannot hammer the package index.
func (e *Executor) ensureImportable(ctx context.Context, module string, allowInstall bool) error {
	ok, err := e.probeImportable(ctx, module)
	if err != nil {
		return fmt.Errorf("procexec: probe module %q: %w", module, err)
	}
	if ok {
		return nil
	}
	if !allowInstall {
		return fmt.Errorf("%w: module %q not importable and auto_install is false", ErrModuleInstallRequired, module)
	}
	if !e.limiterFor(module).Allow() {
		return fmt.Errorf("%w: install rate limit exceeded for module %q", ErrModuleInstallFailed, module)
	}
	_, stderr, err := e.installer.Install(ctx, module)
	if err != nil {
		return fmt.Errorf("%w: %q: %s", ErrModuleInstallFailed, module, strings.TrimSpace(stderr))
	}
	return nil
}

func (e *Executor) limiterFor(module string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[module]
	if !ok {
		l = rate.NewLimiter(rate.Every(30*time.Second), 1)
		e.limiters[module] = l
	}
	return l
}

func (e *Executor) probeImportable(ctx context.Context, module string) (bool, error) {
	top := module
	if idx := strings.IndexByte(top, '.'); idx >= 0 {
		top = top[:idx]
	}
	cmd := exec.CommandContext(ctx, e.pythonExe, "-c", fmt.Sprintf("import %s", top))
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// moduleFlagValue scans argv for "-m MODULE" or "-mMODULE" and returns the
// module name.
func moduleFlagValue(argv []string) (string, bool) {
	for i, tok := range argv {
		if tok == "-m" && i+1 < len(argv) {
			return argv[i+1], true
		}
		if strings.HasPrefix(tok, "-m") && len(tok) > 2 {
			return tok[2:], true
		}
	}
	return "", false
}

// moduleExistsUnder reports whether skillDir contains module as a .py file
// or a package directory (module/__init__.py).
func moduleExistsUnder(skillDir, module string) bool {
	top := strings.ReplaceAll(module, ".", string(filepath.Separator))
	if _, err := os.Stat(filepath.Join(skillDir, top+".py")); err == nil {
		return true
	}
	if st, err := os.Stat(filepath.Join(skillDir, top, "__init__.py")); err == nil && !st.IsDir() {
		return true
	}
	if st, err := os.Stat(filepath.Join(skillDir, top)); err == nil && st.IsDir() {
		if _, err := os.Stat(filepath.Join(skillDir, top, "__init__.py")); err == nil {
			return true
		}
	}
	return false
}

// decodeLossyUTF8 replaces invalid UTF-8 byte sequences with the Unicode
// replacement character, matching the host's "decode utf-8, replace on
// error" capture contract.
func decodeLossyUTF8(s string) string {
	if strings.ToValidUTF8(s, "") == s {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// politeSignal sends os.Interrupt (SIGINT on Unix) to proc. On Windows
// os.Process cannot deliver an interrupt, so this falls back to an
// immediate Kill.
func politeSignal(proc *os.Process) {
	if proc == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = proc.Kill()
		return
	}
	_ = proc.Signal(os.Interrupt)
}
