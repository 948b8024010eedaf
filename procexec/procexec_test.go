package procexec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestRunCommandNotAllowed(t *testing.T) {
	t.Parallel()

	e := New()
	_, err := e.Run(context.Background(), Request{
		Argv:       []string{"rm", "-rf", "/"},
		SessionDir: t.TempDir(),
	})
	if !errors.Is(err, ErrCommandNotAllowed) {
		t.Fatalf("expected ErrCommandNotAllowed, got %v", err)
	}
}

func TestRunEmptyArgv(t *testing.T) {
	t.Parallel()

	e := New()
	_, err := e.Run(context.Background(), Request{SessionDir: t.TempDir()})
	if !errors.Is(err, ErrCommandNotAllowed) {
		t.Fatalf("expected ErrCommandNotAllowed for empty argv, got %v", err)
	}
}

func TestRunNoExecutableFoundForMissingSkillModule(t *testing.T) {
	t.Parallel()

	e := New()
	skillDir := t.TempDir()
	_, err := e.Run(context.Background(), Request{
		Argv:       []string{"python", "-m", "definitely_missing_module"},
		SessionDir: t.TempDir(),
		SkillDir:   skillDir,
	})
	if !errors.Is(err, ErrNoExecutableFound) {
		t.Fatalf("expected ErrNoExecutableFound, got %v", err)
	}
}

func TestModuleExistsUnder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tool.py"), []byte("pass"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !moduleExistsUnder(dir, "tool") {
		t.Fatal("expected tool.py to be found")
	}
	if moduleExistsUnder(dir, "missing") {
		t.Fatal("expected missing module to be absent")
	}
}

func TestModuleFlagValue(t *testing.T) {
	t.Parallel()

	mod, ok := moduleFlagValue([]string{"python", "-m", "pkg.sub"})
	if !ok || mod != "pkg.sub" {
		t.Fatalf("got %q, %v", mod, ok)
	}
	mod, ok = moduleFlagValue([]string{"python", "-mpkg"})
	if !ok || mod != "pkg" {
		t.Fatalf("got %q, %v", mod, ok)
	}
	if _, ok := moduleFlagValue([]string{"python", "script.py"}); ok {
		t.Fatal("expected no module flag")
	}
}

func TestRunExecutableNotFound(t *testing.T) {
	t.Parallel()

	e := New(WithAllowList(map[string]bool{"totally-not-a-real-binary-xyz": true}))
	_, err := e.Run(context.Background(), Request{
		Argv:       []string{"totally-not-a-real-binary-xyz"},
		SessionDir: t.TempDir(),
	})
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Fatalf("expected ErrExecutableNotFound, got %v", err)
	}
}

func TestRunSpawnsAllowedExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only smoke test")
	}
	t.Parallel()

	e := New(WithAllowList(map[string]bool{"echo": true}))
	sessionDir := t.TempDir()
	res, err := e.Run(context.Background(), Request{
		Argv:       []string{"echo", "hello"},
		SessionDir: sessionDir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("Stdout = %q, want %q", res.Stdout, "hello\n")
	}
}

func TestRunCancellationMarksTimedOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix-only smoke test")
	}
	t.Parallel()

	e := New(WithAllowList(map[string]bool{"sleep": true}), WithGrace(100*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := e.Run(ctx, Request{
		Argv:       []string{"sleep", "5"},
		SessionDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut=true")
	}
}
