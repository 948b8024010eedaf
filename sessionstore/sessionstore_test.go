package sessionstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type memKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemKV() *memKV { return &memKV{m: map[string][]byte{}} }

func (k *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	return v, ok, nil
}

func (k *memKV) Set(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = value
	return nil
}

func TestResumeRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := New(kv, t.TempDir())
	ctx := context.Background()

	state, err := store.Load(ctx, "conv1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Resume != nil {
		t.Fatalf("expected no resume record initially, got %+v", state.Resume)
	}

	rec := ResumeRecord{Pending: true, SessionDir: "/tmp/x", OriginalQuery: "do the thing", Skill: "A", Module: "missing_mod", CreatedAt: time.Now()}
	if err := store.SetResume(ctx, "conv1", rec); err != nil {
		t.Fatalf("SetResume: %v", err)
	}

	state, err = store.Load(ctx, "conv1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Resume == nil || !state.Resume.Pending || state.Resume.Skill != "A" {
		t.Fatalf("unexpected resume state: %+v", state.Resume)
	}

	if err := store.ClearResume(ctx, "conv1"); err != nil {
		t.Fatalf("ClearResume: %v", err)
	}
	state, err = store.Load(ctx, "conv1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Resume != nil {
		t.Fatalf("expected resume cleared, got %+v", state.Resume)
	}
}

func TestAppendHistoryBounded(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := New(kv, t.TempDir())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		turn := HistoryTurn{User: "u", Assistant: "a"}
		if err := store.AppendHistory(ctx, "conv2", turn, 3); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	state, err := store.Load(ctx, "conv2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(state.History))
	}
}

func TestEnsureSessionDirReused(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	tempRoot := t.TempDir()
	store := New(kv, tempRoot)
	ctx := context.Background()

	dir1, err := store.EnsureSessionDir(ctx, "conv3")
	if err != nil {
		t.Fatalf("EnsureSessionDir: %v", err)
	}
	for _, sub := range []string{"uploads", "_skill_cache", "llm_assets"} {
		if st, err := os.Stat(filepath.Join(dir1, sub)); err != nil || !st.IsDir() {
			t.Fatalf("expected %q subdir to exist", sub)
		}
	}

	dir2, err := store.EnsureSessionDir(ctx, "conv3")
	if err != nil {
		t.Fatalf("EnsureSessionDir (second call): %v", err)
	}
	if dir1 != dir2 {
		t.Fatalf("expected reused session dir, got %q then %q", dir1, dir2)
	}
}

func TestPruneOldSessionsRetainsMostRecent(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	tempRoot := t.TempDir()
	store := New(kv, tempRoot, WithRetainSessions(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := store.EnsureSessionDir(ctx, "conv-"+string(rune('a'+i))); err != nil {
			t.Fatalf("EnsureSessionDir: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) > 2 {
		t.Fatalf("expected at most 2 retained session dirs, got %d", len(entries))
	}
}
