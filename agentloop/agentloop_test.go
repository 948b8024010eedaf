package agentloop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flexigpt/skillagent-go/llmclient"
	"github.com/flexigpt/skillagent-go/procexec"
	"github.com/flexigpt/skillagent-go/sessionstore"
)

// memKV is the same trivial in-memory KVStore double sessionstore's own
// tests use, duplicated here since it is test-only scaffolding, not a
// shared production type.
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

// scriptedProvider streams a fixed sequence of chunks per call, one script
// entry per step, so a test can drive a multi-step turn deterministically.
type scriptedProvider struct {
	mu     sync.Mutex
	calls  int
	script [][]llmclient.Chunk
	reqs   []*llmclient.CompletionRequest
}

func (p *scriptedProvider) Name() string       { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool { return true }
func (p *scriptedProvider) Complete(_ context.Context, req *llmclient.CompletionRequest) (<-chan *llmclient.Chunk, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	var chunks []llmclient.Chunk
	if call < len(p.script) {
		chunks = p.script[call]
	} else {
		chunks = []llmclient.Chunk{{Done: true}}
	}
	ch := make(chan *llmclient.Chunk, len(chunks))
	for i := range chunks {
		c := chunks[i]
		ch <- &c
	}
	close(ch)
	return ch, nil
}

func writeSkill(t *testing.T, skillsRoot, folder, name, description, body string) {
	t.Helper()
	dir := filepath.Join(skillsRoot, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir skill dir: %v", err)
	}
	content := "---\nname: " + name + "\ndescription: " + description + "\n---\n" + body
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write SKILL.md: %v", err)
	}
}

func drainEvents(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func textOf(events []Event) string {
	var s string
	for _, e := range events {
		if e.Kind == EventText {
			s += e.Text
		}
	}
	return s
}

func TestRunFinalTextOnFirstStep(t *testing.T) {
	t.Parallel()

	skillsRoot := t.TempDir()
	writeSkill(t, skillsRoot, "demo", "demo", "a demo skill", "# Demo\n")

	provider := &scriptedProvider{script: [][]llmclient.Chunk{
		{{Text: "hello there", Done: true}},
	}}
	store := sessionstore.New(newMemKV(), t.TempDir())
	executor := procexec.New()

	loop := New(skillsRoot, "You are a helpful agent.", provider, store, executor)

	events, err := loop.Run(context.Background(), Request{ConvKey: "conv1", Query: "hi", Model: "test-model"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := drainEvents(events)
	if textOf(got) != defaultBanner+"hello there" {
		t.Fatalf("expected final text to be streamed, got events: %+v", got)
	}

	state, err := store.Load(context.Background(), "conv1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.History) != 1 || state.History[0].Assistant != "hello there" {
		t.Fatalf("expected history to record the turn, got %+v", state.History)
	}
}

func TestRunLedgerViolationDoesNotAbortTurn(t *testing.T) {
	t.Parallel()

	skillsRoot := t.TempDir()
	writeSkill(t, skillsRoot, "demo", "demo", "a demo skill", "# Demo\n")

	provider := &scriptedProvider{script: [][]llmclient.Chunk{
		// Step 0: call list_skill_files before get_skill_metadata — a
		// ledger violation that must produce a nudge, not an abort.
		{{ToolCall: &llmclient.ToolCall{ID: "c1", Name: "list_skill_files", Arguments: map[string]any{"skill_name": "demo"}}}},
		// Step 1: model self-corrects after seeing the nudge.
		{{Text: "done", Done: true}},
	}}
	store := sessionstore.New(newMemKV(), t.TempDir())
	executor := procexec.New()

	loop := New(skillsRoot, "You are a helpful agent.", provider, store, executor)

	events, err := loop.Run(context.Background(), Request{ConvKey: "conv2", Query: "list demo files", Model: "test-model"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := drainEvents(events)
	if textOf(got) != defaultBanner+"done" {
		t.Fatalf("expected the turn to recover and finish with 'done', got events: %+v", got)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly 2 model calls (ledger violation then recovery), got %d", provider.calls)
	}

	// The recovery call's messages must carry both the structured
	// skill_md_required tool result (as the call's own
	// tool-result content) and a separate user-role nudge, matching the
	// original's paired ToolPromptMessage + UserPromptMessage.
	recoveryMessages := provider.reqs[1].Messages
	var sawStructuredResult, sawNudge bool
	for _, m := range recoveryMessages {
		if m.Role == "tool" {
			for _, tr := range m.ToolResults {
				if strings.Contains(tr.Content, `"error":"skill_md_required"`) && tr.IsError {
					sawStructuredResult = true
				}
			}
		}
		if m.Role == "user" && strings.Contains(m.Content, "list_skill_files") && strings.Contains(m.Content, "get_skill_metadata") {
			sawNudge = true
		}
	}
	if !sawStructuredResult {
		t.Fatalf("expected a tool-result message carrying error=skill_md_required, got messages: %+v", recoveryMessages)
	}
	if !sawNudge {
		t.Fatalf("expected a separate user-role nudge message, got messages: %+v", recoveryMessages)
	}
}

func TestRunNoExecutableFoundTriggersResume(t *testing.T) {
	t.Parallel()

	skillsRoot := t.TempDir()
	writeSkill(t, skillsRoot, "demo", "demo", "a demo skill", "# Demo\n")

	provider := &scriptedProvider{script: [][]llmclient.Chunk{
		{{ToolCall: &llmclient.ToolCall{ID: "c1", Name: "get_skill_metadata", Arguments: map[string]any{"skill_name": "demo"}}}},
		{{ToolCall: &llmclient.ToolCall{ID: "c2", Name: "list_skill_files", Arguments: map[string]any{"skill_name": "demo"}}}},
		{{ToolCall: &llmclient.ToolCall{ID: "c3", Name: "run_skill_command", Arguments: map[string]any{
			"skill_name": "demo",
			"command":    []any{"python", "-m", "missing_module"},
		}}}},
	}}
	store := sessionstore.New(newMemKV(), t.TempDir())
	executor := procexec.New()

	loop := New(skillsRoot, "You are a helpful agent.", provider, store, executor)

	events, err := loop.Run(context.Background(), Request{ConvKey: "conv3", Query: "run demo", Model: "test-model"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_ = drainEvents(events)

	state, err := store.Load(context.Background(), "conv3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Resume == nil || !state.Resume.Pending {
		t.Fatalf("expected a pending resume record, got %+v", state.Resume)
	}
	if state.Resume.Module != "missing_module" {
		t.Fatalf("expected resume record to name the missing module, got %+v", state.Resume)
	}
	if state.Resume.OriginalQuery != "run demo" {
		t.Fatalf("expected resume record to preserve the original query, got %q", state.Resume.OriginalQuery)
	}
}

func TestRunDenyReplyClearsResume(t *testing.T) {
	t.Parallel()

	skillsRoot := t.TempDir()
	writeSkill(t, skillsRoot, "demo", "demo", "a demo skill", "# Demo\n")

	store := sessionstore.New(newMemKV(), t.TempDir())
	if err := store.SetResume(context.Background(), "conv4", sessionstore.ResumeRecord{
		Pending:       true,
		OriginalQuery: "run demo",
		Reason:        "no_executable_found",
		Module:        "missing_module",
		CreatedAt:     time.Now(),
	}); err != nil {
		t.Fatalf("SetResume: %v", err)
	}

	provider := &scriptedProvider{}
	executor := procexec.New()
	loop := New(skillsRoot, "You are a helpful agent.", provider, store, executor)

	events, err := loop.Run(context.Background(), Request{ConvKey: "conv4", Query: "不允许", Model: "test-model"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_ = drainEvents(events)

	if provider.calls != 0 {
		t.Fatalf("expected a deny reply to short-circuit before calling the model, got %d calls", provider.calls)
	}

	state, err := store.Load(context.Background(), "conv4")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Resume != nil {
		t.Fatalf("expected the resume record to be cleared, got %+v", state.Resume)
	}
}

func TestRunMaxStepsExceededWithNoOutput(t *testing.T) {
	t.Parallel()

	skillsRoot := t.TempDir()
	writeSkill(t, skillsRoot, "demo", "demo", "a demo skill", "# Demo\n")

	// get_session_context never produces a file or an export, so every
	// step keeps calling it until the step budget runs out.
	script := make([][]llmclient.Chunk, 0, DefaultMaxSteps)
	for i := 0; i < DefaultMaxSteps; i++ {
		script = append(script, []llmclient.Chunk{
			{ToolCall: &llmclient.ToolCall{ID: "c", Name: "get_session_context", Arguments: map[string]any{}}},
		})
	}
	provider := &scriptedProvider{script: script}
	store := sessionstore.New(newMemKV(), t.TempDir())
	executor := procexec.New()

	loop := New(skillsRoot, "You are a helpful agent.", provider, store, executor)

	events, err := loop.Run(context.Background(), Request{ConvKey: "conv5", Query: "loop forever", Model: "test-model"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := drainEvents(events)
	text := textOf(got)
	if text == "" {
		t.Fatalf("expected a max-steps-exceeded message, got no text events: %+v", got)
	}
	if provider.calls != DefaultMaxSteps {
		t.Fatalf("expected exactly %d model calls, got %d", DefaultMaxSteps, provider.calls)
	}
}
