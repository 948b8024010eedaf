// Package agentloop drives one conversation turn end to end: resolving the
// session, building the system prompt, streaming the model, dispatching
// tool calls under the progressive-disclosure ledger, and finalizing output
// through OutputPipeline. It generalizes nexus's AgenticLoop state machine
// (Init/Stream/ExecuteTools/Continue/Complete) to the Prepare/Step(k) turn
// model this runtime's tool surface and resume-consent flow require.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"

	"github.com/flexigpt/skillagent-go/assetsink"
	"github.com/flexigpt/skillagent-go/llmclient"
	"github.com/flexigpt/skillagent-go/outputpipeline"
	"github.com/flexigpt/skillagent-go/procexec"
	"github.com/flexigpt/skillagent-go/protocol"
	"github.com/flexigpt/skillagent-go/sessionstore"
	"github.com/flexigpt/skillagent-go/skillcatalog"
	"github.com/flexigpt/skillagent-go/toolregistry"
)

// DefaultMaxSteps and DefaultMemoryTurns mirror the original tool's
// max_steps/memory_turns parameter defaults.
const (
	DefaultMaxSteps    = 8
	DefaultMemoryTurns = 10
)

// defaultBanner is a neutral typing-indicator marker. SPEC_FULL.md's
// supplemented-features section treats the original's emoji-laden Chinese
// banner as presentation policy, not semantics, so the default here is
// plain and callers override it with WithBanner for their own branding.
const defaultBanner = "\n[assistant]\n"

// historyTranscriptMaxChars bounds the separately-tracked history_turns
// transcript (distinct from the memory_turns message-window compaction),
// matching the original's HISTORY_TRANSCRIPT_MAX_CHARS.
const historyTranscriptMaxChars = 6000

const maxEmptyResponses = 3

// toolFuncIndex pairs a tool's dispatch slug with the FuncID toolregistry
// binds it under, built once from the ten-tool descriptor set.
type toolFuncIndex struct {
	slugToFuncID map[string]llmtoolsgoSpec.FuncID
	tools        []llmclient.Tool
}

func buildToolFuncIndex() toolFuncIndex {
	idx := toolFuncIndex{slugToFuncID: map[string]llmtoolsgoSpec.FuncID{}}
	for _, t := range toolregistry.Tools() {
		idx.slugToFuncID[t.Slug] = t.GoImpl.FuncID
		var params map[string]any
		_ = json.Unmarshal([]byte(t.ArgSchema), &params)
		idx.tools = append(idx.tools, llmclient.Tool{
			Name:        t.Slug,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return idx
}

var sharedToolIndex = buildToolFuncIndex()

// Loop drives turns for one skills_root against one Provider and
// SessionStore. A Loop is safe for concurrent use across distinct
// conversation keys (SessionStore serializes per-key).
type Loop struct {
	skillsRoot    string
	systemPreface string
	banner        string
	maxSteps      int
	memoryTurns   int
	historyTurns  int

	provider llmclient.Provider
	store    *sessionstore.Store
	executor *procexec.Executor
	fetch    Fetcher
}

// Option configures a Loop.
type Option func(*Loop)

// WithBanner overrides the typing-indicator banner emitted once per step
// before the first user-visible text delta.
func WithBanner(banner string) Option {
	return func(l *Loop) { l.banner = banner }
}

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxSteps = n
		}
	}
}

// WithMemoryTurns overrides DefaultMemoryTurns.
func WithMemoryTurns(n int) Option {
	return func(l *Loop) {
		if n >= 0 {
			l.memoryTurns = n
		}
	}
}

// WithHistoryTurns enables the separately-tracked history_turns transcript.
func WithHistoryTurns(n int) Option {
	return func(l *Loop) {
		if n >= 0 {
			l.historyTurns = n
		}
	}
}

// WithFetcher overrides the default HTTP-backed upload downloader.
func WithFetcher(f Fetcher) Option {
	return func(l *Loop) { l.fetch = f }
}

// New builds a Loop. systemPreface is the host-supplied system prompt
// prefix (the original's system_prompt tool parameter).
func New(skillsRoot, systemPreface string, provider llmclient.Provider, store *sessionstore.Store, executor *procexec.Executor, opts ...Option) *Loop {
	l := &Loop{
		skillsRoot:    skillsRoot,
		systemPreface: systemPreface,
		banner:        defaultBanner,
		maxSteps:      DefaultMaxSteps,
		memoryTurns:   DefaultMemoryTurns,
		provider:      provider,
		store:         store,
		executor:      executor,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Request is one turn's input.
type Request struct {
	ConvKey string
	Query   string
	Model   string
	Uploads []UploadRef
}

// Run drives one turn to completion, returning a channel of Events. The
// channel is closed when the turn finishes (including on error, which is
// returned directly and carries no event).
func (l *Loop) Run(ctx context.Context, req Request) (<-chan Event, error) {
	catalog, err := skillcatalog.Load(ctx, l.skillsRoot)
	if err != nil {
		return nil, fmt.Errorf("agentloop: load skill catalog: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		l.runTurn(ctx, req, catalog, out)
	}()
	return out, nil
}

// maxStoredHistoryTurns bounds the rolling chat history SessionStore keeps
// per conversation, independent of how many of those turns a given request
// actually asks historyTranscript to surface.
const maxStoredHistoryTurns = 50

// runTurn implements Prepare followed by Step(k) for k in [0, maxSteps).
func (l *Loop) runTurn(ctx context.Context, req Request, catalog skillcatalog.Index, out chan<- Event) {
	sink := chanSink{out: out}
	state, err := l.store.Load(ctx, req.ConvKey)
	if err != nil {
		sink.Text(fmt.Sprintf("load session state failed: %v", err))
		return
	}

	query := req.Query
	isResuming := false
	resumeContext := ""

	if state.Resume != nil && state.Resume.Pending {
		switch {
		case protocol.IsDenyReply(req.Query):
			_ = l.store.ClearResume(ctx, req.ConvKey)
			sink.Text("Acknowledged — I will not create scripts in the temp directory for this request.")
			return
		case protocol.IsAllowReply(req.Query):
			if strings.TrimSpace(state.Resume.OriginalQuery) != "" {
				query = state.Resume.OriginalQuery
			}
			isResuming = true
			_ = l.store.ClearResume(ctx, req.ConvKey)
			resumeContext = "\n\n[Resume authorized]\n" +
				"The user has authorized you to create scripts in the temp session directory and install " +
				"dependencies as needed, continuing the prior unfinished generation.\n" +
				"Proceed directly from the existing intermediate artifacts in the temp session directory, " +
				"prioritizing producing the final deliverable."
		}
	}

	sessionDir, err := l.store.EnsureSessionDir(ctx, req.ConvKey)
	if err != nil {
		sink.Text(fmt.Sprintf("allocate session directory failed: %v", err))
		return
	}

	uploads, err := IngestUploads(ctx, sessionDir, req.Uploads, l.fetch)
	if err != nil {
		sink.Text(fmt.Sprintf("upload ingestion failed: %v", err))
		return
	}

	systemPrompt, err := buildSystemPrompt(l.systemPreface, sessionDir, l.skillsRoot, catalog, resumeContext+uploadsContext(uploads))
	if err != nil {
		sink.Text(fmt.Sprintf("build system prompt failed: %v", err))
		return
	}

	messages := []llmclient.Message{{Role: "system", Content: systemPrompt}}
	messages = append(messages, historyTranscript(state.History, l.historyTurns)...)
	messages = append(messages, llmclient.Message{Role: "user", Content: query})

	dispatcher := newTurnDispatcher(l.skillsRoot, sessionDir, catalog, l.executor)
	bound, err := toolregistry.Bind(dispatcher)
	if err != nil {
		sink.Text(fmt.Sprintf("bind tool registry failed: %v", err))
		return
	}

	sink_ := assetsink.New()
	turn := outputpipeline.Turn{SessionDir: sessionDir, SkillsRoot: l.skillsRoot}

	emptyResponses := 0
	bannerEmitted := false
	exhausted := true

stepLoop:
	for step := 0; step < l.maxSteps; step++ {
		messages = compactMessages(messages, l.memoryTurns)
		stepStart := time.Now()

		onDelta := func(delta string) {
			if !bannerEmitted {
				sink.Text(l.banner)
				bannerEmitted = true
			}
			sink.Text(delta)
		}

		chunks, err := l.provider.Complete(ctx, &llmclient.CompletionRequest{
			Model:    req.Model,
			Messages: messages,
			Tools:    sharedToolIndex.tools,
		})
		if err != nil {
			turn.FinalText = fmt.Sprintf("LLM invocation failed: %v", err)
			exhausted = false
			break stepLoop
		}
		decoded, err := llmclient.Decode(ctx, chunks, onDelta)
		sharedMetrics.observeStep(time.Since(stepStart).Seconds())
		if err != nil {
			turn.FinalText = fmt.Sprintf("LLM invocation failed: %v", err)
			exhausted = false
			break stepLoop
		}
		bannerEmitted = false

		if len(decoded.Media) > 0 {
			_, _ = sink_.Persist(ctx, sessionDir, mediaParts(decoded.Media))
		}

		if len(decoded.ToolCalls) > 0 {
			emptyResponses = 0
			messages = append(messages, llmclient.Message{Role: "assistant", Content: decoded.Text, ToolCalls: decoded.ToolCalls})

			forcedText, resumeRec, aborted := l.dispatchToolCalls(ctx, decoded.ToolCalls, dispatcher, bound, &messages, out)
			if aborted {
				turn.FinalText = forcedText
				exhausted = false
				if resumeRec != nil {
					resumeRec.OriginalQuery = req.Query
					_ = l.store.SetResume(ctx, req.ConvKey, *resumeRec)
				}
				break stepLoop
			}
			continue stepLoop
		}

		jsonText, found := protocol.ExtractFirstJSONObject(decoded.Text)
		var env protocol.Envelope
		var envOK bool
		if found {
			if e, ok, perr := protocol.ParseEnvelope(decoded.Text); perr == nil && ok {
				env, envOK = e, true
			}
		}

		if decoded.Text == "" && !envOK && len(decoded.Media) == 0 {
			emptyResponses++
			if emptyResponses < maxEmptyResponses {
				messages = append(messages, llmclient.Message{
					Role:    "user",
					Content: "You returned no content last step. Continue the task: call a tool if supported, or respond with JSON {\"type\":\"final\",\"content\":\"...\"}.",
				})
				continue stepLoop
			}
			turn.FinalText = "The model returned empty responses repeatedly; no result was produced."
			exhausted = false
			break stepLoop
		}

		if !envOK || env.Type == "final" {
			if envOK {
				turn.FinalText = env.Content
			} else {
				turn.FinalText = decoded.Text
				if decoded.StreamedAny && turn.FinalText != "" {
					turn.FinalTextStreamed = true
				}
			}
			exhausted = false
			break stepLoop
		}

		if env.Type != "tool" {
			turn.FinalText = decoded.Text
			exhausted = false
			break stepLoop
		}

		forcedText, resumeRec, aborted := l.dispatchEnvelopeToolCall(ctx, env, dispatcher, bound, &messages, out)
		if aborted {
			turn.FinalText = forcedText
			exhausted = false
			if resumeRec != nil {
				resumeRec.OriginalQuery = req.Query
				_ = l.store.SetResume(ctx, req.ConvKey, *resumeRec)
			}
			break stepLoop
		}
		_ = jsonText
	}

	turn.Exports = dispatcher.exports
	if exhausted {
		turn.FinalText = maxStepsFinalText(turn.Exports, sessionDir)
		sharedMetrics.recordTurn("max_steps_exceeded")
	} else {
		sharedMetrics.recordTurn("completed")
	}
	historyText := outputpipeline.Finish(sink, turn)
	_ = l.store.AppendHistory(ctx, req.ConvKey, sessionstore.HistoryTurn{User: req.Query, Assistant: historyText}, maxStoredHistoryTurns)
	_ = isResuming
}
