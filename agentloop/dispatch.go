package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"

	"github.com/flexigpt/skillagent-go/assetsink"
	"github.com/flexigpt/skillagent-go/llmclient"
	"github.com/flexigpt/skillagent-go/outputpipeline"
	"github.com/flexigpt/skillagent-go/protocol"
	"github.com/flexigpt/skillagent-go/sessionstore"
)

// compactMessages keeps the system message plus the most recent
// 1+4*memoryTurns entries, matching the original's message-window
// compaction. This is distinct from historyTranscript, which is a
// separately-bounded summary injected once at Prepare time.
func compactMessages(messages []llmclient.Message, memoryTurns int) []llmclient.Message {
	if len(messages) == 0 {
		return messages
	}
	keep := 1 + memoryTurns*4
	if keep < 1 {
		keep = 1
	}
	if len(messages) <= keep+1 {
		return messages
	}
	tail := messages[len(messages)-keep:]
	out := make([]llmclient.Message, 0, keep+1)
	out = append(out, messages[0])
	out = append(out, tail...)
	return out
}

// historyTranscript builds the bounded history_turns transcript: it walks
// history most-recent first, accumulating turns until either historyTurns
// turns or historyTranscriptMaxChars characters have been collected,
// whichever comes first, then reverses the result back into chronological
// order so it reads as a normal conversation prefix.
func historyTranscript(history []sessionstore.HistoryTurn, historyTurns int) []llmclient.Message {
	if historyTurns <= 0 || len(history) == 0 {
		return nil
	}
	start := len(history) - historyTurns
	if start < 0 {
		start = 0
	}
	picked := history[start:]

	var kept []sessionstore.HistoryTurn
	total := 0
	for i := len(picked) - 1; i >= 0; i-- {
		turn := picked[i]
		size := len(turn.User) + len(turn.Assistant)
		if total > 0 && total+size > historyTranscriptMaxChars {
			break
		}
		total += size
		kept = append(kept, turn)
	}

	var out []llmclient.Message
	for i := len(kept) - 1; i >= 0; i-- {
		turn := kept[i]
		if strings.TrimSpace(turn.User) != "" {
			out = append(out, llmclient.Message{Role: "user", Content: turn.User})
		}
		if strings.TrimSpace(turn.Assistant) != "" {
			out = append(out, llmclient.Message{Role: "assistant", Content: turn.Assistant})
		}
	}
	return out
}

// mediaParts adapts the decoder's media shape to assetsink's, mapping
// DataURL onto Part.URL (which accepts either a data: URL or a plain one).
func mediaParts(media []llmclient.MediaPart) []assetsink.Part {
	out := make([]assetsink.Part, 0, len(media))
	for _, m := range media {
		out = append(out, assetsink.Part{
			Kind:       m.Kind,
			MIMEType:   m.MIMEType,
			Filename:   m.Filename,
			URL:        m.DataURL,
			Base64Data: m.Base64Data,
		})
	}
	return out
}

// maxStepsFinalText decides the terminal text for a turn that exhausted
// maxSteps without a final answer or a forced_text abort. When the turn
// left any files behind, it returns "" so Finish's own file-presence
// branches take over (the original prefers "files generated" over a
// max-steps complaint whenever there is output to show for it).
func maxStepsFinalText(exports []outputpipeline.ExportRequest, sessionDir string) string {
	if len(exports) > 0 || sessionHasFiles(sessionDir) {
		return ""
	}
	return "Exceeded the maximum number of steps without producing a final result."
}

func sessionHasFiles(sessionDir string) bool {
	found := false
	_ = filepath.WalkDir(sessionDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || found {
			return nil
		}
		if d.IsDir() {
			if path != sessionDir && d.Name() == "_skill_cache" {
				return filepath.SkipDir
			}
			return nil
		}
		found = true
		return nil
	})
	return found
}

// decodeToolResult unwraps a ToolFunc's single text output back into a
// generic map, since every tool in this registry encodes its result as
// textJSON(map[string]any{...}).
func decodeToolResult(outputs []llmtoolsgoSpec.ToolStoreOutputUnion) map[string]any {
	if len(outputs) == 0 || outputs[0].TextItem == nil {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(outputs[0].TextItem.Text), &result); err != nil {
		return map[string]any{"raw": outputs[0].TextItem.Text}
	}
	return result
}

// dispatchOne invokes one tool call by name. A progressive-disclosure
// ledger violation is reported back as (structured error result, nudge,
// true) instead of a fatal error, matching toolregistry.Bind's propagation
// of ledgerError as the bound ToolFunc's own Go error. The structured
// result carries the spec's precondition error code
// (skill_md_required/skill_files_listing_required) as its own tool-result
// content, separate from the nudge message injected alongside it.
func dispatchOne(ctx context.Context, bound map[llmtoolsgoSpec.FuncID]llmtoolsgoSpec.ToolFunc, name string, args map[string]any) (result map[string]any, nudge string, isLedgerViol bool) {
	funcID, ok := sharedToolIndex.slugToFuncID[name]
	if !ok {
		return map[string]any{"error": "unknown_tool", "name": name}, "", false
	}
	fn := bound[funcID]
	if fn == nil {
		return map[string]any{"error": "unknown_tool", "name": name}, "", false
	}
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return map[string]any{"error": "invalid_tool_arguments", "detail": err.Error()}, "", false
	}

	outputs, err := fn(ctx, raw)
	if err != nil {
		var ledgerErr *ledgerError
		if errors.As(err, &ledgerErr) {
			sharedMetrics.recordToolCall(name, "ledger_violation")
			return map[string]any{
				"error":      ledgerErr.kind.Error(),
				"skill_name": ledgerErr.skill,
				"tool":       ledgerErr.tool,
			}, ledgerErr.nudge(), true
		}
		sharedMetrics.recordToolCall(name, "error")
		return map[string]any{"error": "internal_error", "detail": err.Error()}, "", false
	}
	result = decodeToolResult(outputs)
	if _, hasErr := result["error"]; hasErr {
		sharedMetrics.recordToolCall(name, "tool_error")
	} else {
		sharedMetrics.recordToolCall(name, "success")
	}
	return result, "", false
}

// surfaceStderr emits a redacted EventStderr immediately after a nonzero
// exit from a command tool, independent of whether the turn goes on to
// terminate normally.
func surfaceStderr(toolName string, result map[string]any, dispatcher *turnDispatcher, out chan<- Event) {
	if toolName != "run_skill_command" && toolName != "run_temp_command" {
		return
	}
	rc, ok := result["returncode"].(float64)
	if !ok || rc == 0 {
		return
	}
	stderrText, _ := result["stderr"].(string)
	if strings.TrimSpace(stderrText) == "" {
		return
	}
	redacted := outputpipeline.Redact(stderrText, dispatcher.sessionDir, dispatcher.skillsRoot)
	out <- Event{Kind: EventStderr, Text: redacted}
}

func noExecutableFoundText(result map[string]any) string {
	return fmt.Sprintf(
		"The requested skill command has no resolvable executable (module=%q). I can create a "+
			"script under the session temp directory and install any required dependencies to "+
			"proceed, but I need your authorization first. Reply to allow or deny.",
		stringOr(result["module"]),
	)
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

func noExecutableFoundResume(dispatcher *turnDispatcher, result map[string]any) *sessionstore.ResumeRecord {
	return &sessionstore.ResumeRecord{
		Pending:    true,
		SessionDir: dispatcher.sessionDir,
		Reason:     "no_executable_found",
		Skill:      stringOr(result["skill"]),
		Module:     stringOr(result["module"]),
		CreatedAt:  time.Now(),
	}
}

// dispatchToolCalls runs every native tool call the model requested in one
// step, appending a "tool" role result message per call. A ledger
// precondition violation appends both the structured error result (as the
// call's own tool-result content, marked IsError) and a separate user-role
// nudge message, mirroring the original's pairing of a ToolPromptMessage
// carrying the dict with a distinct nudge UserPromptMessage; it does not
// abort the turn. A run_skill_command reporting no_executable_found aborts
// the turn and asks the caller to persist a resume record for the consent
// flow.
func (l *Loop) dispatchToolCalls(
	ctx context.Context,
	toolCalls []llmclient.ToolCall,
	dispatcher *turnDispatcher,
	bound map[llmtoolsgoSpec.FuncID]llmtoolsgoSpec.ToolFunc,
	messages *[]llmclient.Message,
	out chan<- Event,
) (forcedText string, resumeRec *sessionstore.ResumeRecord, aborted bool) {
	for _, tc := range toolCalls {
		result, nudge, isLedgerViol := dispatchOne(ctx, bound, tc.Name, tc.Arguments)
		if isLedgerViol {
			resultJSON, _ := json.Marshal(result)
			*messages = append(*messages, llmclient.Message{
				Role:        "tool",
				ToolResults: []llmclient.ToolResult{{ToolCallID: tc.ID, Content: string(resultJSON), IsError: true}},
			})
			*messages = append(*messages, llmclient.Message{Role: "user", Content: nudge})
			continue
		}

		resultJSON, _ := json.Marshal(result)
		*messages = append(*messages, llmclient.Message{
			Role:        "tool",
			ToolResults: []llmclient.ToolResult{{ToolCallID: tc.ID, Content: string(resultJSON)}},
		})

		surfaceStderr(tc.Name, result, dispatcher, out)

		if tc.Name == "run_skill_command" && result["error"] == "no_executable_found" {
			return noExecutableFoundText(result), noExecutableFoundResume(dispatcher, result), true
		}
	}
	return "", nil, false
}

// dispatchEnvelopeToolCall is the JSON-fallback-protocol equivalent of
// dispatchToolCalls for a single {"type":"tool",...} envelope, following
// the original's duplicated (but identical) ledger-gate and dispatch logic
// for models that do not support native function-calling.
func (l *Loop) dispatchEnvelopeToolCall(
	ctx context.Context,
	env protocol.Envelope,
	dispatcher *turnDispatcher,
	bound map[llmtoolsgoSpec.FuncID]llmtoolsgoSpec.ToolFunc,
	messages *[]llmclient.Message,
	out chan<- Event,
) (forcedText string, resumeRec *sessionstore.ResumeRecord, aborted bool) {
	var args map[string]any
	if len(env.Arguments) > 0 {
		_ = json.Unmarshal(env.Arguments, &args)
	}

	result, nudge, isLedgerViol := dispatchOne(ctx, bound, env.Name, args)
	if isLedgerViol {
		resultJSON, _ := json.Marshal(map[string]any{"name": env.Name, "result": result})
		*messages = append(*messages, llmclient.Message{Role: "assistant", Content: "TOOL_RESULT\n" + string(resultJSON)})
		*messages = append(*messages, llmclient.Message{Role: "user", Content: nudge})
		return "", nil, false
	}

	resultJSON, _ := json.Marshal(map[string]any{"name": env.Name, "result": result})
	*messages = append(*messages, llmclient.Message{Role: "assistant", Content: "TOOL_RESULT\n" + string(resultJSON)})

	surfaceStderr(env.Name, result, dispatcher, out)

	if env.Name == "run_skill_command" && result["error"] == "no_executable_found" {
		return noExecutableFoundText(result), noExecutableFoundResume(dispatcher, result), true
	}
	return "", nil, false
}
