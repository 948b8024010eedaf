package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedStream is returned when a provider channel emits an excessive
// run of empty chunks without ever signaling Done or Error — the streaming
// equivalent of a hung connection.
var ErrMalformedStream = errors.New("llmclient: malformed stream (too many empty events)")

// maxEmptyStreamEvents bounds how many consecutive no-op chunks (no text, no
// tool call, no media, not done) Decode tolerates before giving up. Mirrors
// the anthropic provider's own malformed-stream guard.
const maxEmptyStreamEvents = 300

// Decoded is the accumulated result of draining a Provider's chunk stream.
type Decoded struct {
	Text         string
	ToolCalls    []ToolCall
	Media        []MediaPart
	ChunkCount   int
	StreamedAny  bool
	StopReason   string
}

// OnTextDelta, when non-nil, is invoked with each incremental text delta as
// it arrives, letting AgentLoop forward user-visible output without waiting
// for the stream to finish.
type OnTextDelta func(delta string)

// Decode drains chunks, accumulating text monotonically, appending tool
// calls in arrival order, and collecting media parts verbatim. It returns
// as soon as the channel closes or yields a Done chunk or an Error chunk.
// Decode is strictly single-threaded-cooperative: onDelta is invoked
// synchronously between chunk reads, so callers that stream deltas to a
// user never see reordering.
func Decode(ctx context.Context, chunks <-chan *Chunk, onDelta OnTextDelta) (Decoded, error) {
	var out Decoded
	var text strings.Builder
	emptyRun := 0

	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				out.Text = text.String()
				return out, nil
			}
			if chunk == nil {
				emptyRun++
				if emptyRun > maxEmptyStreamEvents {
					return out, ErrMalformedStream
				}
				continue
			}
			out.ChunkCount++

			if chunk.Error != nil {
				out.Text = text.String()
				return out, fmt.Errorf("llmclient: stream error: %w", chunk.Error)
			}

			meaningful := false
			if chunk.Text != "" {
				meaningful = true
				text.WriteString(chunk.Text)
				out.StreamedAny = true
				if onDelta != nil {
					onDelta(chunk.Text)
				}
			}
			if chunk.ToolCall != nil {
				meaningful = true
				out.ToolCalls = append(out.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Media != nil {
				meaningful = true
				out.Media = append(out.Media, *chunk.Media)
			}
			if chunk.StopReason != "" {
				out.StopReason = chunk.StopReason
			}

			if chunk.Done {
				out.Text = text.String()
				return out, nil
			}
			if !meaningful {
				emptyRun++
				if emptyRun > maxEmptyStreamEvents {
					return out, ErrMalformedStream
				}
				continue
			}
			emptyRun = 0
		}
	}
}
