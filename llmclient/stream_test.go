package llmclient

import (
	"context"
	"errors"
	"testing"
)

func sendAll(chunks []*Chunk) <-chan *Chunk {
	ch := make(chan *Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestDecodeAccumulatesTextAndToolCalls(t *testing.T) {
	t.Parallel()

	chunks := sendAll([]*Chunk{
		{Text: "Hel"},
		{Text: "lo "},
		{ToolCall: &ToolCall{ID: "1", Name: "get_session_context"}},
		{Text: "world"},
		{Done: true},
	})

	var deltas []string
	got, err := Decode(context.Background(), chunks, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Text != "Hello world" {
		t.Fatalf("Text = %q, want %q", got.Text, "Hello world")
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "get_session_context" {
		t.Fatalf("unexpected tool calls: %+v", got.ToolCalls)
	}
	if len(deltas) != 3 {
		t.Fatalf("expected 3 text deltas forwarded, got %d: %v", len(deltas), deltas)
	}
}

func TestDecodeStreamError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	chunks := sendAll([]*Chunk{
		{Text: "partial"},
		{Error: wantErr},
	})

	_, err := Decode(context.Background(), chunks, nil)
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v, got %v", wantErr, err)
	}
}

func TestDecodeMalformedStream(t *testing.T) {
	t.Parallel()

	chunks := make(chan *Chunk, maxEmptyStreamEvents+10)
	for i := 0; i < maxEmptyStreamEvents+5; i++ {
		chunks <- &Chunk{}
	}
	close(chunks)

	_, err := Decode(context.Background(), chunks, nil)
	if !errors.Is(err, ErrMalformedStream) {
		t.Fatalf("expected ErrMalformedStream, got %v", err)
	}
}

func TestDecodeClosedChannelWithoutDone(t *testing.T) {
	t.Parallel()

	chunks := sendAll([]*Chunk{{Text: "only chunk, no Done flag"}})
	got, err := Decode(context.Background(), chunks, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Text != "only chunk, no Done flag" {
		t.Fatalf("Text = %q", got.Text)
	}
}

func TestDecodeContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chunks := make(chan *Chunk)
	_, err := Decode(ctx, chunks, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
