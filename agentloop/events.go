package agentloop

import "github.com/flexigpt/skillagent-go/outputpipeline"

// EventKind classifies one item in a turn's output stream.
type EventKind int

const (
	// EventText is a chunk of user-visible text.
	EventText EventKind = iota
	// EventBlob is a file emitted at turn termination.
	EventBlob
	// EventStderr is a command's redacted stderr (not truncated), surfaced
	// immediately after a nonzero-exit command whose stderr is non-empty,
	// independent of whether the turn later terminates.
	EventStderr
)

// Event is one item sent on a turn's output channel.
type Event struct {
	Kind     EventKind
	Text     string
	Blob     []byte
	MIMEType string
	Filename string
}

// chanSink adapts a send-only Event channel to outputpipeline.EventSink, so
// OutputPipeline's Finish can emit directly onto the channel Run returns to
// its caller.
type chanSink struct {
	out chan<- Event
}

func (s chanSink) Text(text string) {
	s.out <- Event{Kind: EventText, Text: text}
}

func (s chanSink) Blob(content []byte, meta outputpipeline.BlobMeta) {
	s.out <- Event{Kind: EventBlob, Blob: content, MIMEType: meta.MIMEType, Filename: meta.Filename}
}
