package skillagent

import (
	"log/slog"

	"github.com/flexigpt/skillagent-go/agentloop"
)

// Option configures a Runtime and, optionally, the agentloop.Loop it
// wraps.
type Option func(rt *Runtime, loopOpts *[]agentloop.Option)

// WithLogger overrides the default slog.Default() logger used around turn
// boundaries.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime, _ *[]agentloop.Option) {
		if l != nil {
			rt.logger = l
		}
	}
}

// WithLoopOption forwards an agentloop.Option to the underlying Loop, so
// callers can reach WithMaxSteps/WithMemoryTurns/WithHistoryTurns/
// WithBanner/WithFetcher without importing agentloop directly.
func WithLoopOption(o agentloop.Option) Option {
	return func(_ *Runtime, loopOpts *[]agentloop.Option) {
		if o != nil {
			*loopOpts = append(*loopOpts, o)
		}
	}
}
