// Package skillagent is the top-level entry point for embedding the
// skill-executing agent runtime in a host program. Runtime is a thin
// wrapper around agentloop.Loop that adds structured logging around each
// turn; all turn-driving semantics (session resolution, prompt assembly,
// tool dispatch, output finalization) live in agentloop.
package skillagent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/flexigpt/skillagent-go/agentloop"
	"github.com/flexigpt/skillagent-go/llmclient"
	"github.com/flexigpt/skillagent-go/procexec"
	"github.com/flexigpt/skillagent-go/sessionstore"
)

// Runtime drives conversation turns for one skills_root against one
// llmclient.Provider and sessionstore.Store.
type Runtime struct {
	loop   *agentloop.Loop
	logger *slog.Logger
}

// New builds a Runtime around a freshly constructed agentloop.Loop.
// skillsRoot and systemPreface are forwarded to agentloop.New verbatim.
func New(
	skillsRoot, systemPreface string,
	provider llmclient.Provider,
	store *sessionstore.Store,
	executor *procexec.Executor,
	opts ...Option,
) *Runtime {
	rt := &Runtime{logger: slog.Default()}
	var loopOpts []agentloop.Option
	for _, o := range opts {
		if o == nil {
			continue
		}
		o(rt, &loopOpts)
	}
	rt.loop = agentloop.New(skillsRoot, systemPreface, provider, store, executor, loopOpts...)
	return rt
}

// Logger returns the Runtime's current logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Run drives one turn to completion, logging its start and any immediate
// dispatch error, then returns agentloop's Event channel unchanged.
func (rt *Runtime) Run(ctx context.Context, req agentloop.Request) (<-chan agentloop.Event, error) {
	start := time.Now()
	convKey := strings.TrimSpace(req.ConvKey)

	events, err := rt.loop.Run(ctx, req)
	if err != nil {
		rt.logger.Warn("turn failed to start", "conv_key", convKey, "err", err)
		return nil, err
	}
	rt.logger.Info("turn started", "conv_key", convKey, "setup_elapsed", time.Since(start))
	return events, nil
}
