package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flexigpt/skillagent-go/agentloop"
	"github.com/flexigpt/skillagent-go/llmclient"
	"github.com/flexigpt/skillagent-go/procexec"
	"github.com/flexigpt/skillagent-go/sessionstore"
)

// requestFile is the on-disk shape "run" and "serve" both accept, matching
// agentloop.Request's fields verbatim so either command can feed requests
// straight from a JSON file or a JSON-lines stream.
type requestFile struct {
	ConvKey string                `json:"conv_key"`
	Query   string                `json:"query"`
	Model   string                `json:"model"`
	Uploads []agentloop.UploadRef `json:"uploads,omitempty"`
}

func buildRunCmd() *cobra.Command {
	var (
		skillsRoot   string
		systemPrompt string
		requestPath  string
		stateDir     string
		tempDir      string
		providerURL  string
		apiKeyEnv    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one turn against a JSON request file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(requestPath)
			if err != nil {
				return fmt.Errorf("read request file: %w", err)
			}
			var rf requestFile
			if err := json.Unmarshal(raw, &rf); err != nil {
				return fmt.Errorf("parse request file: %w", err)
			}
			loop, err := buildLoop(skillsRoot, systemPrompt, stateDir, tempDir, providerURL, apiKeyEnv)
			if err != nil {
				return err
			}
			return runOneTurn(cmd.Context(), loop, rf)
		},
	}
	cmd.Flags().StringVar(&skillsRoot, "skills-root", "", "Directory containing skill subdirectories")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "You are a helpful agent.", "Host-supplied system prompt preface")
	cmd.Flags().StringVar(&requestPath, "request", "", "Path to a JSON request file")
	cmd.Flags().StringVar(&stateDir, "state-dir", ".skillagent/state", "Directory for conversation-state files")
	cmd.Flags().StringVar(&tempDir, "temp-dir", ".skillagent/sessions", "Directory for session scratch directories")
	cmd.Flags().StringVar(&providerURL, "provider-url", "https://api.openai.com/v1", "OpenAI-compatible chat-completions base URL")
	cmd.Flags().StringVar(&apiKeyEnv, "api-key-env", "SKILLAGENT_API_KEY", "Environment variable holding the provider API key")
	_ = cmd.MarkFlagRequired("skills-root")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func buildLoop(skillsRoot, systemPrompt, stateDir, tempDir, providerURL, apiKeyEnv string) (*agentloop.Loop, error) {
	kv, err := newFileKV(stateDir)
	if err != nil {
		return nil, fmt.Errorf("open state dir: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	store := sessionstore.New(kv, tempDir)
	executor := procexec.New()
	provider := llmclient.NewHTTPProvider(providerURL, os.Getenv(apiKeyEnv))
	return agentloop.New(skillsRoot, systemPrompt, provider, store, executor), nil
}

func runOneTurn(ctx context.Context, loop *agentloop.Loop, rf requestFile) error {
	events, err := loop.Run(ctx, agentloop.Request{
		ConvKey: rf.ConvKey,
		Query:   rf.Query,
		Model:   rf.Model,
		Uploads: rf.Uploads,
	})
	if err != nil {
		return err
	}
	for ev := range events {
		switch ev.Kind {
		case agentloop.EventText:
			fmt.Print(ev.Text)
		case agentloop.EventStderr:
			fmt.Fprintf(os.Stderr, "[stderr] %s\n", ev.Text)
		case agentloop.EventBlob:
			fmt.Fprintf(os.Stderr, "[file] %s (%s, %d bytes)\n", ev.Filename, ev.MIMEType, len(ev.Blob))
		}
	}
	fmt.Println()
	return nil
}
