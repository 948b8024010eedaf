package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/flexigpt/skillagent-go/agentloop"
)

func buildServeCmd() *cobra.Command {
	var (
		skillsRoot   string
		systemPrompt string
		stateDir     string
		tempDir      string
		providerURL  string
		apiKeyEnv    string
		metricsAddr  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read JSON-lines requests from stdin, write turn text to stdout",
		Long: `Each input line is a JSON object matching the "run" command's request file
shape. One turn runs per line; its Event stream is flattened to stdout text,
terminated by a blank line once the turn completes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loop, err := buildLoop(skillsRoot, systemPrompt, stateDir, tempDir, providerURL, apiKeyEnv)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				go serveMetrics(metricsAddr)
			}
			return serveLoop(cmd.Context(), loop)
		},
	}
	cmd.Flags().StringVar(&skillsRoot, "skills-root", "", "Directory containing skill subdirectories")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "You are a helpful agent.", "Host-supplied system prompt preface")
	cmd.Flags().StringVar(&stateDir, "state-dir", ".skillagent/state", "Directory for conversation-state files")
	cmd.Flags().StringVar(&tempDir, "temp-dir", ".skillagent/sessions", "Directory for session scratch directories")
	cmd.Flags().StringVar(&providerURL, "provider-url", "https://api.openai.com/v1", "OpenAI-compatible chat-completions base URL")
	cmd.Flags().StringVar(&apiKeyEnv, "api-key-env", "SKILLAGENT_API_KEY", "Environment variable holding the provider API key")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
	_ = cmd.MarkFlagRequired("skills-root")
	return cmd
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	_ = http.ListenAndServe(addr, mux)
}

func serveLoop(ctx context.Context, loop *agentloop.Loop) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if len(text) == 0 {
			continue
		}
		var rf requestFile
		if err := json.Unmarshal([]byte(text), &rf); err != nil {
			fmt.Fprintf(out, "error: line %d: %v\n\n", line, err)
			out.Flush()
			continue
		}
		events, err := loop.Run(ctx, agentloop.Request{
			ConvKey: rf.ConvKey,
			Query:   rf.Query,
			Model:   rf.Model,
			Uploads: rf.Uploads,
		})
		if err != nil {
			fmt.Fprintf(out, "error: line %d: %v\n\n", line, err)
			out.Flush()
			continue
		}
		for ev := range events {
			if ev.Kind == agentloop.EventText {
				out.WriteString(ev.Text)
			}
		}
		out.WriteString("\n\n")
		out.Flush()
	}
	return scanner.Err()
}
