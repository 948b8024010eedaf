package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPProvider is a Provider backed by an OpenAI-compatible chat-completions
// endpoint. It exists so cmd/skillagent has something concrete to drive
// without pulling in a vendor SDK the example pack never wires for this
// module's domain; it is not meant to replace a host's own Provider, which
// is why agentloop.New takes a Provider rather than owning one.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

// NewHTTPProvider builds an HTTPProvider against baseURL (e.g.
// "https://api.openai.com/v1"), using apiKey as a bearer token.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		client:  http.DefaultClient,
	}
}

func (p *HTTPProvider) Name() string       { return "http" }
func (p *HTTPProvider) SupportsTools() bool { return true }

type chatMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content,omitempty"`
	ToolCalls []chatToolReq `json:"tool_calls,omitempty"`
}

type chatToolReq struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function chatToolReqFunc `json:"function"`
}

type chatToolReqFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatToolSpec struct {
	Type     string           `json:"type"`
	Function chatToolSpecFunc `json:"function"`
}

type chatToolSpecFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []chatToolSpec `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete sends req as one chat-completions call and replays the full
// response as a single chunk sequence (one text chunk for non-empty content,
// one ToolCall chunk per tool call, then a terminal Done chunk), since the plain HTTP endpoint this provider targets
// does not stream.
func (p *HTTPProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error) {
	body := toChatRequest(req)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llmclient: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llmclient: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llmclient: provider returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llmclient: decode response: %w", err)
	}

	ch := make(chan *Chunk, 4)
	go func() {
		defer close(ch)
		if len(parsed.Choices) == 0 {
			ch <- &Chunk{Done: true}
			return
		}
		choice := parsed.Choices[0]
		if choice.Message.Content != "" {
			ch <- &Chunk{Text: choice.Message.Content}
		}
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			ch <- &Chunk{ToolCall: &ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args}}
		}
		ch <- &Chunk{Done: true, StopReason: choice.FinishReason}
	}()
	return ch, nil
}

func toChatRequest(req *CompletionRequest) chatRequest {
	out := chatRequest{Model: req.Model}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		cm := chatMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			cm.ToolCalls = append(cm.ToolCalls, chatToolReq{
				ID:   tc.ID,
				Type: "function",
				Function: chatToolReqFunc{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		for _, tr := range m.ToolResults {
			out.Messages = append(out.Messages, chatMessage{Role: "tool", Content: tr.Content})
		}
		if cm.Content != "" || len(cm.ToolCalls) > 0 {
			out.Messages = append(out.Messages, cm)
		}
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatToolSpec{
			Type: "function",
			Function: chatToolSpecFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
