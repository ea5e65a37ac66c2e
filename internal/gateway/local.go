package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/quorum/internal/model"
)

// LocalGateway talks to a llama.cpp-style completion server running a
// local model. Timeouts come from the per-call context, not the client.
type LocalGateway struct {
	endpoint   model.Endpoint
	baseURL    string
	httpClient *http.Client
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature float32  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

// completionResponse covers the response shapes of llama.cpp and its
// OpenAI-compatible mode.
type completionResponse struct {
	Content string `json:"content"`
	Text    string `json:"text"`
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// NewLocalGateway creates a gateway for a local completion endpoint.
func NewLocalGateway(ep model.Endpoint) (*LocalGateway, error) {
	if ep.BaseURL == "" {
		return nil, fmt.Errorf("endpoint %s: base_url is required for local provider", ep.Name)
	}
	return &LocalGateway{
		endpoint:   ep,
		baseURL:    strings.TrimSuffix(ep.BaseURL, "/"),
		httpClient: &http.Client{},
	}, nil
}

// Name returns the endpoint name.
func (g *LocalGateway) Name() string { return g.endpoint.Name }

// Healthy probes the server's health endpoint.
func (g *LocalGateway) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Call posts one completion request and extracts the JSON object from the
// generated text.
func (g *LocalGateway) Call(ctx context.Context, role Role, prompt string, timeout time.Duration) (json.RawMessage, error) {
	params := paramsFor(role)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stop:        []string{"</s>"},
		Stream:      false,
	})
	if err != nil {
		return nil, classify(g.endpoint.Name, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, classify(g.endpoint.Name, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, classify(g.endpoint.Name, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classify(g.endpoint.Name, fmt.Errorf("read response: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:  KindTransport,
			Model: g.endpoint.Name,
			Err:   fmt.Errorf("status %d: %s", httpResp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	var resp completionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &Error{Kind: KindParse, Model: g.endpoint.Name, Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	text := resp.Content
	if text == "" && len(resp.Choices) > 0 {
		text = resp.Choices[0].Text
	}
	if text == "" {
		text = resp.Text
	}

	return ExtractJSON(g.endpoint.Name, text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
