package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ppiankov/quorum/internal/model"
)

// OpenAIGateway talks to an OpenAI-compatible chat completions API.
type OpenAIGateway struct {
	client   *openai.Client
	endpoint model.Endpoint
}

// NewOpenAIGateway creates a gateway for a remote OpenAI-compatible endpoint.
func NewOpenAIGateway(ep model.Endpoint) (*OpenAIGateway, error) {
	if ep.APIKey == "" {
		return nil, fmt.Errorf("endpoint %s: API key is required", ep.Name)
	}
	clientConfig := openai.DefaultConfig(ep.APIKey)
	if ep.BaseURL != "" {
		clientConfig.BaseURL = ep.BaseURL
	}
	return &OpenAIGateway{
		client:   openai.NewClientWithConfig(clientConfig),
		endpoint: ep,
	}, nil
}

// Name returns the endpoint name.
func (g *OpenAIGateway) Name() string { return g.endpoint.Name }

// Healthy checks the endpoint with a lightweight model listing call.
func (g *OpenAIGateway) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := g.client.ListModels(ctx)
	return err == nil
}

// Call issues one chat completion and extracts the JSON object from the
// response. The supplied timeout is enforced here regardless of any
// provider-side transport settings.
func (g *OpenAIGateway) Call(ctx context.Context, role Role, prompt string, timeout time.Duration) (json.RawMessage, error) {
	params := paramsFor(role)

	m := g.endpoint.Model
	if m == "" {
		m = openai.GPT4oMini
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, classify(g.endpoint.Name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindParse, Model: g.endpoint.Name, Err: fmt.Errorf("empty completion")}
	}

	return ExtractJSON(g.endpoint.Name, resp.Choices[0].Message.Content)
}
