package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/quorum/internal/model"
)

// Registry holds one Gateway per configured endpoint and funnels every
// call through the shared rate limiter.
type Registry struct {
	gateways map[string]Gateway
	order    []string
	limiter  *Limiter
}

// NewRegistry builds gateways for all configured endpoints.
func NewRegistry(cfg *model.Config) (*Registry, error) {
	r := &Registry{
		gateways: make(map[string]Gateway),
		limiter:  NewLimiter(cfg.Gateway.RequestsPerSecond, cfg.Gateway.Burst),
	}
	for _, ep := range cfg.Endpoints() {
		gw, err := newGateway(ep)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}
		r.gateways[ep.Name] = gw
		r.order = append(r.order, ep.Name)
	}
	return r, nil
}

func newGateway(ep model.Endpoint) (Gateway, error) {
	switch strings.ToLower(ep.Provider) {
	case "openai":
		key := ep.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		ep.APIKey = key
		return NewOpenAIGateway(ep)
	case "local", "":
		return NewLocalGateway(ep)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: openai, local)", ep.Provider)
	}
}

// Call dispatches one model call by endpoint name, honoring the rate limit.
func (r *Registry) Call(ctx context.Context, endpoint string, role Role, prompt string, timeout time.Duration) (json.RawMessage, error) {
	gw, ok := r.gateways[endpoint]
	if !ok {
		return nil, &Error{Kind: KindTransport, Model: endpoint, Err: fmt.Errorf("endpoint not configured")}
	}
	if err := r.limiter.Wait(ctx, endpoint); err != nil {
		return nil, classify(endpoint, err)
	}
	return gw.Call(ctx, role, prompt, timeout)
}

// Healthy probes one endpoint.
func (r *Registry) Healthy(ctx context.Context, endpoint string) bool {
	gw, ok := r.gateways[endpoint]
	return ok && gw.Healthy(ctx)
}

// Names lists endpoints in configuration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
