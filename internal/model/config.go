package model

import "time"

// Endpoint binds a logical model to a provider. Provider selection is
// configuration data, not a type hierarchy.
type Endpoint struct {
	Name     string `yaml:"name" json:"name"`
	Provider string `yaml:"provider" json:"provider"` // "openai" or "local"
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// ModelsConfig assigns endpoints to pipeline roles.
type ModelsConfig struct {
	FirstOpinion []Endpoint `yaml:"first_opinion" json:"first_opinion"`
	Extractor    Endpoint   `yaml:"extractor" json:"extractor"`
	Reviewers    []Endpoint `yaml:"reviewers" json:"reviewers"`
	Chairman     Endpoint   `yaml:"chairman" json:"chairman"`
}

// GatewayConfig tunes the model gateway transport.
type GatewayConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
}

// PipelineConfig tunes orchestration behavior.
type PipelineConfig struct {
	MaxQueryLength  int     `yaml:"max_query_length" json:"max_query_length"`
	MinQueryLength  int     `yaml:"min_query_length" json:"min_query_length"`
	FallbackPenalty float64 `yaml:"fallback_penalty" json:"fallback_penalty"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
	Dir     string        `yaml:"dir,omitempty" json:"dir,omitempty"` // enables the disk tier when set
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string   `yaml:"addr" json:"addr"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// OutputConfig controls CLI output behavior.
type OutputConfig struct {
	Verbose bool `yaml:"verbose" json:"verbose"`
}

// Config is the complete application configuration.
type Config struct {
	Models   ModelsConfig   `yaml:"models" json:"models"`
	Gateway  GatewayConfig  `yaml:"gateway" json:"gateway"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Output   OutputConfig   `yaml:"output" json:"output"`
}

// DefaultConfig returns the built-in defaults. The model set mirrors a
// two-opinion, two-reviewer council served by local llama.cpp endpoints,
// with an OpenAI-compatible chairman.
func DefaultConfig() *Config {
	return &Config{
		Models: ModelsConfig{
			FirstOpinion: []Endpoint{
				{Name: "Llama-7B", Provider: "local", BaseURL: "http://localhost:8001"},
				{Name: "GPT-OSS-20B", Provider: "local", BaseURL: "http://localhost:8005"},
			},
			Extractor: Endpoint{Name: "GPT-J-6B", Provider: "local", BaseURL: "http://localhost:8002"},
			Reviewers: []Endpoint{
				{Name: "Mistral-7B", Provider: "local", BaseURL: "http://localhost:8003"},
				{Name: "DeepSeek-7B", Provider: "local", BaseURL: "http://localhost:8004"},
			},
			Chairman: Endpoint{Name: "Chairman", Provider: "openai", Model: "gpt-4o-mini"},
		},
		Gateway: GatewayConfig{
			Timeout:           120 * time.Second,
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Pipeline: PipelineConfig{
			MaxQueryLength:  1000,
			MinQueryLength:  5,
			FallbackPenalty: 0.75,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     time.Hour,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// Endpoints returns every configured endpoint, deduplicated by name, in
// configuration order. Used by health checks and gateway construction.
func (c *Config) Endpoints() []Endpoint {
	var out []Endpoint
	seen := make(map[string]bool)
	add := func(e Endpoint) {
		if e.Name == "" || seen[e.Name] {
			return
		}
		seen[e.Name] = true
		out = append(out, e)
	}
	for _, e := range c.Models.FirstOpinion {
		add(e)
	}
	add(c.Models.Extractor)
	for _, e := range c.Models.Reviewers {
		add(e)
	}
	add(c.Models.Chairman)
	return out
}
