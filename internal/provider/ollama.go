package provider

import (
	"context"
	"net/http"
	"strings"
)

// ── Ollama local daemon ─────────────────────────────────────

const defaultOllamaEndpoint = "http://localhost:11434"

// Ollama talks to a local inference daemon through /api/generate.
type Ollama struct {
	desc   Descriptor
	client *http.Client
}

// NewOllama creates a local-daemon adapter.
func NewOllama(desc Descriptor, client *http.Client) *Ollama {
	if desc.Endpoint == "" {
		desc.Endpoint = defaultOllamaEndpoint
	}
	if desc.Model == "" {
		desc.Model = "llama3.2:3b"
	}
	if client == nil {
		client = DefaultHTTPClient()
	}
	desc.Endpoint = strings.TrimRight(desc.Endpoint, "/")
	return &Ollama{desc: desc, client: client}
}

func (a *Ollama) Name() string { return a.desc.Name }
func (a *Ollama) Kind() Kind   { return KindOllama }

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

var ollamaShapes = []textShape{responseShape, messageShape, generatedTextShape, generatedTextListShape}

// Invoke runs a non-streaming generation.
func (a *Ollama) Invoke(ctx context.Context, req *Request) (*Result, error) {
	body, err := postJSON(ctx, a.client, a.desc.Name, a.desc.Endpoint+"/api/generate", nil, ollamaGenerateRequest{
		Model:  a.desc.Model,
		Prompt: req.Prompt,
		System: req.SystemPrompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, err
	}

	text, err := matchText(a.desc.Name, body, ollamaShapes...)
	if err != nil {
		return nil, err
	}
	return &Result{Text: strings.TrimSpace(text), Raw: body}, nil
}

// HealthCheck lists local models via /api/tags.
func (a *Ollama) HealthCheck(ctx context.Context) error {
	return probe(ctx, a.client, a.desc.Name, a.desc.Endpoint+"/api/tags", nil)
}
