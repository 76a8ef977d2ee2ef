package provider

import (
	"context"
	"net/http"
	"strings"
)

// ── OpenAI-compatible chat completions ──────────────────────

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAI talks to a chat-completion API with a system/user role pair.
type OpenAI struct {
	desc   Descriptor
	client *http.Client
}

// NewOpenAI creates a chat-completion adapter.
func NewOpenAI(desc Descriptor, client *http.Client) *OpenAI {
	if desc.Endpoint == "" {
		desc.Endpoint = defaultOpenAIEndpoint
	}
	if desc.Model == "" {
		desc.Model = "gpt-4o-mini"
	}
	if client == nil {
		client = DefaultHTTPClient()
	}
	desc.Endpoint = strings.TrimRight(desc.Endpoint, "/")
	return &OpenAI{desc: desc, client: client}
}

func (a *OpenAI) Name() string { return a.desc.Name }
func (a *OpenAI) Kind() Kind   { return KindOpenAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

var openAIShapes = []textShape{chatChoiceShape, completionChoiceShape, messageShape, responseShape}

// Invoke sends the prompt as a chat completion.
func (a *OpenAI) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if a.desc.APIKey == "" {
		return nil, newError(a.desc.Name, ErrAuthRejected, "api key not configured", nil)
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := postJSON(ctx, a.client, a.desc.Name, a.desc.Endpoint+"/chat/completions", bearer(a.desc.APIKey), openAIRequest{
		Model:       a.desc.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	text, err := matchText(a.desc.Name, body, openAIShapes...)
	if err != nil {
		return nil, err
	}
	return &Result{Text: strings.TrimSpace(text), Raw: body}, nil
}

// HealthCheck lists models, which also validates the credential.
func (a *OpenAI) HealthCheck(ctx context.Context) error {
	return probe(ctx, a.client, a.desc.Name, a.desc.Endpoint+"/models", bearer(a.desc.APIKey))
}
