package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ── Hosted inference endpoint ───────────────────────────────

const defaultHuggingFaceEndpoint = "https://api-inference.huggingface.co"

// HuggingFace talks to a hosted text-generation inference endpoint.
type HuggingFace struct {
	desc   Descriptor
	client *http.Client
}

// NewHuggingFace creates a hosted inference adapter.
func NewHuggingFace(desc Descriptor, client *http.Client) *HuggingFace {
	if desc.Endpoint == "" {
		desc.Endpoint = defaultHuggingFaceEndpoint
	}
	if desc.Model == "" {
		desc.Model = "mistralai/Mistral-7B-Instruct-v0.2"
	}
	if client == nil {
		client = DefaultHTTPClient()
	}
	desc.Endpoint = strings.TrimRight(desc.Endpoint, "/")
	return &HuggingFace{desc: desc, client: client}
}

func (a *HuggingFace) Name() string { return a.desc.Name }
func (a *HuggingFace) Kind() Kind   { return KindHuggingFace }

type hfParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens,omitempty"`
	Temperature    float64 `json:"temperature"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
	UseCache     bool `json:"use_cache"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
	Options    hfOptions    `json:"options"`
}

var huggingFaceShapes = []textShape{generatedTextListShape, generatedTextShape, responseShape, chatChoiceShape}

// Invoke sends the prompt as raw inputs. The system prompt, if any, is
// folded into the inputs since the endpoint has no role concept.
func (a *HuggingFace) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if a.desc.APIKey == "" {
		return nil, newError(a.desc.Name, ErrAuthRejected, "api token not configured", nil)
	}

	inputs := req.Prompt
	if req.SystemPrompt != "" {
		inputs = req.SystemPrompt + "\n\n" + req.Prompt
	}

	body, err := postJSON(ctx, a.client, a.desc.Name, a.desc.Endpoint+"/models/"+a.desc.Model, bearer(a.desc.APIKey), hfRequest{
		Inputs: inputs,
		Parameters: hfParameters{
			MaxNewTokens:   req.MaxTokens,
			Temperature:    req.Temperature,
			ReturnFullText: false,
		},
		Options: hfOptions{WaitForModel: true, UseCache: false},
	})
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && modelLoading(body) {
			pe.Kind = ErrBackendOverloaded
		}
		return nil, err
	}
	if modelLoading(body) {
		return nil, newError(a.desc.Name, ErrBackendOverloaded, "model is loading", nil)
	}

	text, err := matchText(a.desc.Name, body, huggingFaceShapes...)
	if err != nil {
		return nil, err
	}

	// Some deployments ignore return_full_text and echo the inputs.
	text = strings.TrimPrefix(text, inputs)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newError(a.desc.Name, ErrInvalidResponseShape, "generated text only echoed the prompt", nil)
	}
	return &Result{Text: text, Raw: body}, nil
}

// HealthCheck queries the model status endpoint.
func (a *HuggingFace) HealthCheck(ctx context.Context) error {
	return probe(ctx, a.client, a.desc.Name, a.desc.Endpoint+"/status/"+a.desc.Model, bearer(a.desc.APIKey))
}

// modelLoading detects the {"error":"Model ... is currently loading"} body.
func modelLoading(body []byte) bool {
	var e struct {
		Error         string  `json:"error"`
		EstimatedTime float64 `json:"estimated_time"`
	}
	if len(body) == 0 || json.Unmarshal(body, &e) != nil {
		return false
	}
	return e.EstimatedTime > 0 || strings.Contains(strings.ToLower(e.Error), "loading")
}
