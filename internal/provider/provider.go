// Package provider implements the adapters that translate the orchestrator's
// canonical requests into each inference backend's wire format and back.
//
// Kinds shipped:
//   - openai:      cloud chat-completion API (system/user message pair)
//   - huggingface: hosted text-generation inference endpoint
//   - ollama:      local inference daemon (/api/generate)
//   - classifier:  image-classification service (multipart /predict)
//
// Adapters are stateless and safe for concurrent use. Every failure they
// return is a *Error carrying one of the closed ErrorKind values.
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Kind identifies a backend protocol.
type Kind string

const (
	KindOpenAI      Kind = "openai"
	KindHuggingFace Kind = "huggingface"
	KindOllama      Kind = "ollama"
	KindClassifier  Kind = "classifier"
)

// RequestKind identifies which pipeline a canonical request belongs to.
type RequestKind string

const (
	RequestClassify RequestKind = "classify"
	RequestAdvice   RequestKind = "advice"
)

// Serves reports whether a backend of kind k can satisfy requests of kind rk.
func (k Kind) Serves(rk RequestKind) bool {
	switch k {
	case KindClassifier:
		return rk == RequestClassify
	case KindOpenAI, KindHuggingFace, KindOllama:
		return rk == RequestAdvice
	default:
		return false
	}
}

// Request is the backend-agnostic request handed to an adapter.
type Request struct {
	Kind RequestKind

	// Advice path
	SystemPrompt string
	Prompt       string
	Temperature  float64
	MaxTokens    int

	// Classification path
	Image       []byte
	Filename    string
	ContentType string
	Fields      map[string]string
}

// Prediction is a raw label/confidence pair as reported by a classifier,
// before any validation. Confidence may still be a percentage.
type Prediction struct {
	Label      string
	Confidence float64
}

// Result is the canonical adapter output. Exactly one of Text or Prediction
// is set, depending on the request kind.
type Result struct {
	Text       string
	Prediction *Prediction
	Raw        json.RawMessage
}

// Adapter is implemented by every backend integration.
type Adapter interface {
	// Name returns the configured provider name (unique per deployment).
	Name() string

	// Kind returns the wire protocol the adapter speaks.
	Kind() Kind

	// Invoke sends the request. The deadline is carried by ctx.
	Invoke(ctx context.Context, req *Request) (*Result, error)

	// HealthCheck probes the backend's minimal liveness endpoint.
	HealthCheck(ctx context.Context) error
}

// Descriptor is the static configuration for one provider.
type Descriptor struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     Kind          `json:"kind" yaml:"kind"`
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	Model    string        `json:"model,omitempty" yaml:"model"`
	APIKey   string        `json:"-" yaml:"api_key"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`

	// Field is the multipart field name used by the classifier.
	Field string `json:"field,omitempty" yaml:"field"`

	// RequiresCredential providers are skipped outright when APIKey is empty.
	RequiresCredential bool `json:"requiresCredential" yaml:"requires_credential"`
	// RequiresHealth providers are skipped when the health cache reports them down.
	RequiresHealth bool `json:"requiresHealth" yaml:"requires_health"`
}

// HasCredential reports whether a credential is configured.
func (d Descriptor) HasCredential() bool {
	return d.APIKey != ""
}
