// Package orchestrator is the entry point for the two request flows:
// classifying an uploaded image and generating advice for a condition.
//
// Both flows always return a structured outcome. Soft validator rejections
// end in StateRejected; exhausted routing and invalid input end in
// StateFailed with a typed *Error carrying per-provider diagnostics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skinsight/skinsight/internal/prompt"
	"github.com/skinsight/skinsight/internal/provider"
	"github.com/skinsight/skinsight/internal/router"
	"github.com/skinsight/skinsight/internal/validator"
)

// DefaultMaxImageBytes bounds uploaded images when no limit is configured.
const DefaultMaxImageBytes = 10 << 20

// ErrInvalidInput is the outcome kind for requests rejected before routing.
const ErrInvalidInput provider.ErrorKind = "invalid_input"

// Sampling parameters for advice generation.
const (
	adviceTemperature = 0.7
	adviceMaxTokens   = 800
)

// Messages returned with soft rejections and completions.
const (
	MsgCompleted         = "Prediction completed successfully"
	MsgBelowThreshold    = "Unable to identify the condition with enough confidence. Please upload a clearer, well-lit photo of the affected area."
	MsgUnrecognizedLabel = "The detected condition is not one this service can identify. Please consult a dermatologist."
)

// State is a step of the per-request state machine.
type State string

const (
	StateReceived           State = "received"
	StateValidatingInput    State = "validating_input"
	StateBuildingPrompt     State = "building_prompt"
	StateRouting            State = "routing"
	StateValidatingResponse State = "validating_response"
	StateCompleted          State = "completed"
	StateRejected           State = "rejected"
	StateFailed             State = "failed"
)

// Error is the failure carried by a StateFailed outcome.
type Error struct {
	Kind     provider.ErrorKind
	Message  string
	Attempts []*provider.Error
	Skipped  []router.Skip
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is makes errors.Is(err, kind) work against the outcome kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(provider.ErrorKind)
	return ok && k == e.Kind
}

// Router is the routing dependency of the orchestrator.
type Router interface {
	Route(ctx context.Context, req *provider.Request) (*router.Routed, error)
}

// Orchestrator composes routing, validation and prompt rendering.
type Orchestrator struct {
	router        Router
	validator     *validator.Validator
	maxImageBytes int64
}

// New creates an orchestrator. A non-positive maxImageBytes selects
// DefaultMaxImageBytes.
func New(r Router, v *validator.Validator, maxImageBytes int64) *Orchestrator {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	return &Orchestrator{router: r, validator: v, maxImageBytes: maxImageBytes}
}

// flow tracks one request through the state machine.
type flow struct {
	id    string
	path  string
	trace []State
}

func newFlow(path string) *flow {
	f := &flow{id: uuid.New().String(), path: path}
	f.to(StateReceived)
	return f
}

func (f *flow) to(s State) {
	f.trace = append(f.trace, s)
	log.Debug().Str("request_id", f.id).Str("path", f.path).Str("state", string(s)).Msg("Request state")
}

// routeError converts a routing failure into an outcome error.
func routeError(err error) *Error {
	var ex *router.ExhaustedError
	if errors.As(err, &ex) {
		msg := "no provider could serve the request"
		if len(ex.Attempts) == 0 && len(ex.Skipped) == 0 {
			msg = "no provider is configured for this request"
		}
		return &Error{
			Kind:     provider.ErrNoProviderAvailable,
			Message:  msg,
			Attempts: ex.Attempts,
			Skipped:  ex.Skipped,
		}
	}
	pe := provider.AsError("", err)
	return &Error{Kind: pe.Kind, Message: pe.Error()}
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// ── Classification ──────────────────────────────────────────

// ClassificationRequest is an uploaded image with optional context.
type ClassificationRequest struct {
	Image    []byte
	Filename string
	Symptoms string
	Duration string
	Severity string
	Notes    string
}

// ClassificationOutcome is the result of Classify.
type ClassificationOutcome struct {
	RequestID    string
	State        State
	Trace        []State
	Result       *validator.Result
	Message      string
	Provider     string
	ProviderKind provider.Kind
	Latency      time.Duration
	Err          *Error
}

// Success reports whether the prediction was accepted.
func (o *ClassificationOutcome) Success() bool { return o.State == StateCompleted }

// Classify runs the classification flow.
func (o *Orchestrator) Classify(ctx context.Context, req ClassificationRequest) *ClassificationOutcome {
	f := newFlow("classify")
	out := &ClassificationOutcome{RequestID: f.id}
	finish := func(s State) *ClassificationOutcome {
		f.to(s)
		out.State = s
		out.Trace = f.trace
		return out
	}

	f.to(StateValidatingInput)
	contentType, verr := o.checkImage(req.Image)
	if verr != nil {
		out.Err = verr
		log.Warn().Str("request_id", f.id).Str("reason", verr.Message).Msg("Classification input rejected")
		return finish(StateFailed)
	}

	f.to(StateRouting)
	start := time.Now()
	routed, err := o.router.Route(ctx, &provider.Request{
		Kind:        provider.RequestClassify,
		Image:       req.Image,
		Filename:    req.Filename,
		ContentType: contentType,
		Fields: map[string]string{
			"symptoms": req.Symptoms,
			"duration": req.Duration,
			"severity": req.Severity,
			"notes":    req.Notes,
		},
	})
	out.Latency = time.Since(start)
	if err != nil {
		out.Err = routeError(err)
		log.Error().Str("request_id", f.id).Err(err).Msg("Classification routing failed")
		return finish(StateFailed)
	}
	out.Provider = routed.Provider
	out.ProviderKind = routed.Kind

	f.to(StateValidatingResponse)
	pred := routed.Result.Prediction
	if pred == nil {
		out.Err = &Error{
			Kind:    provider.ErrInvalidResponseShape,
			Message: fmt.Sprintf("provider %s returned no prediction", routed.Provider),
		}
		return finish(StateFailed)
	}

	res := o.validator.Validate(pred.Label, pred.Confidence, routed.Result.Raw)
	out.Result = res

	switch res.Verdict {
	case validator.Accepted:
		out.Message = MsgCompleted
		log.Info().
			Str("request_id", f.id).
			Str("provider", routed.Provider).
			Str("label", res.Label).
			Float64("confidence", res.Confidence).
			Str("severity", string(res.Severity)).
			Msg("Classification accepted")
		return finish(StateCompleted)
	case validator.BelowThreshold:
		out.Message = MsgBelowThreshold
	default:
		out.Message = MsgUnrecognizedLabel
	}
	log.Info().
		Str("request_id", f.id).
		Str("label", res.RawLabel).
		Float64("confidence", res.Confidence).
		Str("verdict", string(res.Verdict)).
		Msg("Classification rejected")
	return finish(StateRejected)
}

// checkImage returns the sniffed content type of a valid image.
func (o *Orchestrator) checkImage(img []byte) (string, *Error) {
	if len(img) == 0 {
		return "", invalidInput("image is required")
	}
	if int64(len(img)) > o.maxImageBytes {
		return "", invalidInput("image exceeds %d bytes", o.maxImageBytes)
	}
	ct := http.DetectContentType(img)
	if !strings.HasPrefix(ct, "image/") {
		return "", invalidInput("unsupported content type %q", ct)
	}
	return ct, nil
}

// ── Advice ──────────────────────────────────────────────────

// AdviceRequest asks for an explanation of a condition.
type AdviceRequest struct {
	Condition  string
	Symptoms   string
	Severity   string
	Duration   string
	Confidence *float64
}

// AdviceOutcome is the result of Advise.
type AdviceOutcome struct {
	RequestID      string
	State          State
	Trace          []State
	Text           string
	Provider       string
	ProviderKind   provider.Kind
	GenerationTime time.Duration
	Err            *Error
}

// Success reports whether advice was generated.
func (o *AdviceOutcome) Success() bool { return o.State == StateCompleted }

// Advise runs the advice flow.
func (o *Orchestrator) Advise(ctx context.Context, req AdviceRequest) *AdviceOutcome {
	f := newFlow("advice")
	out := &AdviceOutcome{RequestID: f.id}
	finish := func(s State) *AdviceOutcome {
		f.to(s)
		out.State = s
		out.Trace = f.trace
		return out
	}

	f.to(StateBuildingPrompt)
	condition := strings.TrimSpace(req.Condition)
	if condition == "" {
		out.Err = invalidInput("condition is required")
		return finish(StateFailed)
	}
	text := prompt.Build(prompt.Input{
		Condition:  condition,
		Symptoms:   req.Symptoms,
		Severity:   req.Severity,
		Duration:   req.Duration,
		Confidence: req.Confidence,
	})

	f.to(StateRouting)
	start := time.Now()
	routed, err := o.router.Route(ctx, &provider.Request{
		Kind:         provider.RequestAdvice,
		SystemPrompt: prompt.SystemPrompt,
		Prompt:       text,
		Temperature:  adviceTemperature,
		MaxTokens:    adviceMaxTokens,
	})
	out.GenerationTime = time.Since(start)
	if err != nil {
		out.Err = routeError(err)
		log.Error().Str("request_id", f.id).Str("condition", condition).Err(err).Msg("Advice routing failed")
		return finish(StateFailed)
	}

	out.Text = strings.TrimSpace(routed.Result.Text)
	out.Provider = routed.Provider
	out.ProviderKind = routed.Kind
	if out.Text == "" {
		out.Err = &Error{
			Kind:    provider.ErrInvalidResponseShape,
			Message: fmt.Sprintf("provider %s returned empty text", routed.Provider),
		}
		return finish(StateFailed)
	}

	log.Info().
		Str("request_id", f.id).
		Str("provider", routed.Provider).
		Dur("generation_time", out.GenerationTime).
		Bool("urgent", prompt.IsUrgent(condition)).
		Msg("Advice generated")
	return finish(StateCompleted)
}
