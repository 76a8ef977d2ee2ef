// Package router implements the provider fallback chain.
//
// Providers are tried strictly in their configured order; the first success
// wins. Credential-gated providers without a credential are skipped outright,
// health-gated providers are skipped while the health cache reports them
// down, and every attempt gets its own timeout so one slow backend never eats
// into the next one's budget.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skinsight/skinsight/internal/provider"
)

var tracer = otel.Tracer("skinsight/router")

// DefaultTimeout applies to descriptors without a timeout.
const DefaultTimeout = 30 * time.Second

// HealthChecker is the subset of the health cache the router consults.
type HealthChecker interface {
	IsAvailable(ctx context.Context, id string) bool
	Report(id string, err error)
}

// Target pairs an adapter with its static descriptor.
type Target struct {
	Adapter    provider.Adapter
	Descriptor provider.Descriptor
}

// Skip records a provider that was not attempted.
type Skip struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

const (
	skipNoCredential = "credential not configured"
	skipUnhealthy    = "health check failing"
)

// Routed is a successful routing outcome.
type Routed struct {
	Result   *provider.Result
	Provider string
	Kind     provider.Kind
	Latency  time.Duration

	// Attempts holds the failures that preceded the success, in call order.
	Attempts []*provider.Error
	Skipped  []Skip
}

// ExhaustedError is returned when every eligible provider failed or was
// skipped.
type ExhaustedError struct {
	RequestKind provider.RequestKind
	Attempts    []*provider.Error
	Skipped     []Skip
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Provider+"="+string(a.Kind))
	}
	return fmt.Sprintf("%s: no provider available for %s (attempts: [%s], skipped: %d)",
		provider.ErrNoProviderAvailable, e.RequestKind, strings.Join(parts, ", "), len(e.Skipped))
}

// Is makes errors.Is(err, provider.ErrNoProviderAvailable) true.
func (e *ExhaustedError) Is(target error) bool {
	return target == provider.ErrNoProviderAvailable
}

// Router walks the ordered provider list.
type Router struct {
	targets []Target
	health  HealthChecker
}

// New creates a router over targets, in priority order. health may be nil,
// in which case every health-gated provider is treated as available.
func New(targets []Target, health HealthChecker) *Router {
	ts := make([]Target, len(targets))
	copy(ts, targets)
	return &Router{targets: ts, health: health}
}

// Targets returns a copy of the configured targets.
func (r *Router) Targets() []Target {
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Route sends req through the fallback chain for its kind.
func (r *Router) Route(ctx context.Context, req *provider.Request) (*Routed, error) {
	var (
		attempts []*provider.Error
		skipped  []Skip
	)

	for _, t := range r.targets {
		desc := t.Descriptor
		if !desc.Kind.Serves(req.Kind) {
			continue
		}

		if desc.RequiresCredential && !desc.HasCredential() {
			skipped = append(skipped, Skip{Provider: desc.Name, Reason: skipNoCredential})
			continue
		}
		if desc.RequiresHealth && r.health != nil && !r.health.IsAvailable(ctx, desc.Name) {
			log.Debug().Str("provider", desc.Name).Msg("Provider unhealthy, skipping")
			skipped = append(skipped, Skip{Provider: desc.Name, Reason: skipUnhealthy})
			continue
		}

		start := time.Now()
		res, err := r.attempt(ctx, t, req, len(attempts)+1)
		if err != nil {
			pe := provider.AsError(desc.Name, err)
			log.Warn().
				Str("provider", desc.Name).
				Str("kind", string(desc.Kind)).
				Str("error_kind", string(pe.Kind)).
				Err(err).
				Msg("Provider call failed, trying next")

			if pe.Kind == provider.ErrConnectionRefused && desc.RequiresHealth && r.health != nil {
				r.health.Report(desc.Name, pe)
			}
			attempts = append(attempts, pe)
			continue
		}

		return &Routed{
			Result:   res,
			Provider: desc.Name,
			Kind:     desc.Kind,
			Latency:  time.Since(start),
			Attempts: attempts,
			Skipped:  skipped,
		}, nil
	}

	return nil, &ExhaustedError{RequestKind: req.Kind, Attempts: attempts, Skipped: skipped}
}

// attempt invokes one provider under its own deadline.
func (r *Router) attempt(ctx context.Context, t Target, req *provider.Request, n int) (*provider.Result, error) {
	timeout := t.Descriptor.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, span := tracer.Start(ctx, "provider.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("skinsight.provider", t.Descriptor.Name),
			attribute.String("skinsight.provider.kind", string(t.Descriptor.Kind)),
			attribute.String("skinsight.request.kind", string(req.Kind)),
			attribute.Int("skinsight.attempt", n),
		),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := t.Adapter.Invoke(attemptCtx, req)
	if err == nil && res == nil {
		err = &provider.Error{Provider: t.Descriptor.Name, Kind: provider.ErrInvalidResponseShape, Message: "adapter returned no result"}
	}
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) {
			span.SetAttributes(attribute.String("skinsight.error_kind", string(pe.Kind)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}
