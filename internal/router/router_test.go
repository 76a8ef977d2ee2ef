package router_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skinsight/skinsight/internal/provider"
	"github.com/skinsight/skinsight/internal/router"
)

// mockDriver is a test provider.Adapter that records its calls.
type mockDriver struct {
	name  string
	kind  provider.Kind
	err   error
	text  string
	delay time.Duration
	calls *[]string
	mu    *sync.Mutex
}

func (d *mockDriver) Name() string        { return d.name }
func (d *mockDriver) Kind() provider.Kind { return d.kind }
func (d *mockDriver) Invoke(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	d.mu.Lock()
	*d.calls = append(*d.calls, d.name)
	d.mu.Unlock()

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return &provider.Result{Text: d.text}, nil
}
func (d *mockDriver) HealthCheck(ctx context.Context) error { return nil }

// fakeHealth marks the listed providers as down.
type fakeHealth struct {
	down     map[string]bool
	lookups  []string
	reported map[string]error
}

func (h *fakeHealth) IsAvailable(_ context.Context, id string) bool {
	h.lookups = append(h.lookups, id)
	return !h.down[id]
}

func (h *fakeHealth) Report(id string, err error) {
	if h.reported == nil {
		h.reported = make(map[string]error)
	}
	h.reported[id] = err
}

type harness struct {
	calls []string
	mu    sync.Mutex
}

func (h *harness) target(name string, kind provider.Kind, err error, opts ...func(*provider.Descriptor)) router.Target {
	d := provider.Descriptor{Name: name, Kind: kind, Timeout: time.Second}
	for _, o := range opts {
		o(&d)
	}
	return router.Target{
		Adapter:    &mockDriver{name: name, kind: kind, err: err, text: "from " + name, calls: &h.calls, mu: &h.mu},
		Descriptor: d,
	}
}

func healthGated(d *provider.Descriptor) { d.RequiresHealth = true }
func credGated(d *provider.Descriptor)   { d.RequiresCredential = true }

func adviceReq() *provider.Request {
	return &provider.Request{Kind: provider.RequestAdvice, Prompt: "p"}
}

func TestRoute_DownProviderSkipped(t *testing.T) {
	h := &harness{}
	hc := &fakeHealth{down: map[string]bool{"A": true}}
	r := router.New([]router.Target{
		h.target("A", provider.KindOllama, nil, healthGated),
		h.target("B", provider.KindOllama, nil, healthGated),
		h.target("C", provider.KindOllama, nil),
	}, hc)

	got, err := r.Route(context.Background(), adviceReq())
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got.Provider != "B" || got.Result.Text != "from B" {
		t.Errorf("Route() provider = %s text = %q, want B", got.Provider, got.Result.Text)
	}
	if len(h.calls) != 1 || h.calls[0] != "B" {
		t.Errorf("calls = %v, want [B] (nothing after the success)", h.calls)
	}
	if len(got.Skipped) != 1 || got.Skipped[0].Provider != "A" {
		t.Errorf("skipped = %+v, want A", got.Skipped)
	}
}

func TestRoute_FirstSuccessWins(t *testing.T) {
	h := &harness{}
	r := router.New([]router.Target{
		h.target("A", provider.KindOpenAI, &provider.Error{Kind: provider.ErrBackendOverloaded}),
		h.target("B", provider.KindHuggingFace, nil),
		h.target("C", provider.KindOllama, nil),
	}, nil)

	got, err := r.Route(context.Background(), adviceReq())
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got.Provider != "B" || got.Kind != provider.KindHuggingFace {
		t.Errorf("provider = %s/%s, want B/huggingface", got.Provider, got.Kind)
	}
	if len(got.Attempts) != 1 || got.Attempts[0].Provider != "A" {
		t.Errorf("attempts = %+v, want one failure from A", got.Attempts)
	}
	if len(h.calls) != 2 {
		t.Errorf("calls = %v, want [A B]", h.calls)
	}
}

func TestRoute_AllFailing(t *testing.T) {
	h := &harness{}
	r := router.New([]router.Target{
		h.target("A", provider.KindOpenAI, &provider.Error{Kind: provider.ErrAuthRejected, Message: "401"}),
		h.target("B", provider.KindHuggingFace, &provider.Error{Kind: provider.ErrBackendOverloaded}),
		h.target("C", provider.KindOllama, errors.New("dial tcp: connection refused")),
	}, nil)

	_, err := r.Route(context.Background(), adviceReq())
	if !errors.Is(err, provider.ErrNoProviderAvailable) {
		t.Fatalf("Route() error = %v, want no_provider_available", err)
	}

	var ex *router.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error is %T, want *router.ExhaustedError", err)
	}
	want := []struct {
		provider string
		kind     provider.ErrorKind
	}{
		{"A", provider.ErrAuthRejected},
		{"B", provider.ErrBackendOverloaded},
		{"C", provider.ErrConnectionRefused},
	}
	if len(ex.Attempts) != len(want) {
		t.Fatalf("attempts = %d, want %d", len(ex.Attempts), len(want))
	}
	for i, w := range want {
		if ex.Attempts[i].Provider != w.provider || ex.Attempts[i].Kind != w.kind {
			t.Errorf("attempt[%d] = %s/%s, want %s/%s", i, ex.Attempts[i].Provider, ex.Attempts[i].Kind, w.provider, w.kind)
		}
	}
}

func TestRoute_CredentialGatedSkippedWithoutHealthLookup(t *testing.T) {
	h := &harness{}
	hc := &fakeHealth{}
	r := router.New([]router.Target{
		h.target("cloud", provider.KindOpenAI, nil, credGated, healthGated),
		h.target("local", provider.KindOllama, nil),
	}, hc)

	got, err := r.Route(context.Background(), adviceReq())
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got.Provider != "local" {
		t.Errorf("provider = %s, want local", got.Provider)
	}
	if len(hc.lookups) != 0 {
		t.Errorf("health lookups = %v, want none for credential-less provider", hc.lookups)
	}
	if len(got.Skipped) != 1 || got.Skipped[0].Reason != "credential not configured" {
		t.Errorf("skipped = %+v", got.Skipped)
	}
}

func TestRoute_CredentialPresentIsAttempted(t *testing.T) {
	h := &harness{}
	r := router.New([]router.Target{
		h.target("cloud", provider.KindOpenAI, nil, credGated, func(d *provider.Descriptor) { d.APIKey = "sk" }),
	}, nil)

	got, err := r.Route(context.Background(), adviceReq())
	if err != nil || got.Provider != "cloud" {
		t.Fatalf("Route() = %v, %v", got, err)
	}
}

func TestRoute_FiltersByRequestKind(t *testing.T) {
	h := &harness{}
	r := router.New([]router.Target{
		h.target("llm", provider.KindOllama, nil),
		h.target("clf", provider.KindClassifier, nil),
	}, nil)

	got, err := r.Route(context.Background(), &provider.Request{Kind: provider.RequestClassify, Image: []byte{1}})
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got.Provider != "clf" {
		t.Errorf("provider = %s, want clf", got.Provider)
	}
	if len(h.calls) != 1 {
		t.Errorf("calls = %v, text providers must not see classify requests", h.calls)
	}
}

func TestRoute_NoEligibleProviders(t *testing.T) {
	r := router.New(nil, nil)
	_, err := r.Route(context.Background(), adviceReq())

	var ex *router.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("Route() error = %v, want ExhaustedError", err)
	}
	if len(ex.Attempts) != 0 {
		t.Errorf("attempts = %d, want 0", len(ex.Attempts))
	}
}

func TestRoute_IndependentTimeouts(t *testing.T) {
	h := &harness{}
	slow := h.target("slow", provider.KindOllama, nil, func(d *provider.Descriptor) { d.Timeout = 30 * time.Millisecond })
	slow.Adapter.(*mockDriver).delay = time.Second
	fast := h.target("fast", provider.KindOllama, nil, func(d *provider.Descriptor) { d.Timeout = 300 * time.Millisecond })
	fast.Adapter.(*mockDriver).delay = 10 * time.Millisecond

	r := router.New([]router.Target{slow, fast}, nil)

	start := time.Now()
	got, err := r.Route(context.Background(), adviceReq())
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got.Provider != "fast" {
		t.Errorf("provider = %s, want fast", got.Provider)
	}
	if got.Attempts[0].Kind != provider.ErrTimeout {
		t.Errorf("slow attempt kind = %s, want timeout", got.Attempts[0].Kind)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Route() took %v, per-attempt timeout not applied", elapsed)
	}
}

func TestRoute_ConnectionRefusedReportedToHealth(t *testing.T) {
	h := &harness{}
	hc := &fakeHealth{}
	refused := &provider.Error{Kind: provider.ErrConnectionRefused}
	r := router.New([]router.Target{
		h.target("local", provider.KindOllama, refused, healthGated),
		h.target("hosted", provider.KindHuggingFace, &provider.Error{Kind: provider.ErrBackendOverloaded}, healthGated),
	}, hc)

	r.Route(context.Background(), adviceReq())

	if _, ok := hc.reported["local"]; !ok {
		t.Error("connection refused should be reported to the health cache")
	}
	if _, ok := hc.reported["hosted"]; ok {
		t.Error("overloaded backends should not be marked down")
	}
}

func TestRoute_LocalFailureNotReportedToHealth(t *testing.T) {
	hc := &fakeHealth{}
	desc := provider.Descriptor{Name: "clf", Kind: provider.KindClassifier, Endpoint: "http://127.0.0.1:1", Timeout: time.Second, RequiresHealth: true}
	r := router.New([]router.Target{{Adapter: provider.NewClassifier(desc, nil), Descriptor: desc}}, hc)

	_, err := r.Route(context.Background(), &provider.Request{Kind: provider.RequestClassify})

	var ex *router.ExhaustedError
	if !errors.As(err, &ex) || len(ex.Attempts) != 1 {
		t.Fatalf("Route() error = %v, want one recorded attempt", err)
	}
	if ex.Attempts[0].Kind != provider.ErrInvalidRequest {
		t.Errorf("attempt kind = %s, want invalid_request", ex.Attempts[0].Kind)
	}
	if len(hc.reported) != 0 {
		t.Errorf("local failures must not mark the provider down, reported %v", hc.reported)
	}
}

func TestTargets_ReturnsCopy(t *testing.T) {
	h := &harness{}
	r := router.New([]router.Target{h.target("A", provider.KindOllama, nil)}, nil)

	ts := r.Targets()
	ts[0].Descriptor.Name = "mutated"
	if r.Targets()[0].Descriptor.Name != "A" {
		t.Error("Targets() should return a copy")
	}
}
