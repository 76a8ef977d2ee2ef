package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skinsight/skinsight/internal/config"
	"github.com/skinsight/skinsight/internal/provider"
	"github.com/skinsight/skinsight/pkg/models"
	"github.com/skinsight/skinsight/pkg/server"
)

// backend is a fake classifier plus a fake local generation daemon.
type backend struct {
	mu         sync.Mutex
	label      string
	confidence float64
	symptoms   string
	prompts    []string
}

func (b *backend) set(label string, conf float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.label, b.confidence = label, conf
}

func (b *backend) seen() (string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.symptoms, append([]string(nil), b.prompts...)
}

func (b *backend) classifier(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/predict":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b.mu.Lock()
			b.symptoms = r.FormValue("symptoms")
			resp := map[string]any{"prediction": b.label, "confidence": b.confidence}
			b.mu.Unlock()
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (b *backend) ollama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
		case "/api/generate":
			var body struct {
				Prompt string `json:"prompt"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			b.mu.Lock()
			b.prompts = append(b.prompts, body.Prompt)
			b.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"response": "Acne is a common skin condition.", "done": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(classifierURL, ollamaURL string) *config.Config {
	return &config.Config{
		Version:             "test",
		ConfidenceThreshold: 0.15,
		ClassLabels:         []string{"acne", "eczema", "melanoma"},
		MaxImageBytes:       1 << 20,
		CORSOrigins:         []string{"*"},
		Health:              config.HealthConfig{StaleAfter: time.Minute, ProbeTimeout: time.Second},
		Store:               config.StoreConfig{Driver: "memory"},
		Providers: []provider.Descriptor{
			{Name: "openai", Kind: provider.KindOpenAI, Endpoint: "http://127.0.0.1:1", Timeout: time.Second, RequiresCredential: true},
			{Name: "ollama", Kind: provider.KindOllama, Endpoint: ollamaURL, Model: "llama3.2:3b", Timeout: 5 * time.Second, RequiresHealth: true},
			{Name: "classifier", Kind: provider.KindClassifier, Endpoint: classifierURL, APIKey: "classifier-secret", Timeout: 5 * time.Second, RequiresHealth: true},
		},
	}
}

// newTestServer starts the full HTTP stack against fake backends.
func newTestServer(t *testing.T) (*httptest.Server, *server.Server, *backend) {
	t.Helper()
	b := &backend{label: "acne", confidence: 0.5}
	cfg := testConfig(b.classifier(t).URL, b.ollama(t).URL)

	srv, err := server.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		srv.Close(context.Background())
	})
	return ts, srv, b
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func postImage(t *testing.T, url, field string, img []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if img != nil {
		fw, err := mw.CreateFormFile(field, "lesion.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(img)
	}
	mw.Close()

	resp, err := http.Post(url+"/api/v1/predict", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /predict error = %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestPredict_Accepted(t *testing.T) {
	ts, _, b := newTestServer(t)

	resp := postImage(t, ts.URL, "image", pngBytes(t), map[string]string{"symptoms": "red bumps", "duration": "1 week"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[models.PredictResponse](t, resp)
	if !got.Success || got.Prediction != "acne" || got.Severity != "moderate" {
		t.Errorf("response = %+v", got)
	}
	if got.Provider != "classifier" || got.RequestID == "" {
		t.Errorf("provider = %q requestId = %q", got.Provider, got.RequestID)
	}
	if symptoms, _ := b.seen(); symptoms != "red bumps" {
		t.Errorf("classifier received symptoms %q", symptoms)
	}
}

func TestPredict_FileFieldAlias(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := postImage(t, ts.URL, "file", pngBytes(t), nil)
	if got := decode[models.PredictResponse](t, resp); !got.Success {
		t.Errorf("upload under \"file\" should be accepted, got %+v", got)
	}
}

func TestPredict_SoftRejections(t *testing.T) {
	ts, _, b := newTestServer(t)

	b.set("Acne", 0.05)
	resp := postImage(t, ts.URL, "image", pngBytes(t), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("below-threshold status = %d, want 200", resp.StatusCode)
	}
	low := decode[models.PredictResponse](t, resp)
	if low.Success || !low.BelowThreshold || low.Prediction != "Acne" {
		t.Errorf("below-threshold response = %+v", low)
	}

	b.set("warts", 0.9)
	unknown := decode[models.PredictResponse](t, postImage(t, ts.URL, "image", pngBytes(t), nil))
	if unknown.Success || !unknown.InvalidClass {
		t.Errorf("unrecognized-label response = %+v", unknown)
	}

	b.set("a", 0.9)
	fragment := decode[models.PredictResponse](t, postImage(t, ts.URL, "image", pngBytes(t), nil))
	if fragment.Success || !fragment.InvalidClass {
		t.Errorf("single-letter label response = %+v", fragment)
	}
}

func TestPredict_ReportsWhitelistEntry(t *testing.T) {
	ts, _, b := newTestServer(t)

	b.set("Malignant Melanoma (stage I)", 0.8)
	got := decode[models.PredictResponse](t, postImage(t, ts.URL, "image", pngBytes(t), nil))
	if !got.Success || got.Prediction != "melanoma" {
		t.Errorf("response = %+v, want prediction melanoma", got)
	}
}

func TestPredict_InvalidInput(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postImage(t, ts.URL, "image", nil, map[string]string{"symptoms": "itchy"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing image status = %d, want 400", resp.StatusCode)
	}
	got := decode[models.PredictResponse](t, resp)
	if got.Error == nil || got.Error.Kind != "invalid_input" {
		t.Errorf("error = %+v, want invalid_input", got.Error)
	}

	notImage := postImage(t, ts.URL, "image", []byte("just some text, not a picture"), nil)
	if notImage.StatusCode != http.StatusBadRequest {
		t.Errorf("non-image status = %d, want 400", notImage.StatusCode)
	}

	plain, err := http.Post(ts.URL+"/api/v1/predict", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer plain.Body.Close()
	if plain.StatusCode != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", plain.StatusCode)
	}
}

func TestPredict_ClassifierUnavailable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	b := &backend{}
	srv, err := server.NewWithConfig(context.Background(), testConfig(deadURL, b.ollama(t).URL))
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()
	defer srv.Close(context.Background())

	resp := postImage(t, ts.URL, "image", pngBytes(t), nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	got := decode[models.PredictResponse](t, resp)
	if got.Success || got.Error == nil || got.Error.Kind != "no_provider_available" {
		t.Errorf("response = %+v", got)
	}
	if len(got.Error.Attempts)+len(got.Error.Skipped) != 1 {
		t.Errorf("diagnostics = %+v, want the classifier either attempted or skipped", got.Error)
	}
}

func TestAdvice_FallsBackToLocal(t *testing.T) {
	ts, _, b := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/advice", "application/json",
		strings.NewReader(`{"condition":"Acne","symptoms":"red bumps","confidence":0.72}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got := decode[models.AdviceResponse](t, resp)
	if !got.Success || got.Advice == "" {
		t.Fatalf("response = %+v", got)
	}
	if got.Metadata.ProviderUsed != "ollama" || got.Metadata.ProviderKind != "ollama" {
		t.Errorf("metadata = %+v, want ollama (openai has no key)", got.Metadata)
	}
	if _, prompts := b.seen(); len(prompts) != 1 || !strings.Contains(prompts[0], "72%") {
		t.Errorf("prompts = %q", prompts)
	}
}

func TestAdvice_InvalidInput(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, body := range []string{`{"condition":"  "}`, `not json`} {
		resp, err := http.Post(ts.URL+"/api/v1/advice", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestProviders_MasksCredentials(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/providers")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if strings.Contains(string(raw), "classifier-secret") {
		t.Fatal("provider endpoint leaked a credential")
	}

	var got models.ProvidersResponse
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Providers) != 3 {
		t.Fatalf("providers = %d, want 3", len(got.Providers))
	}
	byName := map[string]models.ProviderInfo{}
	for _, p := range got.Providers {
		byName[p.Name] = p
	}
	if byName["openai"].HasCredential || !byName["classifier"].HasCredential {
		t.Error("hasCredential flags wrong")
	}
	if byName["classifier"].Serves != "classify" || byName["ollama"].Serves != "advice" {
		t.Error("serves flags wrong")
	}
	if got.ConfidenceThreshold != 0.15 || len(got.Labels) != 3 {
		t.Errorf("threshold = %v labels = %v", got.ConfidenceThreshold, got.Labels)
	}
	if got.RecordsStored == nil {
		t.Error("recordsStored should be reported when recording is enabled")
	}
}

func TestRecords_WrittenInBackground(t *testing.T) {
	ts, srv, _ := newTestServer(t)

	postImage(t, ts.URL, "image", pngBytes(t), nil)
	srv.Handlers.Flush()

	resp, err := http.Get(ts.URL + "/api/v1/records?kind=classification")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	recs := decode[[]models.Record](t, resp)
	if len(recs) != 1 || recs[0].Label != "acne" || !recs[0].Success {
		t.Fatalf("records = %+v", recs)
	}

	one, err := http.Get(ts.URL + "/api/v1/records/" + recs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	defer one.Body.Close()
	if one.StatusCode != http.StatusOK {
		t.Errorf("GET record status = %d", one.StatusCode)
	}

	missing, err := http.Get(ts.URL + "/api/v1/records/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", missing.StatusCode)
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for path, want := range map[string]string{"/health": "healthy", "/version": "test"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body := decode[map[string]string](t, resp)
		resp.Body.Close()
		if body["status"] != want && body["version"] != want {
			t.Errorf("GET %s = %v, want %q", path, body, want)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("GET %s content type = %q", path, ct)
		}
	}
}
