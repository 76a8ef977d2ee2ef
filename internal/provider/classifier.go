package provider

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

// ── Image classification service ────────────────────────────

const defaultClassifierField = "file"

// Classifier forwards images to a remote classification model service as a
// multipart upload.
type Classifier struct {
	desc   Descriptor
	client *http.Client
}

// NewClassifier creates an image-classification adapter.
func NewClassifier(desc Descriptor, client *http.Client) *Classifier {
	if desc.Field == "" {
		desc.Field = defaultClassifierField
	}
	if client == nil {
		client = DefaultHTTPClient()
	}
	desc.Endpoint = strings.TrimRight(desc.Endpoint, "/")
	return &Classifier{desc: desc, client: client}
}

func (a *Classifier) Name() string { return a.desc.Name }
func (a *Classifier) Kind() Kind   { return KindClassifier }

var classifierShapes = []predictionShape{flatPredictionShape, nestedPredictionShape, rankedListShape}

// Invoke uploads the image and normalizes the prediction.
func (a *Classifier) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Image) == 0 {
		return nil, newError(a.desc.Name, ErrInvalidRequest, "empty image", nil)
	}

	payload, contentType, err := a.encode(req)
	if err != nil {
		return nil, newError(a.desc.Name, ErrInvalidRequest, "encode multipart", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.desc.Endpoint+"/predict", payload)
	if err != nil {
		return nil, newError(a.desc.Name, ErrInvalidRequest, "create request", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range bearer(a.desc.APIKey) {
		httpReq.Header.Set(k, v)
	}

	body, err := do(a.client, a.desc.Name, httpReq)
	if err != nil {
		return nil, err
	}

	pred, err := matchPrediction(a.desc.Name, body, classifierShapes...)
	if err != nil {
		return nil, err
	}
	return &Result{Prediction: pred, Raw: body}, nil
}

func (a *Classifier) encode(req *Request) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	filename := req.Filename
	if filename == "" {
		filename = "upload"
	}
	ct := req.ContentType
	if ct == "" {
		ct = http.DetectContentType(req.Image)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, a.desc.Field, filename))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}

	// Stable field order keeps requests reproducible.
	keys := make([]string, 0, len(req.Fields))
	for k := range req.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if req.Fields[k] == "" {
			continue
		}
		if err := w.WriteField(k, req.Fields[k]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// HealthCheck calls the service's /health endpoint.
func (a *Classifier) HealthCheck(ctx context.Context) error {
	return probe(ctx, a.client, a.desc.Name, a.desc.Endpoint+"/health", bearer(a.desc.APIKey))
}
