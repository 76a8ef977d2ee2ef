package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a backend response is read into memory.
const maxResponseBytes = 4 << 20

// DefaultHTTPClient is shared by adapters that are not given their own
// client. It sets no overall Timeout: each attempt's budget is the deadline
// on the request context, and a client-wide cap would cut off providers
// configured with a longer budget.
func DefaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 10 * time.Second
	return &http.Client{Transport: transport}
}

// do executes req and returns the body of a 2xx response. Any other outcome
// is returned as a *Error.
func do(client *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, statusError(provider, resp.StatusCode, body)
	}
	return body, nil
}

// postJSON marshals payload and POSTs it to url.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newError(provider, ErrInvalidRequest, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, newError(provider, ErrInvalidRequest, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, provider, req)
}

// probe issues a GET against a liveness endpoint; any 2xx is healthy.
func probe(ctx context.Context, client *http.Client, provider, url string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return newError(provider, ErrInvalidRequest, "create request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	_, err = do(client, provider, req)
	return err
}

func bearer(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}
