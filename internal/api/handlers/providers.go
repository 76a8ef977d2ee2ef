package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/skinsight/skinsight/internal/health"
	"github.com/skinsight/skinsight/internal/provider"
	"github.com/skinsight/skinsight/internal/store"
	"github.com/skinsight/skinsight/pkg/models"
)

// ListProviders returns provider configuration with credentials masked,
// alongside cached health.
// GET /api/v1/providers
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	statuses := make(map[string]health.Status)
	if h.Health != nil {
		for _, s := range h.Health.Snapshot() {
			statuses[s.Provider] = s
		}
	}

	resp := models.ProvidersResponse{
		Providers:           []models.ProviderInfo{},
		ConfidenceThreshold: h.Validator.Threshold(),
		Labels:              h.Validator.Labels(),
	}
	if h.Health != nil {
		resp.HealthStaleAfterMs = h.Health.StaleAfter().Milliseconds()
	}

	for _, t := range h.Router.Targets() {
		resp.Providers = append(resp.Providers, providerInfo(t.Descriptor, statuses))
	}

	if h.Store != nil {
		if n, err := h.Store.Count(r.Context()); err == nil {
			resp.RecordsStored = &n
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func providerInfo(d provider.Descriptor, statuses map[string]health.Status) models.ProviderInfo {
	info := models.ProviderInfo{
		Name:               d.Name,
		Kind:               string(d.Kind),
		Serves:             string(provider.RequestAdvice),
		Endpoint:           d.Endpoint,
		Model:              d.Model,
		HasCredential:      d.HasCredential(),
		RequiresCredential: d.RequiresCredential,
		RequiresHealth:     d.RequiresHealth,
		TimeoutMs:          d.Timeout.Milliseconds(),
	}
	if d.Kind.Serves(provider.RequestClassify) {
		info.Serves = string(provider.RequestClassify)
	}
	if s, ok := statuses[d.Name]; ok {
		info.Health = &models.ProviderHealth{
			Available:     s.Available,
			LastCheckedAt: s.LastCheckedAt,
			Stale:         s.Stale,
			LastError:     s.LastError,
		}
	}
	return info
}

// ListRecords returns recent results, newest first.
// GET /api/v1/records?kind=&limit=&offset=
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		respondError(w, http.StatusNotFound, "result recording is disabled")
		return
	}
	q := r.URL.Query()
	filter := store.ListFilter{Kind: models.RecordKind(q.Get("kind"))}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	recs, err := h.Store.Recent(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

// GetRecord returns one result by ID.
// GET /api/v1/records/{recordId}
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		respondError(w, http.StatusNotFound, "result recording is disabled")
		return
	}
	rec, err := h.Store.Get(r.Context(), chi.URLParam(r, "recordId"))
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
