// Package handlers implements the HTTP handlers for the SkinSight API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skinsight/skinsight/internal/config"
	"github.com/skinsight/skinsight/internal/health"
	"github.com/skinsight/skinsight/internal/orchestrator"
	"github.com/skinsight/skinsight/internal/provider"
	"github.com/skinsight/skinsight/internal/router"
	"github.com/skinsight/skinsight/internal/store"
	"github.com/skinsight/skinsight/internal/validator"
	"github.com/skinsight/skinsight/pkg/models"
)

// recordTimeout bounds a single background store write.
const recordTimeout = 5 * time.Second

// Handlers holds all handler dependencies.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *router.Router
	Health       *health.Cache
	Validator    *validator.Validator
	Store        store.Store // nil disables recording
	Config       *config.Config

	pending sync.WaitGroup
}

// New creates a new Handlers instance with all dependencies.
func New(cfg *config.Config, o *orchestrator.Orchestrator, rt *router.Router, hc *health.Cache, v *validator.Validator, s store.Store) *Handlers {
	return &Handlers{
		Orchestrator: o,
		Router:       rt,
		Health:       hc,
		Validator:    v,
		Store:        s,
		Config:       cfg,
	}
}

// Flush waits for in-flight background store writes.
func (h *Handlers) Flush() {
	h.pending.Wait()
}

// record writes rec in the background. Failures are logged and never reach
// the caller.
func (h *Handlers) record(rec *models.Record) {
	if h.Store == nil {
		return
	}
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := h.Store.Record(ctx, rec); err != nil {
			log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("Failed to record result")
		}
	}()
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorBody converts an outcome error into its wire form.
func errorBody(e *orchestrator.Error) *models.ErrorBody {
	if e == nil {
		return nil
	}
	body := &models.ErrorBody{Kind: string(e.Kind), Message: e.Message}
	for _, a := range e.Attempts {
		body.Attempts = append(body.Attempts, models.Attempt{
			Provider:   a.Provider,
			Kind:       string(a.Kind),
			StatusCode: a.StatusCode,
			Message:    a.Message,
		})
	}
	for _, s := range e.Skipped {
		body.Skipped = append(body.Skipped, models.Skipped{Provider: s.Provider, Reason: s.Reason})
	}
	return body
}

// failureStatus maps a failed outcome to its HTTP status.
func failureStatus(e *orchestrator.Error) int {
	switch {
	case e == nil:
		return http.StatusInternalServerError
	case errors.Is(e, orchestrator.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(e, provider.ErrNoProviderAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func errorKind(e *orchestrator.Error) string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}
