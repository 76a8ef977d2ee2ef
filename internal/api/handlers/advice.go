package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/skinsight/skinsight/internal/orchestrator"
	"github.com/skinsight/skinsight/pkg/models"
)

// maxAdviceBody bounds the JSON request body.
const maxAdviceBody = 64 << 10

// Advice generates an explanation for a condition.
// POST /api/v1/advice
func (h *Handlers) Advice(w http.ResponseWriter, r *http.Request) {
	var req models.AdviceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdviceBody)).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, models.AdviceResponse{
			Error: &models.ErrorBody{Kind: string(orchestrator.ErrInvalidInput), Message: "invalid request body: " + err.Error()},
		})
		return
	}

	out := h.Orchestrator.Advise(r.Context(), orchestrator.AdviceRequest{
		Condition:  req.Condition,
		Symptoms:   req.Symptoms,
		Severity:   req.Severity,
		Duration:   req.Duration,
		Confidence: req.Confidence,
	})

	h.record(&models.Record{
		Kind:      models.RecordAdvice,
		RequestID: out.RequestID,
		State:     string(out.State),
		Success:   out.Success(),
		Provider:  out.Provider,
		Condition: req.Condition,
		ErrorKind: errorKind(out.Err),
		LatencyMs: out.GenerationTime.Milliseconds(),
	})

	resp := models.AdviceResponse{
		Success: out.Success(),
		Advice:  out.Text,
		Metadata: models.AdviceMetadata{
			ProviderUsed:     out.Provider,
			ProviderKind:     string(out.ProviderKind),
			GenerationTimeMs: out.GenerationTime.Milliseconds(),
			RequestID:        out.RequestID,
		},
	}
	if !out.Success() {
		resp.Advice = ""
		resp.Error = errorBody(out.Err)
		respondJSON(w, failureStatus(out.Err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
