package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/skinsight/skinsight/internal/orchestrator"
	"github.com/skinsight/skinsight/internal/validator"
	"github.com/skinsight/skinsight/pkg/models"
)

// multipartOverhead is allowed on top of the image limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

// imageFields are accepted upload field names, in preference order.
var imageFields = []string{"image", "file"}

// Predict classifies an uploaded image.
// POST /api/v1/predict (multipart: image|file, symptoms, duration, severity, notes)
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	limit := h.Config.MaxImageBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		msg := "invalid multipart form: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "upload too large"
		}
		invalidPrediction(w, msg)
		return
	}
	defer r.MultipartForm.RemoveAll()

	img, filename, err := readImage(r.MultipartForm)
	if err != nil {
		invalidPrediction(w, err.Error())
		return
	}

	out := h.Orchestrator.Classify(r.Context(), orchestrator.ClassificationRequest{
		Image:    img,
		Filename: filename,
		Symptoms: r.FormValue("symptoms"),
		Duration: r.FormValue("duration"),
		Severity: r.FormValue("severity"),
		Notes:    r.FormValue("notes"),
	})

	h.record(classificationRecord(out))

	resp := models.PredictResponse{
		Success:   out.Success(),
		Message:   out.Message,
		Provider:  out.Provider,
		RequestID: out.RequestID,
	}
	if res := out.Result; res != nil {
		resp.Prediction = res.Label
		resp.Confidence = res.Confidence
		resp.Severity = string(res.Severity)
		resp.BelowThreshold = res.Verdict == validator.BelowThreshold
		resp.InvalidClass = res.Verdict == validator.UnrecognizedLabel
		if !res.Accepted() {
			resp.Prediction = res.RawLabel
		}
	}

	if out.State == orchestrator.StateFailed {
		resp.Error = errorBody(out.Err)
		resp.Message = out.Err.Message
		respondJSON(w, failureStatus(out.Err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func invalidPrediction(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, models.PredictResponse{
		Message: msg,
		Error:   &models.ErrorBody{Kind: string(orchestrator.ErrInvalidInput), Message: msg},
	})
}

// readImage returns the first uploaded image among the accepted fields.
func readImage(form *multipart.Form) ([]byte, string, error) {
	for _, field := range imageFields {
		files := form.File[field]
		if len(files) == 0 {
			continue
		}
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, "", err
		}
		return data, fh.Filename, nil
	}
	return nil, "", errors.New("image is required (field \"image\" or \"file\")")
}

func classificationRecord(out *orchestrator.ClassificationOutcome) *models.Record {
	rec := &models.Record{
		Kind:      models.RecordClassification,
		RequestID: out.RequestID,
		State:     string(out.State),
		Success:   out.Success(),
		Provider:  out.Provider,
		ErrorKind: errorKind(out.Err),
		LatencyMs: out.Latency.Milliseconds(),
	}
	if res := out.Result; res != nil {
		rec.Label = res.Label
		rec.Confidence = res.Confidence
		rec.Severity = string(res.Severity)
		rec.Verdict = string(res.Verdict)
	}
	return rec
}
