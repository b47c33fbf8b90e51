package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apierr "github.com/Brownie44l1/tumor-api/internal/errors"
	"github.com/Brownie44l1/tumor-api/internal/predictor"
)

const (
	// FileField is the multipart field carrying the image.
	FileField = "file"
	// maxMemory is how much of a multipart body is kept in memory before
	// spilling to temp files.
	maxMemory = 32 << 20

	requestIDHeader = "X-Request-ID"
)

type Predictor interface {
	Predict(ctx context.Context, raw []byte) (predictor.Prediction, error)
}

type Handler struct {
	predictor Predictor
	modelPath string
	version   string
	log       logr.Logger
	metrics   *Metrics
}

// NewHandler serves predictions from p. modelPath is only stat'ed by Health.
func NewHandler(p Predictor, modelPath, version string, log logr.Logger) *Handler {
	return &Handler{
		predictor: p,
		modelPath: modelPath,
		version:   version,
		log:       log,
		metrics:   NewMetrics(),
	}
}

// Health reports liveness. model_loaded only says whether the weights file
// is on disk.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	_, err := os.Stat(h.modelPath)
	respondJSON(h.log, w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		ModelLoaded: err == nil,
	})
}

func (h *Handler) PredictTumor(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, reqID)
	log := h.log.WithValues("request", reqID)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		log.Error(err, "failed to parse upload")
		respondError(log, w, apierr.NewValidationError("Expected a multipart/form-data upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(FileField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			log.Error(err, "no file in upload", "field", FileField)
			respondError(log, w, apierr.NewValidationError(fmt.Sprintf("No file uploaded in field %q", FileField)))
			return
		}
		log.Error(err, "failed to open upload")
		respondError(log, w, apierr.NewInternalError(err))
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		log.Error(nil, "invalid file type uploaded", "filename", header.Filename, "contentType", ct)
		respondError(log, w, apierr.NewContentTypeInvalidError())
		return
	}

	contents, err := io.ReadAll(file)
	if err != nil {
		log.Error(err, "failed to read upload", "filename", header.Filename)
		respondError(log, w, apierr.NewInternalError(err))
		return
	}
	log.Info("received image", "filename", header.Filename, "size", len(contents))

	start := time.Now()
	pred, err := h.predictor.Predict(r.Context(), contents)
	h.metrics.ObserveInference(time.Since(start))
	if err != nil {
		log.Error(err, "prediction error", "filename", header.Filename, "size", len(contents))
		respondError(log, w, apierr.NewInternalError(err))
		return
	}

	label := DisplayLabel(pred.Label)
	h.metrics.ObservePrediction(label)
	log.Info("prediction", "label", label, "confidence", fmt.Sprintf("%.4f", pred.Confidence), "probabilities", pred.Probabilities)
	respondJSON(log, w, http.StatusOK, PredictionResponse{
		Prediction: label,
		Confidence: pred.Confidence,
	})
}

func respondJSON(log logr.Logger, w http.ResponseWriter, status int, data any) {
	if err := apierr.ResponseJSON(w, status, data); err != nil {
		log.Error(err, "failed to write response", "status", status)
	}
}

func respondError(log logr.Logger, w http.ResponseWriter, err error) {
	if werr := apierr.ResponseError(w, err); werr != nil {
		log.Error(werr, "failed to write error response", "cause", err.Error())
	}
}
