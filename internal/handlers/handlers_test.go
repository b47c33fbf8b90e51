package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/tumor-api/internal/config"
	"github.com/Brownie44l1/tumor-api/internal/predictor"
)

type stubPredictor struct {
	pred  predictor.Prediction
	err   error
	panic bool
	calls atomic.Int32
	got   []byte
}

func (s *stubPredictor) Predict(_ context.Context, raw []byte) (predictor.Prediction, error) {
	s.calls.Add(1)
	s.got = raw
	if s.panic {
		panic("scorer exploded")
	}
	return s.pred, s.err
}

type fixedScorer []float32

func (f fixedScorer) Score(context.Context, *tensor.Dense) ([]float32, error) {
	return f, nil
}

func newTestServer(t *testing.T, p Predictor, modelPath string) http.Handler {
	t.Helper()
	h := NewHandler(p, modelPath, "1.0.0", logr.Discard())
	return NewRouter(h, config.DefaultAllowedOrigins)
}

func uploadRequest(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(hdr)
	test.That(t, err, test.ShouldBeNil)
	_, err = part.Write(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mw.Close(), test.ShouldBeNil)

	req := httptest.NewRequest(http.MethodPost, "/predict-tumor", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	test.That(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil), test.ShouldBeNil)
	return buf.Bytes()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &body), test.ShouldBeNil)
	return body
}

func TestPredictTumor(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"glioma_tumor", "Glioma"},
		{"meningioma_tumor", "Meningioma"},
		{"no_tumor", "NoTumor"},
		{"pituitary_tumor", "Pituitary"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			p := &stubPredictor{pred: predictor.Prediction{Label: tt.label, Confidence: 0.875}}
			srv := newTestServer(t, p, "")
			data := jpegBytes(t, 64, 64)

			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, uploadRequest(t, FileField, "scan.jpg", "image/jpeg", data))

			test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
			test.That(t, rec.Header().Get(requestIDHeader), test.ShouldNotBeEmpty)
			test.That(t, decodeBody(t, rec), test.ShouldResemble, map[string]any{
				"prediction": tt.want,
				"confidence": 0.875,
			})
			test.That(t, p.calls.Load(), test.ShouldEqual, int32(1))
			test.That(t, p.got, test.ShouldResemble, data)
		})
	}
}

func TestPredictTumorRejectsNonImage(t *testing.T) {
	for _, ct := range []string{"text/plain", "application/pdf", "application/octet-stream", ""} {
		t.Run(ct, func(t *testing.T) {
			p := &stubPredictor{}
			srv := newTestServer(t, p, "")

			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, uploadRequest(t, FileField, "notes.txt", ct, []byte("hello")))

			test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
			test.That(t, rec.Body.String(), test.ShouldContainSubstring, "Only image files are allowed")
			test.That(t, p.calls.Load(), test.ShouldEqual, int32(0))
		})
	}
}

func TestPredictTumorMissingFile(t *testing.T) {
	p := &stubPredictor{}
	srv := newTestServer(t, p, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "image", "scan.jpg", "image/jpeg", jpegBytes(t, 8, 8)))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, decodeBody(t, rec)["detail"], test.ShouldContainSubstring, "No file uploaded")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict-tumor", strings.NewReader(`{"image":[]}`))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(rec, req)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, p.calls.Load(), test.ShouldEqual, int32(0))
}

func TestPredictTumorCorruptImage(t *testing.T) {
	svc, err := predictor.NewService(fixedScorer{1, 0, 0, 0}, []string{"glioma_tumor", "meningioma_tumor", "no_tumor", "pituitary_tumor"})
	test.That(t, err, test.ShouldBeNil)
	srv := newTestServer(t, svc, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, FileField, "scan.png", "image/png", []byte("\x89PNG garbage")))

	test.That(t, rec.Code, test.ShouldEqual, http.StatusInternalServerError)
	detail, ok := decodeBody(t, rec)["detail"].(string)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, detail, test.ShouldStartWith, "Error processing image: ")
	test.That(t, detail, test.ShouldContainSubstring, "cannot identify image file")
}

func TestPredictTumorEndToEnd(t *testing.T) {
	svc, err := predictor.NewService(fixedScorer{0, 0, 3, 0}, []string{"glioma_tumor", "meningioma_tumor", "no_tumor", "pituitary_tumor"})
	test.That(t, err, test.ShouldBeNil)
	srv := newTestServer(t, svc, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, FileField, "scan.jpg", "image/jpeg", jpegBytes(t, 512, 400)))

	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	body := decodeBody(t, rec)
	test.That(t, body["prediction"], test.ShouldEqual, "NoTumor")
	test.That(t, body["confidence"], test.ShouldBeBetween, 0.8, 1.0)
}

func TestPredictTumorPredictorError(t *testing.T) {
	p := &stubPredictor{err: &predictor.PredictionError{Kind: predictor.KindInference, Err: fmt.Errorf("input shape mismatch")}}
	srv := newTestServer(t, p, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, FileField, "scan.jpg", "image/jpeg", jpegBytes(t, 8, 8)))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusInternalServerError)
	test.That(t, decodeBody(t, rec), test.ShouldResemble, map[string]any{
		"detail": "Error processing image: inference: input shape mismatch",
	})
}

func TestPredictTumorPanicIsRecovered(t *testing.T) {
	p := &stubPredictor{panic: true}
	srv := newTestServer(t, p, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, FileField, "scan.jpg", "image/jpeg", jpegBytes(t, 8, 8)))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusInternalServerError)
	test.That(t, rec.Body.String(), test.ShouldNotContainSubstring, "goroutine")
}

func TestHealth(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "weights.onnx")

	check := func(wantLoaded bool) {
		rec := httptest.NewRecorder()
		newTestServer(t, &stubPredictor{}, weights).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
		test.That(t, decodeBody(t, rec), test.ShouldResemble, map[string]any{
			"status":       "healthy",
			"version":      "1.0.0",
			"model_loaded": wantLoaded,
		})
	}

	check(false)
	test.That(t, os.WriteFile(weights, []byte("onnx"), 0o644), test.ShouldBeNil)
	check(true)
}

func TestRouting(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{}, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
	test.That(t, decodeBody(t, rec)["detail"], test.ShouldEqual, "/nope not found")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict-tumor", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusMethodNotAllowed)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "application/json")
	test.That(t, decodeBody(t, rec), test.ShouldResemble, map[string]any{
		"detail": "method GET not allowed on /predict-tumor",
	})
}

func TestOptionsWithoutPreflight(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{}, "")

	for _, path := range []string{"/predict-tumor", "/health", "/nope"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, path, nil)
			req.Header.Set("Origin", "http://127.0.0.1:8080")
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
			test.That(t, rec.Body.Len(), test.ShouldEqual, 0)
			test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldEqual, "http://127.0.0.1:8080")
		})
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{}, "")

	t.Run("preflight allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/predict-tumor", nil)
		req.Header.Set("Origin", "https://earlymed.vercel.app")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
		test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldEqual, "https://earlymed.vercel.app")
		test.That(t, rec.Header().Get("Access-Control-Allow-Credentials"), test.ShouldEqual, "true")
		test.That(t, rec.Header().Get("Access-Control-Allow-Methods"), test.ShouldEqual, http.MethodPost)
		body, err := io.ReadAll(rec.Body)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, body, test.ShouldBeEmpty)
	})

	t.Run("preflight unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/predict-tumor", nil)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldBeEmpty)
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:8080")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
		test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldEqual, "http://localhost:8080")
		test.That(t, rec.Header().Get("Access-Control-Allow-Credentials"), test.ShouldEqual, "true")
	})
}

func TestMetrics(t *testing.T) {
	p := &stubPredictor{pred: predictor.Prediction{Label: "glioma_tumor", Confidence: 0.9}}
	srv := newTestServer(t, p, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, FileField, "scan.jpg", "image/jpeg", jpegBytes(t, 8, 8)))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)

	for _, path := range []string{"/nope", "/predict-tumor"} {
		srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	out := rec.Body.String()
	test.That(t, out, test.ShouldContainSubstring, `tumor_api_predictions_total{label="Glioma"} 1`)
	test.That(t, out, test.ShouldContainSubstring, `tumor_api_requests_total{code="200",method="POST",path="/predict-tumor"} 1`)
	test.That(t, out, test.ShouldContainSubstring, `tumor_api_requests_total{code="404",method="GET",path="unmatched"} 1`)
	test.That(t, out, test.ShouldContainSubstring, `tumor_api_requests_total{code="405",method="GET",path="/predict-tumor"} 1`)
	test.That(t, out, test.ShouldContainSubstring, "tumor_api_inference_seconds_count 1")
}
