package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-logr/logr"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	apierr "github.com/Brownie44l1/tumor-api/internal/errors"
)

// unmatchedRoute labels requests that hit no route, keeping the metric's
// path cardinality bounded.
const unmatchedRoute = "unmatched"

// NewRouter wires the API routes behind recovery and CORS. Preflight requests
// from allowedOrigins get an empty 200 echoing the caller's origin.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()
	router.Methods(http.MethodGet).Path("/health").HandlerFunc(h.Health)
	router.Methods(http.MethodPost).Path("/predict-tumor").HandlerFunc(h.PredictTumor)
	router.Methods(http.MethodGet).Path("/metrics").Handler(h.metrics.Handler())
	router.NotFoundHandler = optionsOK(func(w http.ResponseWriter, r *http.Request) {
		respondError(h.log, w, apierr.NewNotFoundError(r.URL.Path))
	})
	router.MethodNotAllowedHandler = optionsOK(func(w http.ResponseWriter, r *http.Request) {
		respondError(h.log, w, apierr.NewMethodNotAllowedError(r.Method, r.URL.Path))
	})

	handler := h.instrument(router)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{h.log}),
		handlers.PrintRecoveryStack(false),
	)(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins:       allowedOrigins,
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"*"},
		ExposedHeaders:       []string{requestIDHeader},
		AllowCredentials:     true,
		OptionsSuccessStatus: http.StatusOK,
	}).Handler(handler)
	return handler
}

// optionsOK answers OPTIONS requests that are not CORS preflights with an
// empty 200 and hands everything else to next.
func optionsOK(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	})
}

// instrument logs and counts every request the router sees, including the
// ones it answers with 404 or 405.
func (h *Handler) instrument(router *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routeLabel(router, r)
		m := httpsnoop.CaptureMetrics(router, w, r)
		h.metrics.ObserveRequest(path, r.Method, m.Code)
		h.log.V(1).Info("request", "method", r.Method, "path", path, "code", m.Code, "duration", m.Duration, "bytes", m.Written)
	})
}

func routeLabel(router *mux.Router, r *http.Request) string {
	var match mux.RouteMatch
	if router.Match(r, &match) && match.MatchErr == nil && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	// A method mismatch means the path is one of ours.
	if errors.Is(match.MatchErr, mux.ErrMethodMismatch) {
		return r.URL.Path
	}
	return unmatchedRoute
}

type recoveryLogger struct {
	log logr.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error(fmt.Errorf("%s", fmt.Sprint(v...)), "recovered from panic")
}
