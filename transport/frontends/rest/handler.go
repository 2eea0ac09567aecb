package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/omlserver/oml/transport"
	"github.com/omlserver/oml/utils/log"
	"github.com/omlserver/oml/utils/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 10

type handler struct {
	logger *zap.Logger
	server transport.ModelServer
}

// NewHandler returns the HTTP handler for server. Metrics
// are only served if gatherer is not nil.
func NewHandler(server transport.ModelServer, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.L()
	}

	h := &handler{logger: logger, server: server}
	mux := http.NewServeMux()
	mux.HandleFunc("/inference", h.handleInference)
	mux.HandleFunc("/training", h.handleTraining)
	mux.HandleFunc("/parameters", h.handleParameters)
	mux.HandleFunc("/healthz", h.handleHealth)

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// StatusCode maps an error returned by a transport.ModelServer
// to an HTTP status code. Every failure inside the server
// maps to 500.
func StatusCode(err error) int {
	switch transport.Kind(err) {
	case nil:
		return http.StatusOK
	case transport.ErrTimeout:
		return http.StatusGatewayTimeout
	case transport.ErrInvalidRequest:
		return http.StatusBadRequest
	case transport.ErrUnavailable:
		return http.StatusServiceUnavailable
	case transport.ErrGone:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) handleInference(w http.ResponseWriter, r *http.Request) {
	r, logger, ok := h.begin(w, r, http.MethodPost, "inference")

	if !ok {
		return
	}

	x, err := decodeNumber(w, r)

	if err != nil {
		logger.Debug("invalid body", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	y, err := h.server.Infer(r.Context(), x)

	if err != nil {
		h.writeError(w, logger, err)

		return
	}

	body, err := json.Marshal(y)

	if err != nil {
		h.writeError(w, logger, fmt.Errorf("could not encode prediction: %w", err))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
	logger.Debug("return", zap.Float64("value", y))
}

func (h *handler) handleTraining(w http.ResponseWriter, r *http.Request) {
	r, logger, ok := h.begin(w, r, http.MethodPost, "training")

	if !ok {
		return
	}

	x, err := decodeNumber(w, r)

	if err != nil {
		logger.Debug("invalid body", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if err := h.server.Train(r.Context(), x); err != nil {
		h.writeError(w, logger, err)

		return
	}

	w.WriteHeader(http.StatusOK)
	logger.Debug("return")
}

func (h *handler) handleParameters(w http.ResponseWriter, r *http.Request) {
	r, logger, ok := h.begin(w, r, http.MethodGet, "parameters")

	if !ok {
		return
	}

	revision, err := parseRevision(r.URL.Query().Get("revision"))

	if err != nil {
		logger.Debug("invalid revision", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	snapshot, err := h.server.Parameters(r.Context(), revision)

	if err != nil {
		h.writeError(w, logger, err)

		return
	}

	// Encode before writing the status so that a value JSON
	// cannot represent still yields a 500
	body, err := json.Marshal(transport.Parameters{Revision: snapshot.Revision(), Parameters: snapshot.Values()})

	if err != nil {
		h.writeError(w, logger, fmt.Errorf("could not encode parameters: %w", err))

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(append(body, '\n')); err != nil {
		logger.Warn("could not write parameters", zap.Error(err))
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	if !h.server.Healthy() {
		http.Error(w, "parameter store is poisoned", http.StatusServiceUnavailable)

		return
	}

	io.WriteString(w, "ok")
}

// begin checks the method and attaches a request ID
// to the request context
func (h *handler) begin(w http.ResponseWriter, r *http.Request, method string, operation string) (*http.Request, *zap.Logger, bool) {
	if !allowMethod(w, r, method) {
		return r, nil, false
	}

	ctx := log.WithFields(r.Context(), zap.String("http_request_id", uuid.MustUUID()))
	ctx = log.WithLogger(ctx, h.logger)
	logger := log.WithContext(ctx, h.logger).With(zap.String("operation", operation))
	logger.Debug("start", zap.String("remote_addr", r.RemoteAddr))

	return r.WithContext(ctx), logger, true
}

func (h *handler) writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := StatusCode(err)

	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request failed", zap.Error(err), zap.Int("status", status))
	}

	http.Error(w, err.Error(), status)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}

	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

	return false
}

// parseRevision reads the optional revision query parameter.
// An absent value means the current revision.
func parseRevision(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}

	revision, err := strconv.ParseInt(value, 10, 64)

	if err != nil || revision < 0 {
		return 0, fmt.Errorf("revision must be a non-negative integer, got %q", value)
	}

	return revision, nil
}

func decodeNumber(w http.ResponseWriter, r *http.Request) (float64, error) {
	var x *float64

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))

	if err := decoder.Decode(&x); err != nil {
		return 0, fmt.Errorf("body must be a JSON number: %w", err)
	}

	if x == nil {
		return 0, fmt.Errorf("body must be a JSON number, got null")
	}

	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("body must contain a single JSON number")
	}

	return *x, nil
}

// bodyMessage trims an error body written by http.Error
func bodyMessage(body []byte) string {
	return strings.TrimSpace(string(body))
}
