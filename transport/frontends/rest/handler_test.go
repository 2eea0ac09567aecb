package rest_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/omlserver/oml/dispatcher"
	"github.com/omlserver/oml/model"
	"github.com/omlserver/oml/transport/frontends/rest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubServer struct {
	store *model.Store
	err   error
}

func (server *stubServer) Infer(ctx context.Context, x float64) (float64, error) {
	return 2 * x, server.err
}

func (server *stubServer) Train(ctx context.Context, x float64) error {
	return server.err
}

func (server *stubServer) Parameters(ctx context.Context, revision int64) (*model.Snapshot, error) {
	if revision == 0 {
		return server.store.Read()
	}

	return server.store.ReadRevision(revision)
}

func (server *stubServer) Healthy() bool {
	return !server.store.Poisoned()
}

func serve(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(method, path, strings.NewReader(body)))

	return recorder
}

func TestHandler(t *testing.T) {
	store := model.New(model.StoreConfig{Logger: zap.NewNop(), Parameters: []float64{1, 2}})
	handler := rest.NewHandler(&stubServer{store: store}, nil, zap.NewNop())

	testCases := map[string]struct {
		method string
		path   string
		body   string
		status int
		want   string
	}{
		"inference":              {http.MethodPost, "/inference", "1.5", http.StatusOK, "3"},
		"inference-whitespace":   {http.MethodPost, "/inference", " 2 \n", http.StatusOK, "4"},
		"training":               {http.MethodPost, "/training", "-1", http.StatusOK, ""},
		"not-a-number":           {http.MethodPost, "/inference", `"abc"`, http.StatusBadRequest, ""},
		"null":                   {http.MethodPost, "/training", "null", http.StatusBadRequest, ""},
		"empty-body":             {http.MethodPost, "/training", "", http.StatusBadRequest, ""},
		"trailing-data":          {http.MethodPost, "/inference", "1 2", http.StatusBadRequest, ""},
		"get-inference":          {http.MethodGet, "/inference", "", http.StatusMethodNotAllowed, ""},
		"put-training":           {http.MethodPut, "/training", "1", http.StatusMethodNotAllowed, ""},
		"parameters":             {http.MethodGet, "/parameters", "", http.StatusOK, `{"revision":1,"parameters":[1,2]}`},
		"post-parameters":        {http.MethodPost, "/parameters", "", http.StatusMethodNotAllowed, ""},
		"parameters-revision":    {http.MethodGet, "/parameters?revision=1", "", http.StatusOK, `{"revision":1,"parameters":[1,2]}`},
		"revision-too-high":      {http.MethodGet, "/parameters?revision=2", "", http.StatusBadRequest, ""},
		"revision-not-a-number":  {http.MethodGet, "/parameters?revision=abc", "", http.StatusBadRequest, ""},
		"revision-negative":      {http.MethodGet, "/parameters?revision=-1", "", http.StatusBadRequest, ""},
		"healthz":                {http.MethodGet, "/healthz", "", http.StatusOK, "ok"},
		"metrics-without-source": {http.MethodGet, "/metrics", "", http.StatusNotFound, ""},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			recorder := serve(t, handler, testCase.method, testCase.path, testCase.body)

			require.Equal(t, testCase.status, recorder.Code, recorder.Body.String())

			if testCase.status == http.StatusOK {
				require.Equal(t, testCase.want, strings.TrimSpace(recorder.Body.String()))
			}
		})
	}
}

func TestHandlerPoisoned(t *testing.T) {
	store := model.New(model.StoreConfig{Logger: zap.NewNop(), Parameters: []float64{1}})

	func() {
		defer func() { recover() }()

		store.Write(func(parameters []float64) { panic("boom") })
	}()

	handler := rest.NewHandler(&stubServer{store: store}, nil, zap.NewNop())

	require.Equal(t, http.StatusServiceUnavailable, serve(t, handler, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusInternalServerError, serve(t, handler, http.MethodGet, "/parameters", "").Code)
}

func TestHandlerCompactedRevision(t *testing.T) {
	store := model.New(model.StoreConfig{Logger: zap.NewNop(), Parameters: []float64{1}})

	for i := 0; i < 2; i++ {
		_, err := store.Write(func(p []float64) { p[0]++ })
		require.NoError(t, err)
	}

	handler := rest.NewHandler(&stubServer{store: store}, nil, zap.NewNop())

	require.Equal(t, http.StatusGone, serve(t, handler, http.MethodGet, "/parameters?revision=1", "").Code)
	require.Equal(t, http.StatusOK, serve(t, handler, http.MethodGet, "/parameters?revision=3", "").Code)
}

func TestHandlerUnencodableParameters(t *testing.T) {
	store := model.New(model.StoreConfig{Logger: zap.NewNop(), Parameters: []float64{1, math.Inf(1)}})
	handler := rest.NewHandler(&stubServer{store: store}, nil, zap.NewNop())
	recorder := serve(t, handler, http.MethodGet, "/parameters", "")

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	require.NotEqual(t, "application/json", recorder.Header().Get("Content-Type"))
	require.Contains(t, recorder.Body.String(), "could not encode parameters")
}

func TestHandlerErrors(t *testing.T) {
	store := model.New(model.StoreConfig{Logger: zap.NewNop()})
	testCases := map[string]struct {
		err    error
		status int
	}{
		"lock-failure":   {model.ErrLockFailure, http.StatusInternalServerError},
		"worker-failure": {&dispatcher.WorkerFailure{Panic: "boom"}, http.StatusInternalServerError},
		"timeout":        {fmt.Errorf("%w: %w", dispatcher.ErrTimeout, context.DeadlineExceeded), http.StatusGatewayTimeout},
		"stopped":        {dispatcher.ErrStopped, http.StatusServiceUnavailable},
		"other":          {errors.New("other"), http.StatusInternalServerError},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			handler := rest.NewHandler(&stubServer{store: store, err: testCase.err}, nil, zap.NewNop())

			for _, path := range []string{"/inference", "/training"} {
				recorder := serve(t, handler, http.MethodPost, path, "1")

				require.Equal(t, testCase.status, recorder.Code)
				require.Equal(t, testCase.err.Error(), strings.TrimSpace(recorder.Body.String()))
				require.Equal(t, testCase.status, rest.StatusCode(testCase.err))
			}
		})
	}
}

func TestHandlerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "oml_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	store := model.New(model.StoreConfig{Logger: zap.NewNop()})
	recorder := serve(t, rest.NewHandler(&stubServer{store: store}, registry, zap.NewNop()), http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "oml_test_total 1")
}
