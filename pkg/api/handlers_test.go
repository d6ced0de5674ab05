package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/graph/graphtest"
	"github.com/azybler/ch_router/pkg/labels"
	"github.com/azybler/ch_router/pkg/routing"
)

var quiet = slog.New(slog.DiscardHandler)

const validBody = `{"start":{"lat":1.3,"lng":103.8},"end":{"lat":1.35,"lng":103.85}}`

// mockRouter implements routing.Router for testing.
type mockRouter struct {
	result *routing.RouteResult
	err    error
}

func (m *mockRouter) Route(ctx context.Context, start, end routing.LatLng) (*routing.RouteResult, error) {
	return m.result, m.err
}

func postRoute(t *testing.T, h *Handlers, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/route", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleRoute(w, req)
	return w
}

func TestHandleRoute_Success(t *testing.T) {
	geom := []routing.LatLng{
		{Lat: 1.3, Lng: 103.8},
		{Lat: 1.35, Lng: 103.85},
	}
	mock := &mockRouter{
		result: &routing.RouteResult{
			TotalDistanceMeters: 1234.5,
			Segments:            []routing.Segment{{DistanceMeters: 1234.5, Geometry: geom}},
			NodeCount:           2,
			Expanded:            17,
			Elapsed:             250 * time.Microsecond,
		},
	}
	h := NewHandlers(mock, StatsResponse{NumNodes: 100}, quiet)

	w := postRoute(t, h, validBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RouteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1234.5, resp.TotalDistanceMeters)
	assert.Equal(t, 2, resp.NodeCount)
	assert.Equal(t, uint64(17), resp.Expanded)
	assert.Equal(t, int64(250), resp.ElapsedMicros)
	require.Len(t, resp.Segments, 1)
	require.Len(t, resp.Segments[0].Geometry, 2)

	coords, rest, err := polyline.DecodeCoords([]byte(resp.Segments[0].Polyline))
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, coords, 2)
	assert.InDelta(t, 1.35, coords[1][0], 1e-5)
	assert.InDelta(t, 103.85, coords[1][1], 1e-5)
}

func TestHandleRoute_BadRequests(t *testing.T) {
	h := NewHandlers(&mockRouter{}, StatsResponse{}, quiet)

	tests := []struct {
		name  string
		body  string
		ctype string
		field string
	}{
		{name: "invalid json", body: "not json", ctype: "application/json"},
		{name: "missing content type", body: validBody},
		{name: "latitude out of range", body: `{"start":{"lat":91.0,"lng":103.8},"end":{"lat":1.35,"lng":103.85}}`, ctype: "application/json", field: "start"},
		{name: "longitude out of range", body: `{"start":{"lat":1.3,"lng":103.8},"end":{"lat":1.35,"lng":181}}`, ctype: "application/json", field: "end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/route", strings.NewReader(tt.body))
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			w := httptest.NewRecorder()
			h.HandleRoute(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

func TestHandleRoute_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{routing.ErrNoRoute, http.StatusNotFound, "no_route_found"},
		{routing.ErrPointTooFar, http.StatusUnprocessableEntity, "point_too_far_from_road"},
		{routing.ErrSearchCutoff, http.StatusUnprocessableEntity, "search_limit_exceeded"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "request_timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := NewHandlers(&mockRouter{err: tt.err}, StatsResponse{}, quiet)
			w := postRoute(t, h, validBody)
			assert.Equal(t, tt.status, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Error)
		})
	}
}

func TestHandleHealth(t *testing.T) {
	h := NewHandlers(&mockRouter{}, StatsResponse{}, quiet)

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest("GET", "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestNewStats(t *testing.T) {
	h, err := graph.NewHierarchy(graphtest.Line(4), []uint32{0, 1, 2, 3})
	require.NoError(t, err)
	set, err := labels.Build(context.Background(), h, nil, labels.WithLogger(quiet))
	require.NoError(t, err)

	stats := NewStats(set)
	assert.Equal(t, uint32(4), stats.NumNodes)
	assert.Equal(t, uint32(6), stats.NumEdges)
	assert.Zero(t, stats.NumShortcuts)
	assert.Equal(t, int64(3), stats.Apex)
	assert.Positive(t, stats.LabelBytes)

	handlers := NewHandlers(&mockRouter{}, stats, quiet)
	w := httptest.NewRecorder()
	handlers.HandleStats(w, httptest.NewRequest("GET", "/api/v1/stats", nil))
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, stats, resp)
}

func TestServerRoutesAndMetrics(t *testing.T) {
	mock := &mockRouter{result: &routing.RouteResult{TotalDistanceMeters: 10}}
	cfg := DefaultConfig(":0")
	cfg.Logger = quiet
	cfg.CORSOrigin = "https://example.com"
	srv := httptest.NewServer(NewServer(cfg, NewHandlers(mock, StatsResponse{}, quiet)).Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/route", "application/json", strings.NewReader(validBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "https://example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/api/v1/route")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "ch_router_http_request_duration_seconds")
	assert.Contains(t, string(body), `ch_router_route_queries_total{outcome="ok"}`)
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	cfg := DefaultConfig(":0")
	cfg.Logger = quiet
	sem := make(chan struct{}, 1)
	handler := withMiddleware("panic", func(http.ResponseWriter, *http.Request) { panic("boom") }, sem, cfg)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, sem, 0, "slot released")
}

func TestMiddlewareRejectsWhenSaturated(t *testing.T) {
	cfg := DefaultConfig(":0")
	cfg.Logger = quiet
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	handler := withMiddleware("busy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, sem, cfg)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
