package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"mime"
	"net/http"

	"github.com/twpayne/go-polyline"

	"github.com/azybler/ch_router/pkg/labels"
	"github.com/azybler/ch_router/pkg/routing"
)

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	router routing.Router
	stats  StatsResponse
	logger *slog.Logger
}

// NewHandlers creates handlers with the given router. A nil logger means
// slog.Default().
func NewHandlers(router routing.Router, stats StatsResponse, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		router: router,
		stats:  stats,
		logger: logger,
	}
}

// NewStats summarises a hierarchy and its labels for the stats endpoint.
func NewStats(set *labels.Set) StatsResponse {
	h := set.Hierarchy()
	g := h.G
	stats := StatsResponse{
		NumNodes:   g.NumNodes,
		NumEdges:   g.NumEdges,
		LabelBytes: set.Mem(),
	}
	for e := uint32(0); e < g.NumEdges; e++ {
		if g.IsShortcut(e) {
			stats.NumShortcuts++
		}
	}
	if g.NumNodes > 0 {
		stats.Apex = g.ToExternal(set.Apex())
	}
	return stats
}

// HandleRoute handles POST /api/v1/route.
func (h *Handlers) HandleRoute(w http.ResponseWriter, r *http.Request) {
	// Enforce Content-Type.
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}

	var req RouteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}

	if err := validateCoord(req.Start); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_coordinates", "start")
		return
	}
	if err := validateCoord(req.End); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_coordinates", "end")
		return
	}

	result, err := h.router.Route(r.Context(), routing.LatLng{Lat: req.Start.Lat, Lng: req.Start.Lng}, routing.LatLng{Lat: req.End.Lat, Lng: req.End.Lng})
	if err != nil {
		status, code := classify(err)
		routeOutcomes.WithLabelValues(code).Inc()
		if status == http.StatusInternalServerError {
			h.logger.Error("route failed", "error", err)
		}
		writeError(w, status, code, "")
		return
	}
	routeOutcomes.WithLabelValues("ok").Inc()
	searchExpanded.Observe(float64(result.Expanded))

	resp := RouteResponse{
		TotalDistanceMeters: result.TotalDistanceMeters,
		NodeCount:           result.NodeCount,
		Expanded:            result.Expanded,
		ElapsedMicros:       result.Elapsed.Microseconds(),
	}
	for _, seg := range result.Segments {
		geom := make([]LatLngJSON, len(seg.Geometry))
		coords := make([][]float64, len(seg.Geometry))
		for i, ll := range seg.Geometry {
			geom[i] = LatLngJSON{Lat: ll.Lat, Lng: ll.Lng}
			coords[i] = []float64{ll.Lat, ll.Lng}
		}
		resp.Segments = append(resp.Segments, SegmentJSON{
			DistanceMeters: seg.DistanceMeters,
			Geometry:       geom,
			Polyline:       string(polyline.EncodeCoords(coords)),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// classify maps a routing error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, routing.ErrPointTooFar):
		return http.StatusUnprocessableEntity, "point_too_far_from_road"
	case errors.Is(err, routing.ErrNoRoute):
		return http.StatusNotFound, "no_route_found"
	case errors.Is(err, routing.ErrSearchCutoff):
		return http.StatusUnprocessableEntity, "search_limit_exceeded"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request_timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats)
}

func validateCoord(ll LatLngJSON) error {
	if math.IsNaN(ll.Lat) || math.IsNaN(ll.Lng) || math.IsInf(ll.Lat, 0) || math.IsInf(ll.Lng, 0) {
		return errors.New("coordinates must be finite numbers")
	}
	if ll.Lat < -90 || ll.Lat > 90 || ll.Lng < -180 || ll.Lng > 180 {
		return errors.New("coordinates out of range")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, field string) {
	writeJSON(w, status, ErrorResponse{Error: code, Field: field})
}
