package api

// RouteRequest is the JSON body for POST /api/v1/route.
type RouteRequest struct {
	Start LatLngJSON `json:"start"`
	End   LatLngJSON `json:"end"`
}

// LatLngJSON represents a lat/lng pair in JSON.
type LatLngJSON struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RouteResponse is the JSON response for a successful route query.
type RouteResponse struct {
	TotalDistanceMeters float64       `json:"total_distance_meters"`
	Segments            []SegmentJSON `json:"segments"`
	NodeCount           int           `json:"node_count"`
	Expanded            uint64        `json:"expanded"`
	ElapsedMicros       int64         `json:"elapsed_us"`
}

// SegmentJSON represents a road segment in the response.
type SegmentJSON struct {
	DistanceMeters float64      `json:"distance_meters"`
	Geometry       []LatLngJSON `json:"geometry"`
	Polyline       string       `json:"polyline"` // encoded polyline, precision 5
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StatsResponse is the JSON response for GET /api/v1/stats.
type StatsResponse struct {
	NumNodes     uint32 `json:"num_nodes"`
	NumEdges     uint32 `json:"num_edges"`
	NumShortcuts uint32 `json:"num_shortcuts"`
	Apex         int64  `json:"apex"`
	LabelBytes   int    `json:"label_bytes"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}
