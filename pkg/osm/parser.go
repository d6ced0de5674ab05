// Package osm extracts a directed car road network from an OSM PBF extract.
package osm

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
)

// RawEdge represents a directed edge parsed from OSM data.
type RawEdge struct {
	FromNodeID osm.NodeID
	ToNodeID   osm.NodeID
	Weight     uint32    // distance in millimeters
	ShapeLats  []float64 // intermediate shape node latitudes (excluding from/to)
	ShapeLons  []float64 // intermediate shape node longitudes (excluding from/to)
}

// ParseResult holds the output of parsing an OSM PBF file.
type ParseResult struct {
	Edges   []RawEdge
	NodeLat map[osm.NodeID]float64
	NodeLon map[osm.NodeID]float64
}

// BBox defines a geographic bounding box for filtering.
// If non-zero, only edges with both endpoints inside the box are kept.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// IsZero returns true if the bbox is unset.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Contains returns true if the point is inside the bounding box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// ParseOptions configures the OSM parser.
type ParseOptions struct {
	BBox   BBox         // if non-zero, filter edges to this bounding box
	Logger *slog.Logger // defaults to slog.Default()

	// Simplify folds way nodes that are not junctions into the shape of
	// the edge passing through them.
	Simplify bool
}

// Parse reads an OSM PBF file and returns directed edges for car routing.
// The reader is scanned twice, ways first and then nodes, so it must be
// seekable.
func Parse(ctx context.Context, rs io.ReadSeeker, opt ParseOptions) (*ParseResult, error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ways, wanted, err := scanWays(ctx, rs)
	if err != nil {
		return nil, err
	}
	logger.Info("ways scanned", "ways", len(ways), "referenced_nodes", len(wanted))

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for node pass: %w", err)
	}
	lat, lon, err := scanNodes(ctx, rs, wanted)
	if err != nil {
		return nil, err
	}
	logger.Info("nodes scanned", "coordinates", len(lat))

	edges, stats := buildEdges(ways, lat, lon, opt.BBox, opt.Simplify)
	if stats.missing > 0 {
		logger.Warn("way nodes without coordinates", "nodes", stats.missing)
	}
	logger.Info("edges built",
		"edges", len(edges),
		"outside_bbox", stats.outside,
		"collapsed", stats.collapsed)

	return &ParseResult{Edges: edges, NodeLat: lat, NodeLon: lon}, nil
}

// scanWays collects drivable ways and the set of nodes they reference.
func scanWays(ctx context.Context, r io.Reader) ([]way, map[osm.NodeID]struct{}, error) {
	scanner := osmpbf.New(ctx, r, 1)
	defer scanner.Close()
	scanner.SkipNodes = true
	scanner.SkipRelations = true

	var ways []way
	wanted := make(map[osm.NodeID]struct{})
	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok || len(w.Nodes) < 2 {
			continue
		}
		fwd, bwd := carProfile(w.Tags)
		if !fwd && !bwd {
			continue
		}
		ids := make([]osm.NodeID, len(w.Nodes))
		for i, wn := range w.Nodes {
			ids[i] = wn.ID
			wanted[wn.ID] = struct{}{}
		}
		ways = append(ways, way{nodes: ids, forward: fwd, backward: bwd})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan ways: %w", err)
	}
	return ways, wanted, nil
}

// scanNodes collects coordinates of the wanted nodes only.
func scanNodes(ctx context.Context, r io.Reader, wanted map[osm.NodeID]struct{}) (lat, lon map[osm.NodeID]float64, err error) {
	scanner := osmpbf.New(ctx, r, 1)
	defer scanner.Close()
	scanner.SkipWays = true
	scanner.SkipRelations = true

	lat = make(map[osm.NodeID]float64, len(wanted))
	lon = make(map[osm.NodeID]float64, len(wanted))
	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, ok := wanted[n.ID]; ok {
			lat[n.ID] = n.Lat
			lon[n.ID] = n.Lon
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan nodes: %w", err)
	}
	return lat, lon, nil
}
