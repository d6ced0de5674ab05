package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/azybler/ch_router/pkg/arcflags"
	"github.com/azybler/ch_router/pkg/ch"
	"github.com/azybler/ch_router/pkg/config"
	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/labels"
	osmparser "github.com/azybler/ch_router/pkg/osm"
	"github.com/azybler/ch_router/pkg/partition"
	"github.com/azybler/ch_router/pkg/search"
)

var bboxPresets = map[string]osmparser.BBox{
	"singapore": {MinLat: 1.15, MaxLat: 1.48, MinLng: 103.6, MaxLng: 104.1},
	"kl":        {MinLat: 2.75, MaxLat: 3.5, MinLng: 101.2, MaxLng: 102.0},
}

type options struct {
	configPath string
	input      string
	bbox       string
	region     string
	graphOut   string
	labelsOut  string
	flagsOut   string
	rows       int
	cols       int
	refine     int
	noFlags    bool
	validate   bool
}

func main() {
	var opts options
	if err := newCommand(&opts).Execute(); err != nil {
		os.Exit(1)
	}
}

// newCommand wires the preprocess command and its flags into opts.
func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Build a contraction hierarchy, DFS-interval labels and arc flags from an OSM extract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, *opts)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := cfg.Logging.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			bbox, err := parseBBox(*opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cfg, opts.input, bbox, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.StringVar(&opts.input, "input", "", "path to .osm.pbf file")
	f.StringVar(&opts.bbox, "bbox", "", "bounding box filter: minLat,minLng,maxLat,maxLng")
	f.StringVar(&opts.region, "region", "", "bounding box preset: singapore or kl")
	f.StringVar(&opts.graphOut, "graph", "", "output hierarchy file (overrides data.graph)")
	f.StringVar(&opts.labelsOut, "labels", "", "output label file (overrides data.labels)")
	f.StringVar(&opts.flagsOut, "arc-flags", "", "output arc-flag file (overrides data.arc_flags)")
	f.IntVar(&opts.rows, "grid-rows", 0, "partition rows (overrides preprocess.grid_rows)")
	f.IntVar(&opts.cols, "grid-cols", 0, "partition columns (overrides preprocess.grid_cols)")
	f.IntVar(&opts.refine, "refine", 0, "refine labels of nodes with more than this many outgoing edges; -1 disables")
	f.BoolVar(&opts.noFlags, "no-arc-flags", false, "skip arc-flag computation")
	f.BoolVar(&opts.validate, "validate", false, "check every label after building (slow)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts options) {
	f := cmd.Flags()
	if f.Changed("graph") {
		cfg.Data.Graph = opts.graphOut
	}
	if f.Changed("labels") {
		cfg.Data.Labels = opts.labelsOut
	}
	if f.Changed("arc-flags") {
		cfg.Data.ArcFlags = opts.flagsOut
	}
	if f.Changed("grid-rows") {
		cfg.Preprocess.GridRows = opts.rows
	}
	if f.Changed("grid-cols") {
		cfg.Preprocess.GridCols = opts.cols
	}
	if f.Changed("refine") {
		cfg.Preprocess.RefinementDegree = opts.refine
	}
	if opts.noFlags {
		cfg.Preprocess.ArcFlags = false
	}
	if opts.validate {
		cfg.Preprocess.Validate = true
	}
}

func parseBBox(opts options) (osmparser.BBox, error) {
	if opts.region != "" {
		b, ok := bboxPresets[opts.region]
		if !ok {
			return osmparser.BBox{}, fmt.Errorf("unknown region %q", opts.region)
		}
		return b, nil
	}
	if opts.bbox == "" {
		return osmparser.BBox{}, nil
	}
	var minLat, minLng, maxLat, maxLng float64
	if _, err := fmt.Sscanf(opts.bbox, "%f,%f,%f,%f", &minLat, &minLng, &maxLat, &maxLng); err != nil {
		return osmparser.BBox{}, fmt.Errorf("invalid bbox (expected minLat,minLng,maxLat,maxLng): %w", err)
	}
	return osmparser.BBox{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}, nil
}

func run(ctx context.Context, cfg config.Config, input string, bbox osmparser.BBox, logger *slog.Logger) error {
	start := time.Now()

	// Step 1: Parse OSM data.
	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	if !bbox.IsZero() {
		logger.Info("bounding box filter",
			"min_lat", bbox.MinLat, "max_lat", bbox.MaxLat,
			"min_lng", bbox.MinLng, "max_lng", bbox.MaxLng)
	}
	parsed, err := osmparser.Parse(ctx, f, osmparser.ParseOptions{
		BBox:     bbox,
		Logger:   logger,
		Simplify: cfg.Preprocess.Simplify,
	})
	if err != nil {
		return fmt.Errorf("parse OSM data: %w", err)
	}

	// Step 2: Build graph and keep the largest connected component.
	g := graph.Build(parsed)
	logger.Info("graph built", "nodes", g.NumNodes, "edges", g.NumEdges)
	component := graph.LargestComponent(g)
	g = graph.FilterToComponent(g, component)
	logger.Info("largest component", "nodes", g.NumNodes, "edges", g.NumEdges)

	// Step 3: Contract.
	h, err := ch.Contract(g, ch.WithLogger(logger), ch.WithCoreLimit(cfg.Preprocess.CoreLimit))
	if err != nil {
		return fmt.Errorf("contract: %w", err)
	}
	h.G.Freeze()

	// Step 4: Partition, then labels and arc flags side by side.
	cells, err := partition.Grid(h.G, cfg.Preprocess.GridRows, cfg.Preprocess.GridCols)
	if err != nil {
		return fmt.Errorf("partition: %w", err)
	}

	var (
		set   *labels.Set
		flags *arcflags.Flags
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		lopts := []labels.Option{labels.WithLogger(logger)}
		if cfg.Preprocess.RefinementDegree >= 0 {
			lopts = append(lopts, labels.WithRefinement(cfg.Preprocess.RefinementDegree))
		}
		var err error
		if set, err = labels.Build(egCtx, h, cells, lopts...); err != nil {
			return fmt.Errorf("build labels: %w", err)
		}
		if !cfg.Preprocess.Validate {
			return nil
		}
		began := time.Now()
		if err := set.Validate(); err != nil {
			return fmt.Errorf("validate labels: %w", err)
		}
		logger.Info("labels validated", "elapsed", time.Since(began).Round(time.Millisecond))
		return nil
	})
	if cfg.Preprocess.ArcFlags {
		eg.Go(func() error {
			var err error
			flags, err = arcflags.Compute(egCtx, h.G, cells, search.Forward,
				arcflags.WithLogger(logger), arcflags.WithWorkers(cfg.Preprocess.Workers))
			if err != nil {
				return fmt.Errorf("compute arc flags: %w", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	// Step 5: Write everything out.
	if err := graph.WriteBinary(cfg.Data.Graph, h); err != nil {
		return fmt.Errorf("write hierarchy: %w", err)
	}
	if err := labels.WriteFile(cfg.Data.Labels, set); err != nil {
		return fmt.Errorf("write labels: %w", err)
	}
	if flags != nil {
		if err := arcflags.WriteFile(cfg.Data.ArcFlags, flags); err != nil {
			return fmt.Errorf("write arc flags: %w", err)
		}
	}

	logger.Info("done",
		"elapsed", time.Since(start).Round(time.Second),
		"graph", cfg.Data.Graph,
		"labels", cfg.Data.Labels,
		"label_bytes", set.Mem())
	return nil
}
