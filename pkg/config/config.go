// Package config loads the YAML configuration shared by the preprocess and
// server commands.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root of the configuration file.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Server     ServerConfig     `yaml:"server"`
	Search     SearchConfig     `yaml:"search"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DataConfig names the preprocessed files.
type DataConfig struct {
	Graph    string `yaml:"graph"`
	Labels   string `yaml:"labels"`
	ArcFlags string `yaml:"arc_flags"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	CORSOrigin     string        `yaml:"cors_origin"`
	Metrics        bool          `yaml:"metrics"`
}

// SearchConfig bounds individual route queries. Zero cutoffs mean unlimited.
type SearchConfig struct {
	HeuristicScale   float64 `yaml:"heuristic_scale"`
	ExpansionCutoff  uint64  `yaml:"expansion_cutoff"`
	CostCutoffMeters float64 `yaml:"cost_cutoff_meters"`
}

// PreprocessConfig controls hierarchy and label construction.
type PreprocessConfig struct {
	GridRows int  `yaml:"grid_rows"`
	GridCols int  `yaml:"grid_cols"`
	Simplify bool `yaml:"simplify"` // fold non-junction way nodes into edge shapes

	// RefinementDegree enables label refinement for nodes with more than
	// this many outgoing edges; negative disables it.
	RefinementDegree int  `yaml:"refinement_degree"`
	ArcFlags         bool `yaml:"arc_flags"`
	Workers          int  `yaml:"workers"`
	CoreLimit        int  `yaml:"core_limit"`

	// Validate re-checks every label against the hierarchy after building.
	// It is quadratic in the graph size.
	Validate bool `yaml:"validate"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Data: DataConfig{
			Graph:    "graph.bin",
			Labels:   "graph.labels",
			ArcFlags: "graph.flags",
		},
		Server: ServerConfig{
			Addr:           ":8091",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Second,
			RequestTimeout: 5 * time.Second,
			MaxConcurrent:  runtime.NumCPU() * 2,
			Metrics:        true,
		},
		Search: SearchConfig{
			HeuristicScale: 0.99,
		},
		Preprocess: PreprocessConfig{
			GridRows:         8,
			GridCols:         8,
			Simplify:         true,
			RefinementDegree: -1,
			ArcFlags:         true,
			Workers:          runtime.GOMAXPROCS(0),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return fmt.Errorf("%w: server.addr is empty", ErrInvalid)
	case c.Server.MaxConcurrent <= 0:
		return fmt.Errorf("%w: server.max_concurrent must be positive", ErrInvalid)
	case c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.RequestTimeout < 0:
		return fmt.Errorf("%w: server timeouts must not be negative", ErrInvalid)
	case c.Search.HeuristicScale < 0:
		return fmt.Errorf("%w: search.heuristic_scale must not be negative", ErrInvalid)
	case c.Search.CostCutoffMeters < 0:
		return fmt.Errorf("%w: search.cost_cutoff_meters must not be negative", ErrInvalid)
	case c.Preprocess.GridRows <= 0 || c.Preprocess.GridCols <= 0:
		return fmt.Errorf("%w: preprocess grid must be at least 1x1", ErrInvalid)
	case c.Preprocess.Workers <= 0:
		return fmt.Errorf("%w: preprocess.workers must be positive", ErrInvalid)
	}
	if _, err := c.Logging.level(); err != nil {
		return err
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		return fmt.Errorf("%w: logging.format %q is not text or json", ErrInvalid, c.Logging.Format)
	}
	return nil
}

func (l LoggingConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: logging.level %q", ErrInvalid, l.Level)
	}
	return lvl, nil
}

// NewLogger builds the slog logger the commands install as default.
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
