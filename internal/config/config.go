// Package config loads the YAML configuration of foil-inspector and hands
// each stage its own settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"foil-inspector/internal/classify"
	"foil-inspector/internal/edgemask"
	"foil-inspector/internal/histogram"
	"foil-inspector/internal/poster"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	Poster     PosterConfig     `yaml:"poster"`
	Features   FeaturesConfig   `yaml:"features"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Classify   ClassifyConfig   `yaml:"classify"`
	EdgeMask   EdgeMaskConfig   `yaml:"edgeMask"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Compat     CompatConfig     `yaml:"compat"`
	Batch      BatchConfig      `yaml:"batch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type PosterConfig struct {
	ExcludeDirt    bool    `yaml:"excludeDirt"`
	ExcludePt      bool    `yaml:"excludePt"`
	MorphKernel    int     `yaml:"morphKernel"`
	KuwaharaWindow int     `yaml:"kuwaharaWindow"`
	GaussRadius1   int     `yaml:"gaussRadius1"`
	GaussRadius2   int     `yaml:"gaussRadius2"`
	ResizeFactor   float64 `yaml:"resizeFactor"`
	KuwaharaOnly   bool    `yaml:"kuwaharaOnly"`
}

// FeaturesConfig controls histogram smoothing and how many peaks and
// valleys each region keeps.
type FeaturesConfig struct {
	SmoothPasses int `yaml:"smoothPasses"`
	MaxFeatures  int `yaml:"maxFeatures"`
}

type ThresholdsConfig struct {
	// SmallRegionFloor is the population below which a region borrows the
	// dominant region's cutoffs.
	SmallRegionFloor int `yaml:"smallRegionFloor"`
}

type ClassifyConfig struct {
	DirtKernelRadius int `yaml:"dirtKernelRadius"`
}

type EdgeMaskConfig struct {
	MaxFeatureSize      int `yaml:"maxFeatureSize"`
	BackgroundThreshold int `yaml:"backgroundThreshold"`
}

type AnalysisConfig struct {
	// Resolution is the area of one pixel in square microns.
	Resolution float64 `yaml:"resolution"`
	// AutoEdgeMask masks the scan border when no mask file is given.
	AutoEdgeMask bool `yaml:"autoEdgeMask"`
	// PosterExcludePt overrides the poster's platinum exclusion during
	// analysis.
	PosterExcludePt bool `yaml:"posterExcludePt"`
}

// CompatConfig switches on historical behaviour for regression runs.
type CompatConfig struct {
	LegacyFeatureFilter bool `yaml:"legacyFeatureFilter"`
	LegacyEdgeWarning   bool `yaml:"legacyEdgeWarning"`
}

type BatchConfig struct {
	Workers       int `yaml:"workers"`
	RegionWorkers int `yaml:"regionWorkers"`
}

// LoggingConfig selects the log level and output. JSON lines come from
// zerolog unless Backend is "logrus".
type LoggingConfig struct {
	Level   string `yaml:"level"`
	JSON    bool   `yaml:"json"`
	Backend string `yaml:"backend"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	p := poster.DefaultConfig()
	f := histogram.DefaultFeatureConfig()
	e := edgemask.DefaultConfig()

	return &Config{
		Poster: PosterConfig{
			ExcludeDirt:    p.ExcludeDirt,
			ExcludePt:      p.ExcludePt,
			MorphKernel:    p.MorphKernel,
			KuwaharaWindow: p.KuwaharaWindow,
			GaussRadius1:   p.GaussRadius1,
			GaussRadius2:   p.GaussRadius2,
			ResizeFactor:   p.ResizeFactor,
			KuwaharaOnly:   p.KuwaharaOnly,
		},
		Features:   FeaturesConfig{SmoothPasses: f.SmoothPasses, MaxFeatures: f.MaxFeatures},
		Thresholds: ThresholdsConfig{SmallRegionFloor: classify.DefaultSmallRegionFloor},
		Classify:   ClassifyConfig{DirtKernelRadius: classify.DefaultDirtKernelRadius},
		EdgeMask: EdgeMaskConfig{
			MaxFeatureSize:      e.MaxFeatureSize,
			BackgroundThreshold: e.BackgroundThreshold,
		},
		Analysis: AnalysisConfig{
			Resolution:      1,
			AutoEdgeMask:    false,
			PosterExcludePt: true,
		},
		Batch: BatchConfig{
			Workers:       runtime.NumCPU(),
			RegionWorkers: 6,
		},
		Logging: LoggingConfig{Level: "info", Backend: "zerolog"},
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Poster.MorphKernel > 0, "poster.morphKernel must be positive, got %d", c.Poster.MorphKernel)
	check(c.Poster.KuwaharaWindow > 0, "poster.kuwaharaWindow must be positive, got %d", c.Poster.KuwaharaWindow)
	check(c.Poster.GaussRadius1 > 0, "poster.gaussRadius1 must be positive, got %d", c.Poster.GaussRadius1)
	check(c.Poster.GaussRadius2 > 0, "poster.gaussRadius2 must be positive, got %d", c.Poster.GaussRadius2)
	check(c.Poster.ResizeFactor > 0 && c.Poster.ResizeFactor <= 1,
		"poster.resizeFactor must be in (0,1], got %v", c.Poster.ResizeFactor)
	check(c.Features.SmoothPasses >= 0, "features.smoothPasses must not be negative, got %d", c.Features.SmoothPasses)
	check(c.Features.MaxFeatures > 0, "features.maxFeatures must be positive, got %d", c.Features.MaxFeatures)
	check(c.Thresholds.SmallRegionFloor >= 0, "thresholds.smallRegionFloor must not be negative, got %d", c.Thresholds.SmallRegionFloor)
	check(c.Classify.DirtKernelRadius >= 0, "classify.dirtKernelRadius must not be negative, got %d", c.Classify.DirtKernelRadius)
	check(c.EdgeMask.MaxFeatureSize > 0, "edgeMask.maxFeatureSize must be positive, got %d", c.EdgeMask.MaxFeatureSize)
	check(c.EdgeMask.BackgroundThreshold >= 0 && c.EdgeMask.BackgroundThreshold <= 255,
		"edgeMask.backgroundThreshold must be in [0,255], got %d", c.EdgeMask.BackgroundThreshold)
	check(c.Analysis.Resolution > 0, "analysis.resolution must be positive, got %v", c.Analysis.Resolution)
	check(c.Batch.Workers > 0, "batch.workers must be positive, got %d", c.Batch.Workers)
	check(c.Logging.Backend == "zerolog" || c.Logging.Backend == "logrus",
		"logging.backend must be zerolog or logrus, got %q", c.Logging.Backend)
	check(c.Batch.RegionWorkers > 0, "batch.regionWorkers must be positive, got %d", c.Batch.RegionWorkers)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
	}
	return nil
}

func (c *Config) PosterBuilder() poster.Config {
	return poster.Config{
		ExcludeDirt:    c.Poster.ExcludeDirt,
		ExcludePt:      c.Poster.ExcludePt,
		MorphKernel:    c.Poster.MorphKernel,
		KuwaharaWindow: c.Poster.KuwaharaWindow,
		GaussRadius1:   c.Poster.GaussRadius1,
		GaussRadius2:   c.Poster.GaussRadius2,
		ResizeFactor:   c.Poster.ResizeFactor,
		KuwaharaOnly:   c.Poster.KuwaharaOnly,
	}
}

func (c *Config) HistogramFeatures() histogram.FeatureConfig {
	return histogram.FeatureConfig{
		SmoothPasses: c.Features.SmoothPasses,
		MaxFeatures:  c.Features.MaxFeatures,
	}
}

func (c *Config) EdgeMasker() edgemask.Config {
	return edgemask.Config{
		MaxFeatureSize:      c.EdgeMask.MaxFeatureSize,
		BackgroundThreshold: c.EdgeMask.BackgroundThreshold,
		LegacyWarning:       c.Compat.LegacyEdgeWarning,
	}
}
