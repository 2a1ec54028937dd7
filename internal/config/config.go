package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	NativeDir     string `env:"NATIVE_DIR" envDefault:"data/native"`
	ScratchDir    string `env:"SCRATCH_DIR" envDefault:"data/native_grids"`
	AggregatedDir string `env:"AGGREGATED_DIR" envDefault:"data/agg_to_target"`

	RegionName string `env:"REGION_NAME" envDefault:"iberia"`
	// RegionBounds is lon_min,lon_max,lat_min,lat_max in degrees.
	RegionBounds []float64 `env:"REGION_BOUNDS" envDefault:"-9.5,4.3,36.0,43.8" envSeparator:","`
	YearStart    int       `env:"YEAR_START" envDefault:"1980"`
	YearEnd      int       `env:"YEAR_END" envDefault:"2017"`
	Variable     string    `env:"VARIABLE" envDefault:"pr"`
	Seasons      []string  `env:"SEASONS" envDefault:"annual,amj,aso" envSeparator:","`

	// DatasetVersions selects the datasets to process and their versions.
	DatasetVersions map[string]string `env:"DATASET_VERSIONS" envDefault:"DePreSys=3,chirps=2.0,eobs=21,iberia01=1.0" envSeparator:"," envKeyValSeparator:"="`
	// SourceTemplates overrides per-dataset file templates under NativeDir.
	SourceTemplates  map[string]string `env:"SOURCE_TEMPLATES" envSeparator:"," envKeyValSeparator:"="`
	TargetDataset    string            `env:"TARGET_DATASET" envDefault:"DePreSys"`
	ReferenceDataset string            `env:"REFERENCE_DATASET" envDefault:"chirps"`

	MDTol         float64 `env:"MDTOL" envDefault:"1"`
	ZeroTolerance float64 `env:"ZERO_TOLERANCE" envDefault:"0"`
	// SubsetMargin of 0 derives the margin from the target grid.
	SubsetMargin   float64 `env:"SUBSET_MARGIN" envDefault:"0"`
	Workers        int     `env:"WORKERS" envDefault:"4"`
	FieldCacheSize int     `env:"FIELD_CACHE_SIZE" envDefault:"32"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	KafkaBrokers      []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaResultsTopic string   `env:"KAFKA_RESULTS_TOPIC" envDefault:"precip-etl-results"`
	NotifyEnabled     bool     `env:"NOTIFY_ENABLED" envDefault:"false"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Region returns the configured bounding box.
func (c *Config) Region() domain.Region {
	return domain.Region{
		Name:   c.RegionName,
		LonMin: c.RegionBounds[0],
		LonMax: c.RegionBounds[1],
		LatMin: c.RegionBounds[2],
		LatMax: c.RegionBounds[3],
	}
}

// SeasonDefinitions parses the configured season tokens.
func (c *Config) SeasonDefinitions() ([]domain.SeasonDefinition, error) {
	out := make([]domain.SeasonDefinition, 0, len(c.Seasons))
	for _, tok := range c.Seasons {
		s, err := domain.ParseSeason(strings.TrimSpace(tok))
		if err != nil {
			return nil, fmt.Errorf("SEASONS: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Datasets returns the configured dataset names in sorted order.
func (c *Config) Datasets() []string {
	names := make([]string, 0, len(c.DatasetVersions))
	for n := range c.DatasetVersions {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (c *Config) validate() error {
	if c.NativeDir == "" || c.ScratchDir == "" || c.AggregatedDir == "" {
		return errors.New("NATIVE_DIR, SCRATCH_DIR and AGGREGATED_DIR are required")
	}
	if c.RegionName == "" || strings.Contains(c.RegionName, "_") {
		return fmt.Errorf("REGION_NAME %q must be non-empty and free of '_'", c.RegionName)
	}
	if len(c.RegionBounds) != 4 {
		return fmt.Errorf("REGION_BOUNDS needs 4 values (lon_min,lon_max,lat_min,lat_max), got %d", len(c.RegionBounds))
	}
	if err := c.Region().Validate(); err != nil {
		return fmt.Errorf("REGION_BOUNDS: %w", err)
	}
	if c.YearStart > c.YearEnd {
		return fmt.Errorf("YEAR_START %d is after YEAR_END %d", c.YearStart, c.YearEnd)
	}
	if len(c.Seasons) == 0 {
		return errors.New("SEASONS is required")
	}
	if _, err := c.SeasonDefinitions(); err != nil {
		return err
	}
	if len(c.DatasetVersions) == 0 {
		return errors.New("DATASET_VERSIONS is required")
	}
	if _, ok := c.DatasetVersions[c.TargetDataset]; !ok {
		return fmt.Errorf("TARGET_DATASET %q is not listed in DATASET_VERSIONS", c.TargetDataset)
	}
	if _, ok := c.DatasetVersions[c.ReferenceDataset]; !ok {
		return fmt.Errorf("REFERENCE_DATASET %q is not listed in DATASET_VERSIONS", c.ReferenceDataset)
	}
	if c.MDTol < 0 || c.MDTol > 1 {
		return fmt.Errorf("MDTOL %g must be within [0, 1]", c.MDTol)
	}
	if c.ZeroTolerance < 0 {
		return fmt.Errorf("ZERO_TOLERANCE %g must not be negative", c.ZeroTolerance)
	}
	if c.SubsetMargin < 0 {
		return fmt.Errorf("SUBSET_MARGIN %g must not be negative", c.SubsetMargin)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS %d must be at least 1", c.Workers)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.NotifyEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when NOTIFY_ENABLED is true")
		}
		if c.KafkaResultsTopic == "" {
			return errors.New("KAFKA_RESULTS_TOPIC is required when NOTIFY_ENABLED is true")
		}
	}
	return nil
}
