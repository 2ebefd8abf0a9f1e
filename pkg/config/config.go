// Package config provides configuration loading and management for envbme.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"envbme/pkg/covariance"
	"envbme/pkg/solver"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Covariance modeling parameters
	Covariance struct {
		// Family names the covariance model family to fit
		Family string `yaml:"family"`

		// Initial seeds the Nelder-Mead fit
		Initial covariance.Params `yaml:"initial"`

		// MaxSpatialLag and MaxTemporalLag bound the empirical lag ladders
		MaxSpatialLag  float64 `yaml:"maxSpatialLag"`
		MaxTemporalLag float64 `yaml:"maxTemporalLag"`

		// SpatialBins and TemporalBins size the log-spaced lag ladders
		SpatialBins  int `yaml:"spatialBins"`
		TemporalBins int `yaml:"temporalBins"`

		// Sectors are axial bearing centers in degrees for directional
		// analysis; empty disables it
		Sectors []float64 `yaml:"sectors"`

		// SectorTolerance is the half-width of each sector in degrees
		SectorTolerance float64 `yaml:"sectorTolerance"`

		// MaxIterations caps the fit optimizer
		MaxIterations int `yaml:"maxIterations"`
	} `yaml:"covariance"`

	// Solver parameters passed straight to the moment solver
	Solver solver.Options `yaml:"solver"`

	// Smoothing parameters
	Smoothing struct {
		// Enabled switches local-mean trend removal on before estimation
		Enabled bool `yaml:"enabled"`
	} `yaml:"smoothing"`

	// Cache parameters
	Cache struct {
		// Dir is the on-disk cache root; empty disables caching
		Dir string `yaml:"dir"`

		// RunName scopes cache entries; empty generates a fresh one
		RunName string `yaml:"runName"`
	} `yaml:"cache"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel estimation
		NumCores int `yaml:"numCores"`

		// CrossValidate runs leave-one-out validation before estimation
		CrossValidate bool `yaml:"crossValidate"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Covariance.Family = covariance.Exponential.String()
	cfg.Covariance.Initial = covariance.Params{
		Sill:          1.0,
		SpatialRange:  10.0,
		TemporalRange: 50.0,
	}
	cfg.Covariance.MaxSpatialLag = 10.0
	cfg.Covariance.MaxTemporalLag = 50.0
	cfg.Covariance.SpatialBins = 15
	cfg.Covariance.TemporalBins = 15
	cfg.Covariance.SectorTolerance = 22.5
	cfg.Covariance.MaxIterations = 1000

	cfg.Solver = solver.DefaultOptions()

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
