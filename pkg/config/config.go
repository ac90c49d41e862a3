// Package config provides configuration loading and management for medview.
// It loads YAML files, or TOML files by extension, over built-in defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"medview/pkg/histogram"
	"medview/pkg/manager"
)

// Config represents the application configuration
type Config struct {
	// Filter parameters of the processing catalog
	Filters struct {
		// AverageSize is the box kernel size of the 2D average blur
		AverageSize int `yaml:"averageSize" toml:"averageSize"`

		// UniformSize is the window of the volumetric average blur
		UniformSize int `yaml:"uniformSize" toml:"uniformSize"`

		// GaussianSigma is the standard deviation of the Gaussian blur
		GaussianSigma float64 `yaml:"gaussianSigma" toml:"gaussianSigma"`

		// MedianSize is the median filter window
		MedianSize int `yaml:"medianSize" toml:"medianSize"`

		// RankSize is the maximum and minimum filter window
		RankSize int `yaml:"rankSize" toml:"rankSize"`
	} `yaml:"filters" toml:"filters"`

	// Noise parameters
	Noise struct {
		// SNR is the fraction of locations left untouched by salt-and-pepper noise
		SNR float64 `yaml:"snr" toml:"snr"`

		// StdDev is the standard deviation of additive Gaussian noise
		StdDev float64 `yaml:"stdDev" toml:"stdDev"`

		// Seed seeds the noise generator
		Seed uint64 `yaml:"seed" toml:"seed"`
	} `yaml:"noise" toml:"noise"`

	// Tone curve parameters
	Tone struct {
		GammaHigh float64 `yaml:"gammaHigh" toml:"gammaHigh"`
		GammaLow  float64 `yaml:"gammaLow" toml:"gammaLow"`
	} `yaml:"tone" toml:"tone"`

	// Histogram presentation
	Histogram struct {
		// Bins is the number of histogram bins
		Bins int `yaml:"bins" toml:"bins"`

		// Width and Height are the chart size in inches
		Width  float64 `yaml:"width" toml:"width"`
		Height float64 `yaml:"height" toml:"height"`
	} `yaml:"histogram" toml:"histogram"`

	// Output parameters
	Output struct {
		// JPEGQuality is the quality of written JPEG files
		JPEGQuality int `yaml:"jpegQuality" toml:"jpegQuality"`

		// Compress enables compressed VTK XML and TIFF output
		Compress bool `yaml:"compress" toml:"compress"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`

	// Logging destination
	Logging struct {
		// File is the log file; empty logs to stderr
		File string `yaml:"file" toml:"file"`

		// MaxSizeMB is the size at which the log file is rotated
		MaxSizeMB int `yaml:"maxSizeMB" toml:"maxSizeMB"`

		// MaxBackups is the number of rotated files kept
		MaxBackups int `yaml:"maxBackups" toml:"maxBackups"`
	} `yaml:"logging" toml:"logging"`

	// Batch processing
	Batch struct {
		// Workers is the number of files processed concurrently
		Workers int `yaml:"workers" toml:"workers"`
	} `yaml:"batch" toml:"batch"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	d := manager.DefaultSettings()

	cfg.Filters.AverageSize = d.AverageSize
	cfg.Filters.UniformSize = d.UniformSize
	cfg.Filters.GaussianSigma = d.GaussianSigma
	cfg.Filters.MedianSize = d.MedianSize
	cfg.Filters.RankSize = d.RankSize

	cfg.Noise.SNR = d.SNR
	cfg.Noise.StdDev = d.NoiseStdDev
	cfg.Noise.Seed = 1

	cfg.Tone.GammaHigh = d.GammaHigh
	cfg.Tone.GammaLow = d.GammaLow

	cfg.Histogram.Bins = histogram.DefaultBins
	cfg.Histogram.Width = 6
	cfg.Histogram.Height = 4

	cfg.Output.JPEGQuality = 90
	cfg.Output.Compress = true
	cfg.Output.Verbose = false

	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3

	cfg.Batch.Workers = runtime.NumCPU() // Use all available cores by default

	return cfg
}

// Settings returns the catalog parameters held by the configuration
func (c *Config) Settings() manager.Defaults {
	return manager.Defaults{
		AverageSize:   c.Filters.AverageSize,
		UniformSize:   c.Filters.UniformSize,
		GaussianSigma: c.Filters.GaussianSigma,
		MedianSize:    c.Filters.MedianSize,
		RankSize:      c.Filters.RankSize,
		SNR:           c.Noise.SNR,
		NoiseStdDev:   c.Noise.StdDev,
		GammaHigh:     c.Tone.GammaHigh,
		GammaLow:      c.Tone.GammaLow,
	}
}

// Validate checks values that the operations cannot recover from
func (c *Config) Validate() error {
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("output.jpegQuality %d outside [1, 100]", c.Output.JPEGQuality)
	}
	if c.Histogram.Bins < 1 {
		return fmt.Errorf("histogram.bins must be positive, got %d", c.Histogram.Bins)
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	if isTOML(configPath) {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		return cfg, cfg.Validate()
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

	return cfg, cfg.Validate()
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
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
