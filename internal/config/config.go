// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ironsheep/landmark-mcp/internal/model"
	"github.com/ironsheep/landmark-mcp/internal/tensor"
)

// ErrInvalidConfig is returned when a setting cannot be parsed or fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

const prefix = "LANDMARK_MCP_"

// Environment variable names.
const (
	EnvDotenv         = prefix + "DOTENV"
	EnvLandmarks      = prefix + "LANDMARKS"
	EnvGridHeight     = prefix + "GRID_HEIGHT"
	EnvGridWidth      = prefix + "GRID_WIDTH"
	EnvOriginalHeight = prefix + "ORIGINAL_HEIGHT"
	EnvOriginalWidth  = prefix + "ORIGINAL_WIDTH"
	EnvPatchHeight    = prefix + "PATCH_HEIGHT"
	EnvPatchWidth     = prefix + "PATCH_WIDTH"
	EnvSigma          = prefix + "SIGMA"
	EnvRadius         = prefix + "RADIUS"
	EnvSpacing        = prefix + "SPACING"
	EnvVariant        = prefix + "VARIANT"
	EnvCacheSize      = prefix + "CACHE_SIZE"
	EnvLogLevel       = prefix + "LOG_LEVEL"
	EnvLogFile        = prefix + "LOG_FILE"
)

// Config holds the settings shared by the tool server and the model core.
type Config struct {
	Landmarks int `validate:"gt=0"`
	Grid      tensor.Size
	Original  tensor.Size
	Patch     tensor.Size
	Sigma     float64 `validate:"gt=0"`
	Radius    float64 `validate:"gt=0"`
	Spacing   float64 `validate:"gt=0"`
	Variant   string  `validate:"oneof=heatmap hourglass offset cascade"`
	// CacheSize bounds the number of radiographs kept in memory.
	CacheSize int    `validate:"gt=0"`
	LogLevel  string `validate:"omitempty,oneof=trace debug info warn warning error"`
	LogFile   string
}

// Default returns the settings for 19-landmark cephalograms.
func Default() Config {
	return Config{
		Landmarks: 19,
		Grid:      tensor.Size{Height: 800, Width: 640},
		Original:  tensor.Size{Height: 2400, Width: 1935},
		Patch:     tensor.Size{Height: 96, Width: 96},
		Sigma:     1,
		Radius:    41,
		Spacing:   0.1,
		Variant:   string(model.Heatmap),
		CacheSize: 16,
		LogLevel:  "info",
	}
}

var validate = validator.New()

// Load reads the .env file named by LANDMARK_MCP_DOTENV (default ".env") if it
// exists, then builds the configuration from the process environment. Variables
// already set in the environment win over the file.
func Load() (Config, error) {
	file := os.Getenv(EnvDotenv)
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, file, err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a configuration from defaults overridden by lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.intVar(EnvLandmarks, &cfg.Landmarks)
	p.intVar(EnvGridHeight, &cfg.Grid.Height)
	p.intVar(EnvGridWidth, &cfg.Grid.Width)
	p.intVar(EnvOriginalHeight, &cfg.Original.Height)
	p.intVar(EnvOriginalWidth, &cfg.Original.Width)
	p.intVar(EnvPatchHeight, &cfg.Patch.Height)
	p.intVar(EnvPatchWidth, &cfg.Patch.Width)
	p.floatVar(EnvSigma, &cfg.Sigma)
	p.floatVar(EnvRadius, &cfg.Radius)
	p.floatVar(EnvSpacing, &cfg.Spacing)
	p.stringVar(EnvVariant, &cfg.Variant)
	p.intVar(EnvCacheSize, &cfg.CacheSize)
	p.stringVar(EnvLogLevel, &cfg.LogLevel)
	p.stringVar(EnvLogFile, &cfg.LogFile)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ModelOptions returns model options carrying these settings. Backbones are left
// for the caller to set.
func (c Config) ModelOptions() model.Options {
	opts := model.DefaultOptions()
	opts.Landmarks = c.Landmarks
	opts.Grid = c.Grid
	opts.Original = c.Original
	opts.Patch = c.Patch
	opts.Sigma = c.Sigma
	opts.Radius = c.Radius
	opts.Loss.Radius = c.Radius
	opts.Metric.Spacing = c.Spacing
	return opts
}

// parser records the first parse failure and skips the rest.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) get(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (p *parser) intVar(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
		return
	}
	*dst = n
}

func (p *parser) floatVar(key string, dst *float64) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, key, v)
		return
	}
	*dst = f
}

func (p *parser) stringVar(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}
