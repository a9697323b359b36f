// Package config loads the settings of the gqt commands and the WMS server.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/spf13/viper"

	"github.com/kiesman99/geoquadtree/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g. GQT_SERVER_PORT
const EnvPrefix = "GQT"

// ErrInvalid marks configuration that failed validation
var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	Log    logger.Config `mapstructure:"log"`
	Server Server        `mapstructure:"server"`
	Layers []Layer       `mapstructure:"layers" validate:"dive"`
}

type Server struct {
	Bind      string        `mapstructure:"bind"`
	Port      int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MaxWidth  int           `mapstructure:"max_width" validate:"gt=0"`
	MaxHeight int           `mapstructure:"max_height" validate:"gt=0"`
	// TileCache is the number of decoded tiles kept per pyramid, 0 disables caching.
	TileCache int    `mapstructure:"tile_cache" validate:"gte=0"`
	Title     string `mapstructure:"title"`
}

// Layer is a named stack of rasters published by the WMS
type Layer struct {
	Name  string   `mapstructure:"name" validate:"required"`
	Title string   `mapstructure:"title"`
	SRS   []string `mapstructure:"srs"`
	// Rasters are drawn in order, later ones over earlier ones.
	Rasters []Raster `mapstructure:"rasters" validate:"required,min=1,dive"`
}

// Raster is one pyramid within a layer, optionally limited to a range of
// requested pixel sizes
type Raster struct {
	Pyramid string  `mapstructure:"pyramid" validate:"required"`
	MinRes  float64 `mapstructure:"min_res" validate:"gte=0"`
	MaxRes  float64 `mapstructure:"max_res" validate:"gte=0"`
	Filter  string  `mapstructure:"filter" validate:"omitempty,oneof=nearest bicubic"`
}

// Visible reports whether the raster applies at pixel size res. Zero
// bounds are open.
func (r Raster) Visible(res float64) bool {
	if r.MinRes > 0 && res < r.MinRes {
		return false
	}
	if r.MaxRes > 0 && res > r.MaxRes {
		return false
	}
	return true
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("server.bind", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.max_width", 4096)
	v.SetDefault("server.max_height", 4096)
	v.SetDefault("server.tile_cache", 1024)
	v.SetDefault("server.title", "geoquadtree WMS")
}

// BindEnv binds every known key to GQT_<KEY> with the key in screaming
// snake case
func BindEnv(v *viper.Viper) error {
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key, EnvName(key)); err != nil {
			return err
		}
	}
	return nil
}

// EnvName returns the environment variable overriding key
func EnvName(key string) string {
	return EnvPrefix + "_" + strcase.ToScreamingSnake(key)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	seen := make(map[string]bool, len(c.Layers))
	for _, l := range c.Layers {
		if seen[l.Name] {
			return fmt.Errorf("%w: duplicate layer %q", ErrInvalid, l.Name)
		}
		seen[l.Name] = true
		for _, r := range l.Rasters {
			if r.MaxRes > 0 && r.MinRes > r.MaxRes {
				return fmt.Errorf("%w: layer %q: min_res %g exceeds max_res %g", ErrInvalid, l.Name, r.MinRes, r.MaxRes)
			}
		}
	}
	return nil
}
