package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
server:
  port: 9090
  timeout: 5s
  tile_cache: 0
layers:
  - name: ortho
    title: Orthophoto
    srs: [EPSG:3857, EPSG:4326]
    rasters:
      - pyramid: /data/ortho-low
        min_res: 10
      - pyramid: /data/ortho-high
        max_res: 10
        filter: bicubic
`

func load(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return Load(v)
}

func TestLoad(t *testing.T) {
	c, err := load(t, sample)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "localhost", c.Server.Bind)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 5*time.Second, c.Server.Timeout)
	assert.Equal(t, 0, c.Server.TileCache)
	assert.Equal(t, 4096, c.Server.MaxWidth)

	require.Len(t, c.Layers, 1)
	l := c.Layers[0]
	assert.Equal(t, "ortho", l.Name)
	assert.Equal(t, []string{"EPSG:3857", "EPSG:4326"}, l.SRS)
	require.Len(t, l.Rasters, 2)
	assert.Equal(t, "bicubic", l.Rasters[1].Filter)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"no rasters":     "layers:\n  - name: a\n",
		"unnamed layer":  "layers:\n  - rasters:\n      - pyramid: /p\n",
		"bad filter":     "layers:\n  - name: a\n    rasters:\n      - pyramid: /p\n        filter: lanczos\n",
		"inverted range": "layers:\n  - name: a\n    rasters:\n      - pyramid: /p\n        min_res: 5\n        max_res: 1\n",
		"duplicate": "layers:\n  - name: a\n    rasters:\n      - pyramid: /p\n" +
			"  - name: a\n    rasters:\n      - pyramid: /q\n",
		"bad port": "server:\n  port: 70000\n",
	} {
		_, err := load(t, doc)
		assert.ErrorIs(t, err, ErrInvalid, name)
	}
}

func TestEnvOverride(t *testing.T) {
	assert.Equal(t, "GQT_SERVER_MAX_WIDTH", EnvName("server.max_width"))

	t.Setenv("GQT_SERVER_PORT", "7000")
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7000, c.Server.Port)
}

func TestRasterVisible(t *testing.T) {
	r := Raster{MinRes: 1, MaxRes: 10}
	assert.False(t, r.Visible(0.5))
	assert.True(t, r.Visible(1))
	assert.True(t, r.Visible(10))
	assert.False(t, r.Visible(11))
	assert.True(t, Raster{}.Visible(1e9))
}
