package cmd

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds every local flag of cmd to the viper key
// "<command>.<flag_name>", so GQT_IMPORT_FILE overrides import --file.
func bindFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		cobra.CheckErr(viper.BindPFlag(flagKey(cmd, f.Name), f))
	})
}

func flagKey(cmd *cobra.Command, name string) string {
	return cmd.Name() + "." + strcase.ToSnake(name)
}

// setting returns the string value of a command flag after viper resolution
func setting(cmd *cobra.Command, name string) string {
	return viper.GetString(flagKey(cmd, name))
}

func requireSettings(cmd *cobra.Command, names ...string) error {
	for _, n := range names {
		if setting(cmd, n) == "" {
			return fmt.Errorf("--%s is required", n)
		}
	}
	return nil
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out[i] = v
	}
	return out, nil
}

// parseBound parses "minx,miny,maxx,maxy"
func parseBound(s string) (orb.Bound, error) {
	v, err := parseFloats(s)
	if err != nil {
		return orb.Bound{}, err
	}
	if len(v) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be in format 'minx,miny,maxx,maxy'")
	}
	if !(v[2] > v[0] && v[3] > v[1]) {
		return orb.Bound{}, fmt.Errorf("bbox %q is empty or inverted", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// parsePair parses "X" or "X,Y"; a single value applies to both axes
func parsePair(s string) ([2]float64, error) {
	v, err := parseFloats(s)
	if err != nil {
		return [2]float64{}, err
	}
	switch len(v) {
	case 1:
		return [2]float64{v[0], v[0]}, nil
	case 2:
		return [2]float64{v[0], v[1]}, nil
	}
	return [2]float64{}, fmt.Errorf("expected 'X' or 'X,Y', got %q", s)
}

// parseSize parses "W" or "W,H" as positive integers
func parseSize(s string) ([2]int, error) {
	p, err := parsePair(s)
	if err != nil {
		return [2]int{}, err
	}
	w, h := int(p[0]), int(p[1])
	if float64(w) != p[0] || float64(h) != p[1] || w <= 0 || h <= 0 {
		return [2]int{}, fmt.Errorf("invalid size %q", s)
	}
	return [2]int{w, h}, nil
}

// parseRGB parses "R,G,B" with components in 0..255
func parseRGB(s string) (*color.NRGBA, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("colour must be in format 'R,G,B'")
	}
	var c [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid colour component %q", p)
		}
		c[i] = uint8(v)
	}
	return &color.NRGBA{R: c[0], G: c[1], B: c[2], A: 255}, nil
}
