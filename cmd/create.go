package cmd

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/geoquadtree/internal/proj"
	"github.com/kiesman99/geoquadtree/internal/pyramid"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an empty pyramid",
	Long: `Create writes the descriptor of a new pyramid. The root tile is centred on
--origin and covers resolution * tile-size * 2^(levels-1) in every direction.

Examples:
  # 10 levels of 256x256 web mercator tiles at 2 m per pixel
  gqt create --pyramid ./osm --crs EPSG:3857 --levels 10 --resolution 2

  # Non-square pixels stored as JPEG
  gqt create --pyramid ./scan --crs EPSG:25831 --levels 8 --resolution 0.5,0.25 --tile-size 512 --name tile.jpg`,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().String("pyramid", "", "pyramid directory (required)")
	createCmd.Flags().String("crs", proj.WebMercator, "CRS of the stored raster")
	createCmd.Flags().Int("levels", 0, "depth of the leaf tiles")
	createCmd.Flags().String("resolution", "", "leaf pixel size as 'RX' or 'RX,RY' (required)")
	createCmd.Flags().String("tile-size", "256", "tile size in pixels as 'W' or 'W,H'")
	createCmd.Flags().String("origin", "0,0", "centre of the root tile as 'X,Y'")
	createCmd.Flags().String("name", "gqt.png", "tile file name, its extension selects the format")

	bindFlags(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	if err := requireSettings(cmd, "pyramid", "resolution"); err != nil {
		return err
	}

	res, err := parsePair(setting(cmd, "resolution"))
	if err != nil {
		return fmt.Errorf("--resolution: %w", err)
	}
	size, err := parseSize(setting(cmd, "tile-size"))
	if err != nil {
		return fmt.Errorf("--tile-size: %w", err)
	}
	origin, err := parsePair(setting(cmd, "origin"))
	if err != nil {
		return fmt.Errorf("--origin: %w", err)
	}

	d := &pyramid.Descriptor{
		TileName:  setting(cmd, "name"),
		CRS:       proj.Normalize(setting(cmd, "crs")),
		Origin:    orb.Point(origin),
		Levels:    viper.GetInt(flagKey(cmd, "levels")),
		TileSize:  size,
		PixelSize: res,
	}
	pyr, err := pyramid.Create(setting(cmd, "pyramid"), d)
	if err != nil {
		return err
	}

	root := pyr.Descriptor.RootExtent()
	log.Infof("created pyramid %s: %s, %d levels, root extent [%g %g, %g %g]",
		pyr.Dir, d.CRS, d.Levels, root.Min[0], root.Min[1], root.Max[0], root.Max[1])
	return nil
}
