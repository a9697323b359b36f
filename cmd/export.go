package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/geoquadtree/internal/pyramid"
	"github.com/kiesman99/geoquadtree/internal/render"
	"github.com/kiesman99/geoquadtree/internal/resample"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render a region of a pyramid to an image",
	Long: `Export renders a region at the requested size, reading the coarsest level
that still matches the output resolution. The output format follows the file
extension (.png, .jpg, .tif).

Examples:
  # PNG with world file
  gqt export --pyramid ./ortho --bbox 429000,4579000,431000,4581000 --size 1024,1024 -o region.png -w

  # Reprojected to geographic coordinates
  gqt export --pyramid ./osm --crs EPSG:4326 --bbox 2.0,41.3,2.3,41.5 --size 800,600 --filter bicubic -o bcn.tif`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("pyramid", "", "pyramid directory (required)")
	exportCmd.Flags().String("bbox", "", "region as 'minx,miny,maxx,maxy' (required)")
	exportCmd.Flags().String("size", "", "output size as 'W' or 'W,H' (required)")
	exportCmd.Flags().String("crs", "", "CRS of --bbox and of the output (default: the pyramid's)")
	exportCmd.Flags().String("filter", "nearest", "resampling filter (nearest|bicubic)")
	exportCmd.Flags().StringP("output", "o", "", "output file (required)")
	exportCmd.Flags().BoolP("worldfile", "w", false, "write world file")

	bindFlags(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := requireSettings(cmd, "pyramid", "bbox", "size", "output"); err != nil {
		return err
	}

	bounds, err := parseBound(setting(cmd, "bbox"))
	if err != nil {
		return fmt.Errorf("--bbox: %w", err)
	}
	size, err := parseSize(setting(cmd, "size"))
	if err != nil {
		return fmt.Errorf("--size: %w", err)
	}
	filter, err := resample.ParseFilter(setting(cmd, "filter"))
	if err != nil {
		return err
	}
	output := setting(cmd, "output")
	if _, err := tile.FormatFromPath(output); err != nil {
		return err
	}

	pyr, err := pyramid.Open(setting(cmd, "pyramid"))
	if err != nil {
		return err
	}

	r := render.New(pyr.Descriptor, pyr.Tiles, render.WithLogger(log))
	res, err := r.Render(cmd.Context(), &render.Options{
		Bounds: bounds,
		Width:  size[0],
		Height: size[1],
		CRS:    setting(cmd, "crs"),
		Filter: filter,
	})
	if err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		log.Warnf("%d tile(s) could not be read and were left transparent", len(res.Failed))
	}
	log.Debugf("depth %d: %d of %d tiles found", res.Depth, res.TilesFound, res.TilesTotal)

	if err := tile.EncodeFile(output, res.Image); err != nil {
		return err
	}
	log.Infof("wrote %s (%dx%d, %s)", output, res.Image.Width, res.Image.Height, res.CRS)

	if viper.GetBool(flagKey(cmd, "worldfile")) {
		name, err := tile.WriteWorldFile(output, res.WorldFile())
		if err != nil {
			return err
		}
		log.Infof("wrote %s", name)
	}
	return nil
}
