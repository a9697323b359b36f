package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/cheggaaa/pb.v1"

	"github.com/kiesman99/geoquadtree/internal/builder"
	"github.com/kiesman99/geoquadtree/internal/pyramid"
	"github.com/kiesman99/geoquadtree/internal/resample"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a georeferenced image into a pyramid",
	Long: `Import cuts an image into leaf tiles, fuses them over the tiles already
stored and regenerates the overviews above them.

The image extent is taken from --bbox or, when omitted, from the world file
next to the image (.pgw, .jgw, .tfw, .wld, ...). Images whose pixel size
differs from the pyramid's are resampled onto the pyramid grid first.

Examples:
  # Georeferenced by ortho.pgw, black pixels are nodata
  gqt import --pyramid ./ortho --file ortho.png --nodata 0,0,0

  # Explicit extent, bicubic resampling
  gqt import --pyramid ./ortho --file scan.tif --bbox 430000,4580000,431000,4581000 --filter bicubic`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("pyramid", "", "pyramid directory (required)")
	importCmd.Flags().String("file", "", "image to import (required)")
	importCmd.Flags().String("bbox", "", "image extent as 'minx,miny,maxx,maxy' in the pyramid CRS")
	importCmd.Flags().String("nodata", "", "colour treated as transparent as 'R,G,B'")
	importCmd.Flags().String("filter", "nearest", "resampling filter (nearest|bicubic)")
	importCmd.Flags().Bool("progress", true, "show progress bars")

	bindFlags(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := requireSettings(cmd, "pyramid", "file"); err != nil {
		return err
	}

	filter, err := resample.ParseFilter(setting(cmd, "filter"))
	if err != nil {
		return err
	}

	pyr, err := pyramid.Open(setting(cmd, "pyramid"))
	if err != nil {
		return err
	}

	file := setting(cmd, "file")
	im, err := tile.DecodeFile(file)
	if err != nil {
		return err
	}

	src := &builder.Source{Image: im}
	if s := setting(cmd, "bbox"); s != "" {
		if src.Bounds, err = parseBound(s); err != nil {
			return fmt.Errorf("--bbox: %w", err)
		}
	} else {
		wfPath, err := tile.FindWorldFile(file)
		if err != nil {
			return fmt.Errorf("%w (use --bbox)", err)
		}
		wf, err := tile.ReadWorldFile(wfPath)
		if err != nil {
			return err
		}
		src.Bounds = wf.Bounds(im.Width, im.Height)
		log.Debugf("georeferenced by %s", wfPath)
	}
	if s := setting(cmd, "nodata"); s != "" {
		if src.NoData, err = parseRGB(s); err != nil {
			return fmt.Errorf("--nodata: %w", err)
		}
	}

	opts := []builder.Option{builder.WithLogger(log), builder.WithFilter(filter)}
	var bars *progressBars
	if viper.GetBool(flagKey(cmd, "progress")) {
		bars = &progressBars{out: cmd.ErrOrStderr()}
		opts = append(opts, builder.WithProgress(bars.update))
	}

	stats, err := builder.New(pyr, opts...).Import(cmd.Context(), src)
	bars.finish()
	if err != nil {
		return err
	}

	b := stats.Bounds
	log.WithField("job", stats.Job).Infof("imported %s: %d leaf tiles, %d overviews, extent [%g %g, %g %g]",
		file, stats.Leaves, stats.Overviews, b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	return nil
}

// progressBars shows one bar per import phase
type progressBars struct {
	out   io.Writer
	phase builder.Phase
	bar   *pb.ProgressBar
}

func (p *progressBars) update(phase builder.Phase, done, total int) {
	if p.bar == nil || phase != p.phase {
		p.finish()
		p.phase = phase
		p.bar = pb.New(total).Prefix(fmt.Sprintf("%-10s", phase))
		p.bar.Output = p.out
		p.bar.SetRefreshRate(200 * time.Millisecond)
		p.bar.Start()
	}
	p.bar.Set(done)
}

func (p *progressBars) finish() {
	if p == nil || p.bar == nil {
		return
	}
	p.bar.Finish()
	p.bar = nil
}
