package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kiesman99/geoquadtree/internal/pyramid"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe a pyramid",
	Long: `Info prints the descriptor of a pyramid followed by the tile grid of every level.

Examples:
  gqt info --pyramid ./ortho`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().String("pyramid", "", "pyramid directory (required)")

	bindFlags(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	if err := requireSettings(cmd, "pyramid"); err != nil {
		return err
	}
	pyr, err := pyramid.Open(setting(cmd, "pyramid"))
	if err != nil {
		return err
	}
	d := pyr.Descriptor
	out := cmd.OutOrStdout()

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	root := d.RootExtent()
	fmt.Fprintf(out, "\nroot extent: [%g %g, %g %g]\n\n", root.Min[0], root.Min[1], root.Max[0], root.Max[1])

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "depth\ttiles\tpixel size\ttile span")
	for depth := 0; depth <= d.Levels; depth++ {
		n := d.TilesPerAxis(depth)
		px, py := d.PixelSizeAt(depth)
		sx, sy := d.TileSpan(depth)
		fmt.Fprintf(tw, "%d\t%dx%d\t%g x %g\t%g x %g\n", depth, n, n, px, py, sx, sy)
	}
	return tw.Flush()
}
