package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/geoquadtree/internal/config"
	"github.com/kiesman99/geoquadtree/internal/logger"
)

var (
	cfgFile string
	log     *logrus.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gqt",
	Short: "Build and serve georeferenced quadtree raster pyramids",
	Long: `gqt stores georeferenced raster images as a quadtree pyramid of fixed size tiles.

Leaf tiles hold the imported pixels at full resolution, every level above them
holds a 2x downsampled overview. Regions can be exported at any size and CRS,
or published through a WMS.

Examples:
  # Create a pyramid with 12 levels of 256x256 tiles at 0.5 m per pixel
  gqt create --pyramid ./ortho --crs EPSG:25831 --levels 12 --resolution 0.5 --origin 430000,4580000

  # Import an image georeferenced by its world file (ortho.pgw)
  gqt import --pyramid ./ortho --file ortho.png --nodata 0,0,0

  # Export a region as PNG with a world file
  gqt export --pyramid ./ortho --bbox 429000,4579000,431000,4581000 --size 1024,1024 -o region.png -w

  # Publish the layers of gqt.yaml
  gqt serve --config gqt.yaml`,
	Version:      versioninfo.Short(),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logger.New(logger.Config{
			Level: viper.GetString("log.level"),
			File:  viper.GetString("log.file"),
		})
		if err != nil {
			return err
		}
		log = l
		if used := viper.ConfigFileUsed(); used != "" {
			log.Debugf("using config file %s", used)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gqt.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-file", "", "also write the log to this file")

	cobra.CheckErr(viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")))
	cobra.CheckErr(viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file")))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		// Use config file from the flag.
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".gqt" (without extension).
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".gqt")
	}

	cobra.CheckErr(config.BindEnv(v))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			cobra.CheckErr(fmt.Errorf("reading config: %w", err))
		}
	}
}
