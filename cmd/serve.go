package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/geoquadtree/internal/config"
	"github.com/kiesman99/geoquadtree/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a WMS server for the configured layers",
	Long: `Start an HTTP server publishing pyramids through WMS 1.1.1 GetCapabilities
and GetMap requests. Layers are read from the config file:

  server:
    port: 8080
    tile_cache: 1024
  layers:
    - name: ortho
      srs: [EPSG:3857, EPSG:4326]
      rasters:
        - pyramid: /data/ortho-overview
          min_res: 10
        - pyramid: /data/ortho
          max_res: 10
          filter: bicubic

Examples:
  # Start server on default port 8080
  gqt serve --config gqt.yaml

  # Start server with custom bind address
  gqt serve --config gqt.yaml --bind 0.0.0.0 --port 3000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if len(cfg.Layers) == 0 {
		return fmt.Errorf("no layers configured")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)
	timeout := cfg.Server.Timeout

	// Create Chi router
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(timeout))

	// CORS for browser map clients
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	wms, err := server.NewServer(cfg, versioninfo.Short(), log)
	if err != nil {
		return err
	}
	wms.Mount(r)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	// Graceful shutdown
	go func() {
		<-cmd.Context().Done()

		log.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Errorf("server shutdown error: %v", err)
		}
	}()

	log.Infof("starting gqt %s on %s", versioninfo.Short(), addr)
	log.Infof("capabilities: http://%s/wms?SERVICE=WMS&REQUEST=GetCapabilities", addr)
	log.Infof("health check: http://%s/health", addr)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %v", err)
	}

	return nil
}
