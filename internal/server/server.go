// Package server publishes pyramids through a WMS 1.1.1 subset.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"github.com/kiesman99/geoquadtree/internal/config"
	"github.com/kiesman99/geoquadtree/internal/logger"
	"github.com/kiesman99/geoquadtree/internal/proj"
	"github.com/kiesman99/geoquadtree/internal/pyramid"
	"github.com/kiesman99/geoquadtree/internal/render"
	"github.com/kiesman99/geoquadtree/internal/resample"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// Server answers WMS and health requests for the configured layers
type Server struct {
	startTime time.Time
	version   string
	cfg       *config.Config
	layers    map[string]*layer
	log       logrus.FieldLogger
}

type layer struct {
	config.Layer
	rasters []*raster
}

type raster struct {
	config.Raster
	pyr      *pyramid.Pyramid
	renderer *render.Renderer
	filter   resample.Filter
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
	Layers    int       `json:"layers"`
}

// NewServer opens every pyramid referenced by cfg. Rasters naming the same
// pyramid directory share one tile cache.
func NewServer(cfg *config.Config, version string, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		startTime: time.Now(),
		version:   version,
		cfg:       cfg,
		layers:    make(map[string]*layer, len(cfg.Layers)),
		log:       log,
	}

	opened := map[string]*pyramid.Pyramid{}
	kernel := resample.NewKernel()
	for _, lc := range cfg.Layers {
		l := &layer{Layer: lc}
		for _, rc := range lc.Rasters {
			pyr, ok := opened[rc.Pyramid]
			if !ok {
				var err error
				if pyr, err = pyramid.Open(rc.Pyramid); err != nil {
					return nil, fmt.Errorf("layer %s: %w", lc.Name, err)
				}
				if err := pyr.WithCache(cfg.Server.TileCache); err != nil {
					return nil, err
				}
				opened[rc.Pyramid] = pyr
			}
			f, err := resample.ParseFilter(rc.Filter)
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", lc.Name, err)
			}
			l.rasters = append(l.rasters, &raster{
				Raster:   rc,
				pyr:      pyr,
				renderer: render.New(pyr.Descriptor, pyr.Tiles, render.WithLogger(log), render.WithKernel(kernel)),
				filter:   f,
			})
		}
		s.layers[lc.Name] = l
		log.Infof("layer %s: %d raster(s)", lc.Name, len(l.rasters))
	}
	return s, nil
}

// Mount registers the server's routes on r
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.GetHealth)
	r.Get("/wms", s.ServeWMS)
	r.Get("/", s.ServeWMS)
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(s.startTime).Seconds()),
		Version:   s.version,
		Layers:    len(s.layers),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Errorf("encoding health response: %v", err)
	}
}

// ServeWMS dispatches on the REQUEST parameter
func (s *Server) ServeWMS(w http.ResponseWriter, r *http.Request) {
	q := normalizeQuery(r.URL.Query())

	if svc := q.Get("SERVICE"); svc != "" && !strings.EqualFold(svc, "WMS") {
		s.writeException(w, http.StatusBadRequest, "", fmt.Sprintf("unsupported service %q", svc))
		return
	}

	switch strings.ToLower(q.Get("REQUEST")) {
	case "getcapabilities", "capabilities":
		s.GetCapabilities(w, r)
	case "getmap", "map":
		s.GetMap(w, r, q)
	case "":
		s.writeException(w, http.StatusBadRequest, "", "missing REQUEST parameter")
	default:
		s.writeException(w, http.StatusBadRequest, codeOperationNotSupported, fmt.Sprintf("unsupported request %q", q.Get("REQUEST")))
	}
}

// GetMap renders the requested layers into one image
func (s *Server) GetMap(w http.ResponseWriter, r *http.Request, q url.Values) {
	req, err := parseMapRequest(q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Width > s.cfg.Server.MaxWidth || req.Height > s.cfg.Server.MaxHeight {
		s.writeException(w, http.StatusBadRequest, "", fmt.Sprintf("image size %dx%d exceeds %dx%d",
			req.Width, req.Height, s.cfg.Server.MaxWidth, s.cfg.Server.MaxHeight))
		return
	}

	layers := make([]*layer, 0, len(req.Layers))
	for _, name := range req.Layers {
		l, ok := s.layers[name]
		if !ok {
			s.writeException(w, http.StatusBadRequest, codeLayerNotDefined, fmt.Sprintf("layer %q is not defined", name))
			return
		}
		if !l.offers(req.SRS) {
			s.writeException(w, http.StatusBadRequest, codeInvalidSRS, fmt.Sprintf("layer %q is not available in %s", name, req.SRS))
			return
		}
		layers = append(layers, l)
	}

	out, err := s.compose(r.Context(), req, layers)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := tile.Encode(&buf, out, req.Format); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", req.Format.MIME())
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if id := middleware.GetReqID(r.Context()); id != "" {
		w.Header().Set("X-Request-ID", id)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Errorf("writing response: %v", err)
	}
}

// compose fuses every visible raster of the layers in order, then puts the
// result over the background unless a transparent image was requested
func (s *Server) compose(ctx context.Context, req *mapRequest, layers []*layer) (*tile.Image, error) {
	out := tile.NewImage(req.Width, req.Height)
	res := (req.BBox.Max[0] - req.BBox.Min[0]) / float64(req.Width)

	for _, l := range layers {
		for _, ras := range l.rasters {
			if !ras.Visible(res) {
				continue
			}
			result, err := ras.renderer.Render(ctx, &render.Options{
				Bounds: req.BBox,
				Width:  req.Width,
				Height: req.Height,
				CRS:    req.SRS,
				Filter: ras.filter,
			})
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", l.Name, err)
			}
			if len(result.Failed) > 0 {
				s.log.Warnf("layer %s: %d unreadable tile(s) in %s", l.Name, len(result.Failed), ras.Pyramid)
			}
			if result.TilesFound == 0 {
				continue
			}
			if err := tile.Over(out, result.Image); err != nil {
				return nil, err
			}
		}
	}

	// JPEG has no alpha channel
	if req.Transparent && req.Format != tile.FormatJPEG {
		return out, nil
	}
	bg := tile.Uniform(req.Width, req.Height, req.BGColor)
	if err := tile.Over(bg, out); err != nil {
		return nil, err
	}
	return bg, nil
}

// offers reports whether the layer can be drawn in srs
func (l *layer) offers(srs string) bool {
	if len(l.SRS) > 0 {
		listed := false
		for _, c := range l.SRS {
			if proj.Same(c, srs) {
				listed = true
				break
			}
		}
		if !listed {
			return false
		}
	}
	for _, r := range l.rasters {
		if !proj.Supported(srs, r.pyr.Descriptor.CRS) {
			return false
		}
	}
	return true
}

// bounds returns the union of the imported data of all rasters sharing crs
func (l *layer) bounds(crs string) (orb.Bound, bool) {
	var (
		b     orb.Bound
		found bool
	)
	for _, r := range l.rasters {
		d := r.pyr.Descriptor
		if d.BoundingBox == nil || !proj.Supported(d.CRS, crs) {
			continue
		}
		rb := *d.BoundingBox
		if !proj.Same(d.CRS, crs) {
			t, err := proj.New(d.CRS, crs)
			if err != nil {
				continue
			}
			if rb, err = proj.TransformBound(t, rb); err != nil {
				continue
			}
		}
		if found {
			b = b.Union(rb)
		} else {
			b, found = rb, true
		}
	}
	return b, found
}

// srs returns the codes a layer is advertised in
func (l *layer) srs() []string {
	if len(l.SRS) > 0 {
		return l.SRS
	}
	if len(l.rasters) == 0 {
		return nil
	}
	return []string{l.rasters[0].pyr.Descriptor.CRS}
}

// writeError maps an error to a service exception
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var perr *paramError
	switch {
	case errors.As(err, &perr):
		s.writeException(w, http.StatusBadRequest, perr.code, perr.Error())
	case errors.Is(err, tile.ErrUnknownFormat):
		s.writeException(w, http.StatusBadRequest, codeInvalidFormat, err.Error())
	case errors.Is(err, proj.ErrUnsupportedCRS):
		s.writeException(w, http.StatusBadRequest, codeInvalidSRS, err.Error())
	case errors.Is(err, render.ErrTooLarge):
		s.writeException(w, http.StatusBadRequest, "", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeException(w, http.StatusServiceUnavailable, "", "request timed out")
	default:
		s.log.Errorf("request failed: %v", err)
		s.writeException(w, http.StatusInternalServerError, "", err.Error())
	}
}

func parseColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "0x"), "#")
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
