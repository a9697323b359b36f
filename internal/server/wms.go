package server

import (
	"encoding/xml"
	"fmt"
	"image/color"
	"net/http"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"
	"github.com/paulmach/orb"

	"github.com/kiesman99/geoquadtree/internal/proj"
	"github.com/kiesman99/geoquadtree/pkg/tile"
)

// WMS 1.1.1 exception codes
const (
	codeInvalidFormat         = "InvalidFormat"
	codeInvalidSRS            = "InvalidSRS"
	codeLayerNotDefined       = "LayerNotDefined"
	codeOperationNotSupported = "OperationNotSupported"
)

const exceptionMIME = "application/vnd.ogc.se_xml"

// paramError is a client error in the request parameters
type paramError struct {
	code string
	msg  string
}

func (e *paramError) Error() string {
	return e.msg
}

func invalidParam(code, format string, args ...interface{}) error {
	return &paramError{code: code, msg: fmt.Sprintf(format, args...)}
}

// normalizeQuery upper-cases parameter names; WMS names are case-insensitive
func normalizeQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		key := strings.ToUpper(k)
		out[key] = append(out[key], v...)
	}
	return out
}

type mapRequest struct {
	Layers      []string
	SRS         string
	BBox        orb.Bound
	Width       int
	Height      int
	Format      tile.Format
	Transparent bool
	BGColor     color.NRGBA
}

func parseMapRequest(q url.Values) (*mapRequest, error) {
	// 1.3.0 clients send CRS instead of SRS
	if q.Get("SRS") == "" && q.Get("CRS") != "" {
		q.Set("SRS", q.Get("CRS"))
	}
	for _, name := range []string{"LAYERS", "SRS", "BBOX", "WIDTH", "HEIGHT", "FORMAT"} {
		if q.Get(name) == "" {
			return nil, invalidParam("", "missing parameter %s", name)
		}
	}

	var (
		layers      []string
		srs, format string
		bbox        []float64
		width       int
		height      int
		transparent bool
		bgcolor     = "0xFFFFFF"
	)
	for _, p := range []struct {
		name    string
		explode bool
		dest    interface{}
	}{
		{"LAYERS", false, &layers},
		{"SRS", true, &srs},
		{"BBOX", false, &bbox},
		{"WIDTH", true, &width},
		{"HEIGHT", true, &height},
		{"FORMAT", true, &format},
		{"TRANSPARENT", true, &transparent},
		{"BGCOLOR", true, &bgcolor},
	} {
		if err := runtime.BindQueryParameter("form", p.explode, false, p.name, q, p.dest); err != nil {
			return nil, invalidParam("", "invalid parameter %s: %v", p.name, err)
		}
	}

	if len(bbox) != 4 || !(bbox[2] > bbox[0] && bbox[3] > bbox[1]) {
		return nil, invalidParam("", "invalid BBOX %q", q.Get("BBOX"))
	}
	if width <= 0 || height <= 0 {
		return nil, invalidParam("", "invalid size %dx%d", width, height)
	}
	f, err := tile.FormatFromMIME(format)
	if err != nil || f == tile.FormatBMP {
		return nil, invalidParam(codeInvalidFormat, "unsupported format %q", format)
	}
	bg, err := parseColor(bgcolor)
	if err != nil {
		return nil, invalidParam("", "invalid BGCOLOR: %v", err)
	}

	return &mapRequest{
		Layers:      layers,
		SRS:         srs,
		BBox:        orb.Bound{Min: orb.Point{bbox[0], bbox[1]}, Max: orb.Point{bbox[2], bbox[3]}},
		Width:       width,
		Height:      height,
		Format:      f,
		Transparent: transparent,
		BGColor:     bg,
	}, nil
}

type serviceExceptionReport struct {
	XMLName    xml.Name `xml:"ServiceExceptionReport"`
	Version    string   `xml:"version,attr"`
	Exceptions []serviceException
}

type serviceException struct {
	XMLName xml.Name `xml:"ServiceException"`
	Code    string   `xml:"code,attr,omitempty"`
	Message string   `xml:",chardata"`
}

func (s *Server) writeException(w http.ResponseWriter, status int, code, msg string) {
	report := serviceExceptionReport{
		Version:    "1.1.1",
		Exceptions: []serviceException{{Code: code, Message: msg}},
	}
	w.Header().Set("Content-Type", exceptionMIME)
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(report); err != nil {
		s.log.Errorf("encoding exception: %v", err)
	}
}

type capabilities struct {
	XMLName    xml.Name   `xml:"WMT_MS_Capabilities"`
	Version    string     `xml:"version,attr"`
	Service    capService `xml:"Service"`
	Capability capability `xml:"Capability"`
}

type capService struct {
	Name           string         `xml:"Name"`
	Title          string         `xml:"Title"`
	OnlineResource onlineResource `xml:"OnlineResource"`
}

type onlineResource struct {
	XMLNS string `xml:"xmlns:xlink,attr"`
	Type  string `xml:"xlink:type,attr"`
	Href  string `xml:"xlink:href,attr"`
}

type capability struct {
	Request   capRequest `xml:"Request"`
	Exception []string   `xml:"Exception>Format"`
	Layer     capLayer   `xml:"Layer"`
}

type capRequest struct {
	GetCapabilities capOperation `xml:"GetCapabilities"`
	GetMap          capOperation `xml:"GetMap"`
}

type capOperation struct {
	Formats []string       `xml:"Format"`
	Get     onlineResource `xml:"DCPType>HTTP>Get>OnlineResource"`
}

type capLayer struct {
	Name              string           `xml:"Name,omitempty"`
	Title             string           `xml:"Title"`
	SRS               []string         `xml:"SRS"`
	LatLonBoundingBox *capBoundingBox  `xml:"LatLonBoundingBox,omitempty"`
	BoundingBoxes     []capBoundingBox `xml:"BoundingBox"`
	Layers            []capLayer       `xml:"Layer"`
}

type capBoundingBox struct {
	SRS  string  `xml:"SRS,attr,omitempty"`
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

func newBoundingBox(srs string, b orb.Bound) capBoundingBox {
	return capBoundingBox{SRS: srs, MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

func resourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return fmt.Sprintf("%s://%s%s?", scheme, r.Host, r.URL.Path)
}

// GetCapabilities describes the service and its layers
func (s *Server) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	href := onlineResource{XMLNS: "http://www.w3.org/1999/xlink", Type: "simple", Href: resourceURL(r)}

	root := capLayer{Title: s.cfg.Server.Title}
	seen := map[string]bool{}
	for _, lc := range s.cfg.Layers {
		l := s.layers[lc.Name]
		cl := capLayer{Name: l.Name, Title: l.Title, SRS: l.srs()}
		if cl.Title == "" {
			cl.Title = l.Name
		}
		if b, ok := l.bounds(proj.WGS84); ok {
			bb := newBoundingBox("", b)
			cl.LatLonBoundingBox = &bb
		}
		for _, code := range cl.SRS {
			if b, ok := l.bounds(code); ok {
				cl.BoundingBoxes = append(cl.BoundingBoxes, newBoundingBox(code, b))
			}
			if !seen[code] {
				seen[code] = true
				root.SRS = append(root.SRS, code)
			}
		}
		root.Layers = append(root.Layers, cl)
	}

	doc := capabilities{
		Version: "1.1.1",
		Service: capService{Name: "OGC:WMS", Title: s.cfg.Server.Title, OnlineResource: href},
		Capability: capability{
			Request: capRequest{
				GetCapabilities: capOperation{Formats: []string{"application/vnd.ogc.wms_xml"}, Get: href},
				GetMap: capOperation{
					Formats: []string{tile.FormatPNG.MIME(), tile.FormatJPEG.MIME(), tile.FormatTIFF.MIME()},
					Get:     href,
				},
			},
			Exception: []string{exceptionMIME},
			Layer:     root,
		},
	}

	w.Header().Set("Content-Type", "application/vnd.ogc.wms_xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		s.log.Errorf("encoding capabilities: %v", err)
	}
}
