package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/akhenakh/predraster/dataset"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/predapi"
	"github.com/akhenakh/predraster/render"
)

// Raw pixel response headers. Bodies are little-endian pixel buffers.
const (
	headerDataType     = "X-Data-Type"
	headerWidth        = "X-Width"
	headerHeight       = "X-Height"
	headerBlockFound   = "X-Block-Found"
	headerRowsBottomUp = "X-Rows-Bottom-Up"
)

type restServer struct {
	registry *registry
	logger   *slog.Logger
}

// newRESTHandler serves the datasets of reg:
//
//	GET /datasets
//	GET /datasets/{name}
//	GET /datasets/{name}/bands/{band}/blocks/{col}/{row}
//	GET /datasets/{name}/bands/{band}/region?xoff=&yoff=&xsize=&ysize=&width=&height=&algorithm=
//
// and the prediction API of each prediction dataset under /datasets/{name}/api/.
func newRESTHandler(reg *registry, logger *slog.Logger) http.Handler {
	s := &restServer{registry: reg, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /datasets", s.listDatasets)
	mux.HandleFunc("GET /datasets/{name}", s.getDataset)
	mux.HandleFunc("GET /datasets/{name}/bands/{band}/blocks/{col}/{row}", s.getBlock)
	mux.HandleFunc("GET /datasets/{name}/bands/{band}/region", s.getRegion)

	for _, name := range reg.names {
		api := reg.datasets[name].API()
		if api == nil {
			continue
		}
		prefix := "/datasets/" + name + "/api"
		mux.Handle(prefix+"/", http.StripPrefix(prefix, predapi.NewHandler(api, logger.With("dataset", name))))
	}
	return mux
}

func (s *restServer) listDatasets(w http.ResponseWriter, r *http.Request) {
	infos := make([]datasetInfo, 0, len(s.registry.names))
	for _, name := range s.registry.names {
		info, err := describe(r.Context(), name, s.registry.datasets[name], s.logger)
		if err != nil {
			s.fail(w, err)
			return
		}
		infos = append(infos, info)
	}
	writeJSON(w, infos)
}

func (s *restServer) getDataset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ds, err := s.registry.dataset(name)
	if err != nil {
		s.fail(w, err)
		return
	}
	info, err := describe(r.Context(), name, ds, s.logger)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, info)
}

func (s *restServer) getBlock(w http.ResponseWriter, r *http.Request) {
	ints, err := pathInts(r, "band", "col", "row")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.registry.band(r.PathValue("name"), ints[0])
	if err != nil {
		s.fail(w, err)
		return
	}

	bw, bh := b.BlockSize()
	buf := make([]byte, b.DataType().BufferSize(bw*bh))
	found, err := b.ReadBlock(r.Context(), ints[1], ints[2], buf)
	if err != nil {
		s.fail(w, err)
		return
	}
	h := w.Header()
	h.Set(headerBlockFound, strconv.FormatBool(found))
	h.Set(headerRowsBottomUp, strconv.FormatBool(b.RowsBottomUp()))
	writeRaw(w, buf, b.DataType(), bw, bh)
}

func (s *restServer) getRegion(w http.ResponseWriter, r *http.Request) {
	ints, err := pathInts(r, "band")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.registry.band(r.PathValue("name"), ints[0])
	if err != nil {
		s.fail(w, err)
		return
	}

	win, err := parseWindow(r, b.DataType())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	buf := make([]byte, b.DataType().BufferSize(win.BufWidth*win.BufHeight))
	if err := b.ReadRegion(r.Context(), win, buf); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set(headerRowsBottomUp, "true")
	writeRaw(w, buf, b.DataType(), win.BufWidth, win.BufHeight)
}

// parseWindow reads a window from the query string. width and height default to the
// window size and algorithm to nearest.
func parseWindow(r *http.Request, d pixel.DataType) (dataset.Window, error) {
	q := r.URL.Query()
	win := dataset.Window{BufType: d}
	fields := []struct {
		key      string
		dst      *int
		optional bool
	}{
		{"xoff", &win.XOff, true},
		{"yoff", &win.YOff, true},
		{"xsize", &win.XSize, false},
		{"ysize", &win.YSize, false},
		{"width", &win.BufWidth, true},
		{"height", &win.BufHeight, true},
	}
	for _, f := range fields {
		s := q.Get(f.key)
		if s == "" {
			if !f.optional {
				return win, fmt.Errorf("missing %s", f.key)
			}
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return win, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = v
	}
	if win.BufWidth == 0 {
		win.BufWidth = win.XSize
	}
	if win.BufHeight == 0 {
		win.BufHeight = win.YSize
	}
	if s := q.Get("algorithm"); s != "" {
		a, err := render.ParseAlgorithm(s)
		if err != nil {
			return win, err
		}
		win.Algorithm = a
	}
	return win, nil
}

func pathInts(r *http.Request, keys ...string) ([]int, error) {
	out := make([]int, len(keys))
	for i, key := range keys {
		v, err := strconv.Atoi(r.PathValue(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		out[i] = v
	}
	return out, nil
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, errUnknownDataset), errors.Is(err, errUnknownBand):
		return http.StatusNotFound
	case errors.Is(err, dataset.ErrReadOnly):
		return http.StatusMethodNotAllowed
	case errors.Is(err, dataset.ErrInvalidArgument),
		errors.Is(err, dataset.ErrUnsupportedBuffer),
		errors.Is(err, dataset.ErrNonUniformResolution),
		errors.Is(err, render.ErrUnsupportedAlgorithm):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *restServer) fail(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), code)
}

func writeRaw(w http.ResponseWriter, buf []byte, d pixel.DataType, width, height int) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set(headerDataType, d.String())
	h.Set(headerWidth, strconv.Itoa(width))
	h.Set(headerHeight, strconv.Itoa(height))
	w.Write(buf)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
