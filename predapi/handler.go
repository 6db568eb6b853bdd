package predapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/akhenakh/predraster/tile"
)

// Tile response headers. The body of a tile response is the raw little-endian payload.
const (
	HeaderTileX0       = "X-Tile-X0"
	HeaderTileY0       = "X-Tile-Y0"
	HeaderTileWidth    = "X-Tile-Width"
	HeaderTileHeight   = "X-Tile-Height"
	HeaderTileDataType = "X-Tile-Data-Type"
)

// NewHandler serves api over HTTP:
//
//	GET /region
//	GET /crs
//	GET /auxiliary
//	GET /sections
//	GET /sections/{section}
//	GET /sections/{section}/tiles/{col}/{row}
//
// A missing tile is answered with 404.
func NewHandler(api API, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{api: api, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /region", h.region)
	mux.HandleFunc("GET /crs", h.crs)
	mux.HandleFunc("GET /auxiliary", h.auxiliary)
	mux.HandleFunc("GET /sections", h.sections)
	mux.HandleFunc("GET /sections/{section}", h.sectionInfo)
	mux.HandleFunc("GET /sections/{section}/tiles/{col}/{row}", h.tile)
	return mux
}

type handler struct {
	api    API
	logger *slog.Logger
}

type crsResponse struct {
	EPSG int `json:"epsg"`
}

func (h *handler) region(w http.ResponseWriter, r *http.Request) {
	region, err := h.api.Region(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, region)
}

func (h *handler) crs(w http.ResponseWriter, r *http.Request) {
	var epsg int
	if p, ok := h.api.(CRSProvider); ok {
		var err error
		if epsg, err = p.EPSG(r.Context()); err != nil {
			h.fail(w, err)
			return
		}
	}
	writeJSON(w, crsResponse{EPSG: epsg})
}

func (h *handler) auxiliary(w http.ResponseWriter, r *http.Request) {
	aux, err := AuxiliaryOf(r.Context(), h.api)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, aux)
}

func (h *handler) sections(w http.ResponseWriter, r *http.Request) {
	nums, err := h.api.SectionNums(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, nums)
}

func (h *handler) sectionInfo(w http.ResponseWriter, r *http.Request) {
	section, err := strconv.Atoi(r.PathValue("section"))
	if err != nil {
		http.Error(w, "Invalid section", http.StatusBadRequest)
		return
	}
	info, err := h.api.SectionInfo(r.Context(), section)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, info)
}

func (h *handler) tile(w http.ResponseWriter, r *http.Request) {
	var coords [3]int
	for i, name := range []string{"section", "col", "row"} {
		v, err := strconv.Atoi(r.PathValue(name))
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid %s", name), http.StatusBadRequest)
			return
		}
		coords[i] = v
	}

	it, err := h.api.TileIterator(r.Context(), coords[0])
	if err != nil {
		h.fail(w, err)
		return
	}
	t, err := it.Tile(r.Context(), coords[1], coords[2])
	if err != nil {
		h.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(HeaderTileX0, strconv.Itoa(t.Region.X0))
	w.Header().Set(HeaderTileY0, strconv.Itoa(t.Region.Y0))
	w.Header().Set(HeaderTileWidth, strconv.Itoa(t.Region.Width))
	w.Header().Set(HeaderTileHeight, strconv.Itoa(t.Region.Height))
	w.Header().Set(HeaderTileDataType, t.DataType.String())
	w.Header().Set("Content-Length", strconv.Itoa(len(t.Data)))
	w.Write(t.Data)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tile.ErrNotFound):
		http.Error(w, "No tile", http.StatusNotFound)
	case errors.Is(err, ErrUnknownSection):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("prediction API request failed", "error", err)
		http.Error(w, fmt.Sprintf("Prediction API failure: %v", err), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
