// Package descriptor reads and writes the JSON files (.gap) that describe a prediction
// dataset: where its API lives, the prediction parameters and optional cached
// auxiliary information.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/perimeterx/marshmallow"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/predapi"
)

// Extension is the file extension of descriptors.
const Extension = ".gap"

// AllSections selects every section of the prediction.
const AllSections = -1

// autocomplete as the auxiliary value asks for the auxiliary information to be fetched
// from the API and written back.
const autocomplete = "autocomplete"

// API locates the prediction API: a remote service or one GeoTIFF per section, keyed
// by section number.
type API struct {
	URL               string            `json:"url,omitempty" validate:"required_without=Sections,excluded_with=Sections"`
	Sections          map[string]string `json:"sections,omitempty" validate:"required_without=URL,excluded_with=URL"`
	CacheMaxSize      int64             `json:"cacheMaxSize" default:"1024" validate:"gt=0"`
	CacheItemsToPrune uint32            `json:"cacheItemsToPrune" default:"100" validate:"gt=0"`
}

func (a *API) UnmarshalJSON(data []byte) error {
	err := defaults.Set(a)
	if err != nil {
		return err
	}
	_, err = marshmallow.Unmarshal(data, a, marshmallow.WithExcludeKnownFieldsFromMap(true))
	return err
}

// SectionLocations returns the GeoTIFF location of every section.
func (a API) SectionLocations() (map[int]string, error) {
	locations := make(map[int]string, len(a.Sections))
	for k, v := range a.Sections {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid section number %q", k)
		}
		locations[n] = v
	}
	return locations, nil
}

// Prediction holds the parameters of the prediction, in centimetres.
type Prediction struct {
	XCm          int64 `json:"xCm"`
	YCm          int64 `json:"yCm"`
	RadiusCm     int64 `json:"radiusCm" validate:"gt=0"`
	ResolutionCm int64 `json:"resolutionCm" validate:"gt=0"`
}

// Transmitter is the transmitter position in metres.
func (p Prediction) Transmitter() geometry.Point {
	return geometry.Pt(float64(p.XCm)/100, float64(p.YCm)/100)
}

// Radius is the prediction radius in metres.
func (p Prediction) Radius() float64 { return float64(p.RadiusCm) / 100 }

// Resolution is the pixel size in metres.
func (p Prediction) Resolution() float64 { return float64(p.ResolutionCm) / 100 }

// Descriptor is a parsed .gap file.
type Descriptor struct {
	API        API        `json:"api" validate:"required"`
	Section    int        `json:"section" default:"-1" validate:"gte=-1"`
	Prediction Prediction `json:"prediction" validate:"required"`
	// Meta maps metadata domains to their items.
	Meta map[string]map[string]string `json:"meta,omitempty"`

	// Auxiliary is nil when the file holds none, or when it could not be parsed, in
	// which case AuxiliaryErr says why.
	Auxiliary    *predapi.Auxiliary `json:"-"`
	AuxiliaryErr error              `json:"-"`
	// Autocomplete is set when the file asks for its auxiliary information to be
	// completed from the API.
	Autocomplete bool `json:"-"`
	// Extra holds the unknown top-level keys.
	Extra map[string]any `json:"-"`

	path string
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	err := defaults.Set(d)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, d, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	if raw, ok := specials["auxiliary"]; ok {
		delete(specials, "auxiliary")
		d.Auxiliary, d.Autocomplete, d.AuxiliaryErr = unmarshalAuxiliary(raw)
	}
	if len(specials) > 0 {
		d.Extra = specials
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(d)
}

func unmarshalAuxiliary(raw any) (*predapi.Auxiliary, bool, error) {
	if s, ok := raw.(string); ok {
		if strings.EqualFold(s, autocomplete) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf(`"auxiliary" should be an object or %q, got %q`, autocomplete, s)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, false, fmt.Errorf(`wrong type key "auxiliary": %T`, raw)
	}

	// round trip through JSON for the integer section keys and the data type names
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false, err
	}
	var aux predapi.Auxiliary
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, false, err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(aux); err != nil {
		return nil, false, err
	}
	return &aux, false, nil
}

func (d *Descriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+5)
	maps.Copy(out, d.Extra)
	out["api"] = d.API
	out["section"] = d.Section
	out["prediction"] = d.Prediction
	if len(d.Meta) > 0 {
		out["meta"] = d.Meta
	}
	switch {
	case d.Auxiliary != nil:
		out["auxiliary"] = d.Auxiliary
	case d.Autocomplete:
		out["auxiliary"] = autocomplete
	}
	return json.Marshal(out)
}

// Identify reports whether name looks like a descriptor.
func Identify(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension)
}

// Load reads the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := &Descriptor{}
	if err := json.Unmarshal(data, d); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("%s is not a valid JSON file: %w", path, err)
		}
		return nil, fmt.Errorf("invalid descriptor %s: %w", path, err)
	}
	d.path = path
	return d, nil
}

// Path is the file the descriptor was loaded from.
func (d *Descriptor) Path() string { return d.path }

// Complete stores aux as the auxiliary information and writes the descriptor back to
// its file.
func (d *Descriptor) Complete(aux predapi.Auxiliary) error {
	d.Auxiliary = &aux
	d.Autocomplete = false
	d.AuxiliaryErr = nil
	if d.path == "" {
		return errors.New("descriptor was not loaded from a file")
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.path, append(data, '\n'), 0o644)
}

// SectionSelected reports whether section is part of the dataset.
func (d *Descriptor) SectionSelected(section int) bool {
	return d.Section == AllSections || d.Section == section
}

// Locations returns the GeoTIFF location of every section. Relative local paths are
// resolved against the directory of the descriptor.
func (d *Descriptor) Locations() (map[int]string, error) {
	locations, err := d.API.SectionLocations()
	if err != nil {
		return nil, err
	}
	for n, loc := range locations {
		if strings.Contains(loc, "://") || filepath.IsAbs(loc) || d.path == "" {
			continue
		}
		locations[n] = filepath.Join(filepath.Dir(d.path), loc)
	}
	return locations, nil
}
