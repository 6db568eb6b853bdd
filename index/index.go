// Package index reads rasters described by an index file: a list of rectangular
// int16 blocks of heterogeneous resolution covering a bounding box.
//
// Each non-empty line of the index describes one block:
//
//	<name> <minX> <maxX> <minY> <maxY> <resolution> [v0 v1 ...]
//
// The values, top-down row-major, are either inline or stored in a file called <name>
// next to the index as raw little-endian int16. Lines starting with '#' are comments.
package index

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/pixel"
	"github.com/akhenakh/predraster/tile"
)

// FileName is the name an index file must have.
const FileName = "index.txt"

// NoData is the no-data value of index rasters.
const NoData = -9999

// DataType is the sample type of index rasters.
const DataType = pixel.Int16

var errInconsistent = errors.New("inconsistent block")

// Block is one stored block.
type Block struct {
	Name       string
	Bounds     geometry.Box
	Resolution float64
	Width      int
	Height     int
	Values     []int16 // top-down, row-major
}

func (b *Block) tile() *tile.Tile {
	data := make([]byte, DataType.BufferSize(len(b.Values)))
	pixel.Int16Codec.Encode(data, b.Values)
	return &tile.Tile{
		Bounds:     b.Bounds,
		Resolution: b.Resolution,
		Width:      b.Width,
		Height:     b.Height,
		DataType:   DataType,
		Data:       data,
	}
}

// Index is the immutable collection of the blocks of an index file.
type Index struct {
	blocks     []*Block
	set        *tile.Set
	categories []string
}

// Open loads the index file at name along with the category names of a sibling menu.txt.
func Open(name string, logger *slog.Logger) (*Index, error) {
	return Load(os.DirFS(filepath.Dir(name)), filepath.Base(name), logger)
}

// Load reads the index file name from fsys. Payload files and menu.txt are looked up
// in the directory of name. Malformed lines are dropped with a warning.
func Load(fsys fs.FS, name string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	dir := path.Dir(name)
	blocks, err := parse(f, func(blockName string) ([]byte, error) {
		return fs.ReadFile(fsys, path.Join(dir, blockName))
	}, logger.With("file", name))
	if err != nil {
		return nil, err
	}

	categories, err := readMenu(fsys, path.Join(dir, MenuFileName))
	if err != nil {
		return nil, err
	}
	return New(blocks, categories)
}

// New indexes blocks. Earlier blocks win over later ones of the same resolution.
func New(blocks []*Block, categories []string) (*Index, error) {
	if len(blocks) == 0 {
		return nil, errors.New("index holds no valid block")
	}
	tiles := make([]*tile.Tile, len(blocks))
	for i, b := range blocks {
		tiles[i] = b.tile()
	}
	return &Index{blocks: blocks, set: tile.NewSet(tiles), categories: categories}, nil
}

func parse(r io.Reader, payload func(name string) ([]byte, error), logger *slog.Logger) ([]*Block, error) {
	var blocks []*Block
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		b, err := parseLine(line, payload)
		if err != nil {
			logger.Warn("dropping index line", "line", lineNum, "error", err)
			continue
		}
		blocks = append(blocks, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	return blocks, nil
}

// parseHeader parses the name, extent and resolution of a line and returns the
// remaining fields.
func parseHeader(line string) (*Block, []string, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return nil, nil, fmt.Errorf("expected at least 6 fields, got %d", len(fields))
	}
	var nums [5]float64
	for i := range nums {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("field %d: %w", i+2, err)
		}
		nums[i] = v
	}
	minX, maxX, minY, maxY, res := nums[0], nums[1], nums[2], nums[3], nums[4]
	b := &Block{
		Name:       fields[0],
		Bounds:     geometry.Box{Min: geometry.Pt(minX, minY), Max: geometry.Pt(maxX, maxY)},
		Resolution: res,
	}
	return b, fields[6:], nil
}

func parseLine(line string, payload func(name string) ([]byte, error)) (*Block, error) {
	b, rest, err := parseHeader(line)
	if err != nil {
		return nil, err
	}
	if b.Bounds.Empty() {
		return nil, fmt.Errorf("%w: empty extent %s", errInconsistent, b.Bounds)
	}
	if !(b.Resolution > 0) {
		return nil, fmt.Errorf("%w: resolution %g", errInconsistent, b.Resolution)
	}
	var ok bool
	if b.Width, ok = cells(b.Bounds.Width(), b.Resolution); !ok {
		return nil, fmt.Errorf("%w: width %g is not a multiple of %g", errInconsistent, b.Bounds.Width(), b.Resolution)
	}
	if b.Height, ok = cells(b.Bounds.Height(), b.Resolution); !ok {
		return nil, fmt.Errorf("%w: height %g is not a multiple of %g", errInconsistent, b.Bounds.Height(), b.Resolution)
	}
	n := b.Width * b.Height

	if len(rest) == 0 {
		raw, err := payload(b.Name)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", b.Name, err)
		}
		if len(raw) != DataType.BufferSize(n) {
			return nil, fmt.Errorf("%w: payload %s has %d bytes, %dx%d int16 values need %d",
				errInconsistent, b.Name, len(raw), b.Width, b.Height, DataType.BufferSize(n))
		}
		b.Values = pixel.Int16Codec.Decode(raw)
		return b, nil
	}

	if len(rest) != n {
		return nil, fmt.Errorf("%w: %d values for a %dx%d block", errInconsistent, len(rest), b.Width, b.Height)
	}
	b.Values = make([]int16, n)
	for i, s := range rest {
		v, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		b.Values[i] = int16(v)
	}
	return b, nil
}

// cells returns extent/res when it is a whole number.
func cells(extent, res float64) (int, bool) {
	n := extent / res
	r := math.Round(n)
	if r < 1 || math.Abs(n-r) > 1e-9*math.Max(1, r) {
		return 0, false
	}
	return int(r), true
}

// Identify reports whether the file at name is an index: it must be called index.txt
// and its first line must parse.
func Identify(name string) bool {
	if filepath.Base(name) != FileName {
		return false
	}
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		_, _, err := parseHeader(line)
		return err == nil
	}
	return false
}

// Blocks returns the blocks in load order.
func (ix *Index) Blocks() []*Block { return ix.blocks }

// Len is the number of blocks.
func (ix *Index) Len() int { return len(ix.blocks) }

// Bounds is the union of the block extents.
func (ix *Index) Bounds() geometry.Box { return ix.set.Bounds() }

// RasterSize is the size of the raster at resolution 1.
func (ix *Index) RasterSize() (width, height int) {
	b := ix.Bounds()
	return int(math.Ceil(b.Width())), int(math.Ceil(b.Height()))
}

// Categories returns the clutter category names indexed by code, nil without menu.txt.
func (ix *Index) Categories() []string { return ix.categories }

// Resolutions counts the blocks per resolution, finest first, as "<res>m" -> "<n> blocks".
func (ix *Index) Resolutions() *orderedmap.OrderedMap[string, string] {
	counts := map[float64]int{}
	for _, b := range ix.blocks {
		counts[b.Resolution]++
	}
	resolutions := make([]float64, 0, len(counts))
	for res := range counts {
		resolutions = append(resolutions, res)
	}
	slices.Sort(resolutions)

	om := orderedmap.New[string, string](len(resolutions))
	for _, res := range resolutions {
		om.Set(strconv.FormatFloat(res, 'f', -1, 64)+"m", fmt.Sprintf("%d blocks", counts[res]))
	}
	return om
}

// Query returns the stored blocks intersecting area, finest first.
func (ix *Index) Query(_ context.Context, area geometry.Box) ([]*tile.Tile, error) {
	return ix.set.Query(area), nil
}
