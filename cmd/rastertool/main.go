package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"github.com/urfave/cli/v2"

	"github.com/akhenakh/predraster/dataset"
	"github.com/akhenakh/predraster/geometry"
	"github.com/akhenakh/predraster/geotiff"
	"github.com/akhenakh/predraster/render"
)

const (
	BAND      = `band`
	COL       = `col`
	ROW       = `row`
	XOFF      = `xoff`
	YOFF      = `yoff`
	XSIZE     = `xsize`
	YSIZE     = `ysize`
	WIDTH     = `width`
	HEIGHT    = `height`
	ALGORITHM = `algorithm`
	OUTPUT    = `output`
	BLOCKSIZE = `blocksize`
	VERBOSE   = `verbose`
	POINTS    = `points`
	TEXTWIDTH = `textwidth`
)

func envVars(name string) []string { return []string{"RASTERTOOL_" + strcase.ToScreamingSnake(name)} }

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "rastertool"
	app.Usage = "Inspect and read prediction and index rasters"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.IntFlag{
			Name:    BLOCKSIZE,
			Usage:   "Block size of index datasets",
			Value:   256,
			EnvVars: envVars(BLOCKSIZE),
		},
		&cli.BoolFlag{
			Name:    VERBOSE,
			Usage:   "Log warnings and debug information to stderr",
			EnvVars: envVars(VERBOSE),
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "info",
			Usage:     "Describe a dataset",
			ArgsUsage: "<dataset>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: TEXTWIDTH, Usage: "Wrap width of long values", Value: 100, EnvVars: envVars(TEXTWIDTH)},
			},
			Action: info,
		},
		{
			Name:      "block",
			Usage:     "Write the raw pixels of one block",
			ArgsUsage: "<dataset>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: BAND, Aliases: []string{"b"}, Value: 1, EnvVars: envVars(BAND)},
				&cli.IntFlag{Name: COL, Required: true},
				&cli.IntFlag{Name: ROW, Required: true},
				&cli.StringFlag{Name: OUTPUT, Aliases: []string{"o"}, Usage: "Output file, stdout when empty"},
			},
			Action: readBlock,
		},
		{
			Name:      "region",
			Usage:     "Resample a window, as raw bottom-up pixels or as a GeoTIFF when the output ends in .tif",
			ArgsUsage: "<dataset>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: BAND, Aliases: []string{"b"}, Value: 1, EnvVars: envVars(BAND)},
				&cli.IntFlag{Name: XOFF},
				&cli.IntFlag{Name: YOFF},
				&cli.IntFlag{Name: XSIZE, Usage: "Window width, the raster width when zero"},
				&cli.IntFlag{Name: YSIZE, Usage: "Window height, the raster height when zero"},
				&cli.IntFlag{Name: WIDTH, Usage: "Output width, the window width when zero"},
				&cli.IntFlag{Name: HEIGHT, Usage: "Output height, the window height when zero"},
				&cli.StringFlag{Name: ALGORITHM, Aliases: []string{"r"}, Usage: "nearest or bilinear", Value: "nearest", EnvVars: envVars(ALGORITHM)},
				&cli.StringFlag{Name: OUTPUT, Aliases: []string{"o"}, Usage: "Output file, stdout when empty"},
			},
			Action: readRegion,
		},
		{
			Name:      "profile",
			Usage:     "Sample a GeoTIFF along a path",
			ArgsUsage: "<file, URL or bucket location>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: POINTS, Aliases: []string{"p"}, Usage: "Path vertices in map units: x1,y1;x2,y2;...", Required: true},
			},
			Action: profile,
		},
	}
	return app
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelError
	if c.Bool(VERBOSE) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openDataset(c *cli.Context) (*dataset.Dataset, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected one dataset, got %d arguments", c.NArg())
	}
	return dataset.Open(c.Context, c.Args().First(), dataset.Options{
		Logger:    newLogger(c),
		BlockSize: c.Int(BLOCKSIZE),
	})
}

func openBand(c *cli.Context) (*dataset.Dataset, *dataset.Band, error) {
	ds, err := openDataset(c)
	if err != nil {
		return nil, nil, err
	}
	b, ok := ds.Band(c.Int(BAND))
	if !ok {
		ds.Close()
		return nil, nil, fmt.Errorf("no band %d", c.Int(BAND))
	}
	return ds, b, nil
}

func info(c *cli.Context) error {
	ds, err := openDataset(c)
	if err != nil {
		return err
	}
	defer ds.Close()

	width := c.Int(TEXTWIDTH)
	w := c.App.Writer
	cols, rows := ds.Size()
	fmt.Fprintf(w, "Dataset: %s (%s)\n", ds.Name(), ds.Kind())
	fmt.Fprintf(w, "Size: %d x %d\n", cols, rows)
	fmt.Fprintf(w, "Bounds: %s\n", ds.Bounds())
	fmt.Fprintf(w, "GeoTransform: %v\n", ds.GeoTransform())
	if extent, err := ds.ExtentWKT(); err == nil {
		fmt.Fprintf(w, "Extent: %s\n", truncate.StringWithTail(extent, uint(width), "..."))
	}
	if ds.EPSG() != 0 {
		fmt.Fprintf(w, "EPSG: %d\n", ds.EPSG())
		projection, err := ds.Projection(c.Context)
		if err != nil {
			fmt.Fprintf(w, "Projection: unavailable (%v)\n", err)
		} else {
			fmt.Fprintf(w, "Projection:\n%s\n", indent(wordwrap.String(projection, width-2)))
		}
	}

	for _, domain := range ds.MetadataDomains() {
		name := domain
		if name == dataset.DefaultMetadataDomain {
			name = "default"
		}
		fmt.Fprintf(w, "Metadata (%s):\n", name)
		for _, item := range ds.Metadata(domain) {
			fmt.Fprintln(w, indent(wordwrap.String(item, width-2)))
		}
	}

	for _, b := range ds.Bands() {
		bw, bh := b.BlockSize()
		fmt.Fprintf(w, "Band %d: section %d, %s, blocks %dx%d, %s", b.Index(), b.Section(), b.DataType(), bw, bh, b.ColorInterpretation())
		if nd, ok := b.NoData(); ok {
			fmt.Fprintf(w, ", no-data %g", nd)
		}
		fmt.Fprintln(w)
		for code, name := range b.CategoryNames() {
			if name != "" {
				fmt.Fprintf(w, "  %d: %s\n", code, name)
			}
		}
	}
	return nil
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func readBlock(c *cli.Context) error {
	ds, b, err := openBand(c)
	if err != nil {
		return err
	}
	defer ds.Close()

	bw, bh := b.BlockSize()
	buf := make([]byte, b.DataType().BufferSize(bw*bh))
	found, err := b.ReadBlock(c.Context, c.Int(COL), c.Int(ROW), buf)
	if err != nil {
		return err
	}
	if !found {
		newLogger(c).Info("no tile covers the block, filled with no-data", "col", c.Int(COL), "row", c.Int(ROW))
	}
	return writeOutput(c, buf)
}

func window(c *cli.Context, ds *dataset.Dataset, b *dataset.Band) (dataset.Window, error) {
	cols, rows := ds.Size()
	win := dataset.Window{
		XOff:      c.Int(XOFF),
		YOff:      c.Int(YOFF),
		XSize:     c.Int(XSIZE),
		YSize:     c.Int(YSIZE),
		BufWidth:  c.Int(WIDTH),
		BufHeight: c.Int(HEIGHT),
		BufType:   b.DataType(),
	}
	if win.XSize == 0 {
		win.XSize = cols - win.XOff
	}
	if win.YSize == 0 {
		win.YSize = rows - win.YOff
	}
	if win.BufWidth == 0 {
		win.BufWidth = win.XSize
	}
	if win.BufHeight == 0 {
		win.BufHeight = win.YSize
	}
	a, err := render.ParseAlgorithm(c.String(ALGORITHM))
	if err != nil {
		return win, err
	}
	win.Algorithm = a
	return win, nil
}

func readRegion(c *cli.Context) error {
	ds, b, err := openBand(c)
	if err != nil {
		return err
	}
	defer ds.Close()

	win, err := window(c, ds, b)
	if err != nil {
		return err
	}
	buf := make([]byte, b.DataType().BufferSize(win.BufWidth*win.BufHeight))
	if err := b.ReadRegion(c.Context, win, buf); err != nil {
		return err
	}

	if !strings.HasSuffix(strings.ToLower(c.String(OUTPUT)), ".tif") {
		return writeOutput(c, buf)
	}
	r := &geotiff.Raster{
		Width:    win.BufWidth,
		Height:   win.BufHeight,
		DataType: b.DataType(),
		Data:     flipRows(buf, win.BufWidth*b.DataType().Size()),
		Bounds:   ds.WindowBounds(win.XOff, win.YOff, win.XSize, win.YSize),
		EPSG:     ds.EPSG(),
	}
	if nd, ok := b.NoData(); ok {
		r.NoData = &nd
	}
	f, err := os.Create(c.String(OUTPUT))
	if err != nil {
		return err
	}
	if err := geotiff.Write(f, r, geotiff.WriteOptions{Compress: true, Sparse: r.NoData != nil}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// flipRows turns a bottom-up buffer into a top-down one.
func flipRows(buf []byte, rowSize int) []byte {
	out := make([]byte, len(buf))
	rows := len(buf) / rowSize
	for y := 0; y < rows; y++ {
		copy(out[(rows-1-y)*rowSize:(rows-y)*rowSize], buf[y*rowSize:(y+1)*rowSize])
	}
	return out
}

func writeOutput(c *cli.Context, buf []byte) error {
	var w io.Writer = c.App.Writer
	if name := c.String(OUTPUT); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err := w.Write(buf)
	return err
}

func parsePoints(s string) ([]geometry.Point, error) {
	var points []geometry.Point
	for _, pair := range strings.Split(s, ";") {
		x, y, ok := strings.Cut(strings.TrimSpace(pair), ",")
		if !ok {
			return nil, fmt.Errorf("point %q: expected x,y", pair)
		}
		px, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", pair, err)
		}
		py, err := strconv.ParseFloat(strings.TrimSpace(y), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", pair, err)
		}
		points = append(points, geometry.Pt(px, py))
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("a profile needs at least two points, got %d", len(points))
	}
	return points, nil
}

func profile(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one GeoTIFF, got %d arguments", c.NArg())
	}
	points, err := parsePoints(c.String(POINTS))
	if err != nil {
		return err
	}

	r, closer, err := geotiff.OpenSource(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	defer closer()
	g, err := geotiff.Open(r, geotiff.WithLogger(newLogger(c)), geotiff.WithPrefetch(true))
	if err != nil {
		return err
	}

	samples, err := g.Profile(points)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "x\ty\tcol\trow\tvalue")
	for _, s := range samples {
		fmt.Fprintf(c.App.Writer, "%g\t%g\t%d\t%d\t%s\n", s.At.X, s.At.Y, s.X, s.Y, strconv.FormatFloat(s.Value, 'g', -1, 64))
	}
	return nil
}
