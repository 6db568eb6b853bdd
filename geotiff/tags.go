package geotiff

type fieldType uint16

// TIFF field types.
const (
	BYTE      fieldType = 1
	ASCII     fieldType = 2
	SHORT     fieldType = 3
	LONG      fieldType = 4
	RATIONAL  fieldType = 5
	SBYTE     fieldType = 6
	UNDEFINED fieldType = 7
	SSHORT    fieldType = 8
	SLONG     fieldType = 9
	SRATIONAL fieldType = 10
	FLOAT     fieldType = 11
	DOUBLE    fieldType = 12
	LONG8     fieldType = 16
	SLONG8    fieldType = 17
	IFD8      fieldType = 18
)

const (
	zeroByte  = 0
	oneByte   = 1
	twoByte   = 2
	fourByte  = 4
	eightByte = 8
)

const (
	littleEndian      = 0x4949 // "II"
	bigEndian         = 0x4D4D // "MM"
	tiffIdentifier    = 42
	bigTiffIdentifier = 43
	bigTiffBytesize   = 8
)

// Tags used by the reader and the writer.
const (
	ImageWidth      Tag = 256
	ImageLength     Tag = 257
	BitsPerSample   Tag = 258
	Compression     Tag = 259
	Photometric     Tag = 262
	SamplesPerPixel Tag = 277
	PlanarConfig    Tag = 284
	Predictor       Tag = 317
	TileWidth       Tag = 322
	TileLength      Tag = 323
	TileOffsets     Tag = 324
	TileByteCounts  Tag = 325
	SampleFormat    Tag = 339
	ModelPixelScale Tag = 33550
	ModelTiepoint   Tag = 33922
	GeoKeyDirectory Tag = 34735
	GDALNoData      Tag = 42113
)

var tagToLabel = map[Tag]string{
	ImageWidth:      "ImageWidth",
	ImageLength:     "ImageLength",
	BitsPerSample:   "BitsPerSample",
	Compression:     "Compression",
	Photometric:     "PhotometricInterpretation",
	SamplesPerPixel: "SamplesPerPixel",
	PlanarConfig:    "PlanarConfiguration",
	Predictor:       "Predictor",
	TileWidth:       "TileWidth",
	TileLength:      "TileLength",
	TileOffsets:     "TileOffsets",
	TileByteCounts:  "TileByteCounts",
	SampleFormat:    "SampleFormat",
	ModelPixelScale: "ModelPixelScale",
	ModelTiepoint:   "ModelTiepoint",
	GeoKeyDirectory: "GeoKeyDirectory",
	GDALNoData:      "GDAL_NODATA",
}

// Compression schemes.
const (
	Uncompressed = 1
	DEFLATE      = 8
	AdobeDeflate = 32946
)

// Predictor schemes.
const (
	PredictorNone       = 1
	PredictorHorizontal = 2
)

// SampleFormat values.
const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)

// GeoKeys holding the EPSG code of the raster.
const (
	geographicTypeGeoKey = 2048
	projectedCSTypeKey   = 3072
)
