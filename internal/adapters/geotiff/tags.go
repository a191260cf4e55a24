// Package geotiff reads tiled and stripped GeoTIFF rasters block by block.
package geotiff

import "fmt"

// Tag is a TIFF tag identifier.
type Tag uint16

// TIFF and GeoTIFF tags understood by the reader.
const (
	ImageWidth                Tag = 256
	ImageLength               Tag = 257
	BitsPerSample             Tag = 258
	Compression               Tag = 259
	PhotometricInterpretation Tag = 262
	StripOffsets              Tag = 273
	SamplesPerPixel           Tag = 277
	RowsPerStrip              Tag = 278
	StripByteCounts           Tag = 279
	PlanarConfiguration       Tag = 284
	Predictor                 Tag = 317
	TileWidth                 Tag = 322
	TileLength                Tag = 323
	TileOffsets               Tag = 324
	TileByteCounts            Tag = 325
	SampleFormat              Tag = 339
	ModelPixelScale           Tag = 33550
	ModelTiepoint             Tag = 33922
	ModelTransformation       Tag = 34264
	GeoKeyDirectory           Tag = 34735
	GeoDoubleParams           Tag = 34736
	GeoASCIIParams            Tag = 34737
	GDALNoData                Tag = 42113
)

var tagNames = map[Tag]string{
	ImageWidth:          "ImageWidth",
	ImageLength:         "ImageLength",
	BitsPerSample:       "BitsPerSample",
	Compression:         "Compression",
	StripOffsets:        "StripOffsets",
	SamplesPerPixel:     "SamplesPerPixel",
	RowsPerStrip:        "RowsPerStrip",
	StripByteCounts:     "StripByteCounts",
	PlanarConfiguration: "PlanarConfiguration",
	Predictor:           "Predictor",
	TileWidth:           "TileWidth",
	TileLength:          "TileLength",
	TileOffsets:         "TileOffsets",
	TileByteCounts:      "TileByteCounts",
	SampleFormat:        "SampleFormat",
	ModelPixelScale:     "ModelPixelScale",
	ModelTiepoint:       "ModelTiepoint",
	ModelTransformation: "ModelTransformation",
	GeoKeyDirectory:     "GeoKeyDirectory",
	GDALNoData:          "GDAL_NODATA",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag %d", uint16(t))
}

type fieldType uint16

// Field types.
const (
	typeByte      fieldType = 1
	typeASCII     fieldType = 2
	typeShort     fieldType = 3
	typeLong      fieldType = 4
	typeRational  fieldType = 5
	typeSByte     fieldType = 6
	typeUndefined fieldType = 7
	typeSShort    fieldType = 8
	typeSLong     fieldType = 9
	typeSRational fieldType = 10
	typeFloat     fieldType = 11
	typeDouble    fieldType = 12
	typeLong8     fieldType = 16
	typeSLong8    fieldType = 17
	typeIFD8      fieldType = 18
)

// size returns the byte length of one value, 0 if unknown.
func (f fieldType) size() uint64 {
	switch f {
	case typeByte, typeASCII, typeSByte, typeUndefined:
		return 1
	case typeShort, typeSShort:
		return 2
	case typeLong, typeSLong, typeFloat:
		return 4
	case typeRational, typeSRational, typeDouble, typeLong8, typeSLong8, typeIFD8:
		return 8
	}
	return 0
}

// Compression schemes.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionAdobeDeflate = 8
	compressionPackBits     = 32773
	compressionDeflate      = 32946
)

// Predictors.
const (
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
)

// Sample formats.
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// Planar configurations.
const (
	planarChunky   = 1
	planarSeparate = 2
)

// GeoKey identifiers.
const (
	keyRasterType      = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072
	userDefinedGeoKey  = 32767
	rasterPixelIsPoint = 2
)

const (
	tiffIdentifier     = 42
	bigTIFFIdentifier  = 43
	bigTIFFOffsetBytes = 8
	littleEndianMagic  = 0x4949
	bigEndianMagic     = 0x4D4D
	maxIFDEntries      = 4096
)
