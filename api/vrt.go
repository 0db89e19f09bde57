// Package api defines the mosaic descriptor written by tessera: a GDAL
// virtual raster (VRT) document.
package api

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Placement element names.
const (
	SimpleSource  = "SimpleSource"
	ComplexSource = "ComplexSource"
)

// Band colour interpretations used by the builder.
const (
	ColorGray  = "Gray"
	ColorRed   = "Red"
	ColorGreen = "Green"
	ColorBlue  = "Blue"
	ColorAlpha = "Alpha"
)

// VRTDataset is the root of a mosaic descriptor.
type VRTDataset struct {
	XMLName      xml.Name        `xml:"VRTDataset"`
	RasterXSize  int             `xml:"rasterXSize,attr"`
	RasterYSize  int             `xml:"rasterYSize,attr"`
	SRS          string          `xml:"SRS,omitempty"`
	GeoTransform GeoTransform    `xml:"GeoTransform"`
	Bands        []VRTRasterBand `xml:"VRTRasterBand"`
}

// VRTRasterBand is one output band and the placements that feed it.
type VRTRasterBand struct {
	DataType    string     `xml:"dataType,attr"`
	Band        int        `xml:"band,attr"`
	ColorInterp string     `xml:"ColorInterp,omitempty"`
	Overviews   []Overview `xml:"Overview"`
	// Sources keeps SimpleSource and ComplexSource elements in document
	// order; each element's name lives in its XMLName.
	Sources []Source `xml:",any"`
}

// Source places a rectangle of one source band into the band's pixel space.
type Source struct {
	XMLName     xml.Name
	Resampling  string            `xml:"resampling,attr,omitempty"`
	Filename    SourceFilename    `xml:"SourceFilename"`
	SourceBand  int               `xml:"SourceBand"`
	Properties  *SourceProperties `xml:"SourceProperties,omitempty"`
	SrcRect     Rect              `xml:"SrcRect"`
	DstRect     Rect              `xml:"DstRect"`
	ScaleOffset *float64          `xml:"ScaleOffset,omitempty"`
	ScaleRatio  *float64          `xml:"ScaleRatio,omitempty"`
}

// IsComplex reports whether the placement carries scaling terms.
func (s Source) IsComplex() bool {
	return s.XMLName.Local == ComplexSource
}

type SourceFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Path          string `xml:",chardata"`
}

type SourceProperties struct {
	RasterXSize int    `xml:"RasterXSize,attr"`
	RasterYSize int    `xml:"RasterYSize,attr"`
	DataType    string `xml:"DataType,attr"`
}

// Rect is a pixel rectangle; offsets may be fractional in destination space.
type Rect struct {
	XOff  float64 `xml:"xOff,attr"`
	YOff  float64 `xml:"yOff,attr"`
	XSize float64 `xml:"xSize,attr"`
	YSize float64 `xml:"ySize,attr"`
}

// Overview points a band at a precomputed downsampled level.
type Overview struct {
	Filename   SourceFilename `xml:"SourceFilename"`
	SourceBand int            `xml:"SourceBand"`
}

// GeoTransform is written as six comma separated coefficients.
type GeoTransform [6]float64

func (gt GeoTransform) MarshalText() ([]byte, error) {
	parts := make([]string, len(gt))
	for i, v := range gt {
		parts[i] = strconv.FormatFloat(v, 'g', 17, 64)
	}
	return []byte(strings.Join(parts, ", ")), nil
}

func (gt *GeoTransform) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ",")
	if len(parts) != 6 {
		return fmt.Errorf("geotransform: want 6 coefficients, got %d", len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("geotransform coefficient %d: %w", i, err)
		}
		gt[i] = v
	}
	return nil
}

// Marshal renders d as an indented XML document.
func Marshal(d *VRTDataset) ([]byte, error) {
	out, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Unmarshal parses a descriptor.
func Unmarshal(data []byte) (*VRTDataset, error) {
	var d VRTDataset
	if err := xml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
