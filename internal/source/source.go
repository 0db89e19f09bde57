// Package source opens raster sources and extracts the header facts the
// mosaic builder depends on: pixel dimensions, band layout, affine
// placement and spatial reference.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/agentic-research/tessera/internal/geo"
)

// Sample data types, named the way VRT descriptors spell them.
const (
	Byte   = "Byte"
	UInt16 = "UInt16"
)

// ErrNoGeoreference is returned when a raster has no world file sidecar.
var ErrNoGeoreference = errors.New("no world file")

// Info is the header of one opened raster.
type Info struct {
	Path         string
	Width        int
	Height       int
	Bands        int // colour bands, alpha excluded
	DataType     string
	HasAlpha     bool
	GeoTransform geo.GeoTransform
	SRS          string // empty means unreferenced
}

// Bounds returns the footprint of the raster in the shared coordinate space.
func (i *Info) Bounds() geo.Extent {
	return i.GeoTransform.Bounds(i.Width, i.Height)
}

// Opener opens one raster source and reads its header.
type Opener interface {
	Open(ctx context.Context, path string) (*Info, error)
}

// Func adapts a plain function to Opener.
type Func func(ctx context.Context, path string) (*Info, error)

func (f Func) Open(ctx context.Context, path string) (*Info, error) { return f(ctx, path) }

// FileOpener reads headers of image files with ESRI world file and .prj
// sidecars from a billy filesystem.
type FileOpener struct {
	FS billy.Filesystem
}

func NewFileOpener(fs billy.Filesystem) *FileOpener {
	return &FileOpener{FS: fs}
}

// Open implements Opener.
func (o *FileOpener) Open(ctx context.Context, path string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := o.FS.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	cfg, format, err := image.DecodeConfig(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode header %s: %w", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode header %s: empty %s raster", path, format)
	}

	gt, err := o.readWorldFile(path)
	if err != nil {
		return nil, err
	}
	srs, err := o.readPrj(path)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Path:         path,
		Width:        cfg.Width,
		Height:       cfg.Height,
		GeoTransform: gt,
		SRS:          srs,
	}
	info.Bands, info.DataType, info.HasAlpha = describeModel(cfg.ColorModel)
	return info, nil
}

// describeModel maps a decoder colour model onto a band layout.
func describeModel(m color.Model) (bands int, dataType string, alpha bool) {
	if _, ok := m.(color.Palette); ok {
		return 1, Byte, false
	}
	switch m {
	case color.GrayModel:
		return 1, Byte, false
	case color.Gray16Model:
		return 1, UInt16, false
	case color.NRGBAModel:
		return 3, Byte, true
	case color.NRGBA64Model:
		return 3, UInt16, true
	case color.RGBAModel:
		// PNG and TIFF report plain RGB through the premultiplied model.
		return 3, Byte, false
	case color.RGBA64Model:
		return 3, UInt16, false
	case color.AlphaModel:
		return 1, Byte, false
	case color.Alpha16Model:
		return 1, UInt16, false
	default:
		// YCbCr, CMYK and anything exotic decode to opaque RGB.
		return 3, Byte, false
	}
}

// WorldFileCandidates lists the sidecar names checked for path, in order.
func WorldFileCandidates(path string) []string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	var out []string
	if e := strings.TrimPrefix(ext, "."); len(e) >= 2 {
		out = append(out, base+"."+e[:1]+e[len(e)-1:]+"w")
	}
	if ext != "" {
		out = append(out, path+"w")
	}
	return append(out, base+".wld")
}

func (o *FileOpener) readWorldFile(path string) (geo.GeoTransform, error) {
	for _, cand := range WorldFileCandidates(path) {
		data, err := util.ReadFile(o.FS, cand)
		if err != nil {
			continue
		}
		gt, err := ParseWorldFile(string(data))
		if err != nil {
			return geo.GeoTransform{}, fmt.Errorf("parse %s: %w", cand, err)
		}
		return gt, nil
	}
	return geo.GeoTransform{}, fmt.Errorf("%s: %w", path, ErrNoGeoreference)
}

func (o *FileOpener) readPrj(path string) (string, error) {
	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if _, err := o.FS.Stat(prj); err != nil {
		return "", nil // unreferenced
	}
	data, err := util.ReadFile(o.FS, prj)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", prj, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ParseWorldFile converts the six ESRI world file terms (A D B E C F, where
// C/F address the centre of the upper-left pixel) into a geotransform that
// addresses the pixel corner.
func ParseWorldFile(text string) (geo.GeoTransform, error) {
	fields := strings.Fields(text)
	if len(fields) < 6 {
		return geo.GeoTransform{}, fmt.Errorf("want 6 terms, got %d", len(fields))
	}
	var v [6]float64
	for i := range v {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return geo.GeoTransform{}, fmt.Errorf("term %d: %w", i+1, err)
		}
		v[i] = f
	}
	a, d, b, e, c, f := v[0], v[1], v[2], v[3], v[4], v[5]
	return geo.GeoTransform{
		c - a/2 - b/2,
		a,
		b,
		f - d/2 - e/2,
		d,
		e,
	}, nil
}

// FormatWorldFile is the inverse of ParseWorldFile.
func FormatWorldFile(gt geo.GeoTransform) string {
	a, b, d, e := gt[1], gt[2], gt[4], gt[5]
	c := gt[0] + a/2 + b/2
	f := gt[3] + d/2 + e/2
	terms := []float64{a, d, b, e, c, f}
	var sb strings.Builder
	for _, t := range terms {
		sb.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
		sb.WriteByte('\n')
	}
	return sb.String()
}
