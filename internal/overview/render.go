package overview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	billy "github.com/go-git/go-billy/v5"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/agentic-research/tessera/internal/catalog"
	"github.com/agentic-research/tessera/internal/mosaic"
	"github.com/agentic-research/tessera/internal/source"
)

// Compression names accepted for overview files.
const (
	CompressionNone    = "NONE"
	CompressionLZW     = "LZW"
	CompressionDeflate = "DEFLATE"
	CompressionZSTD    = "ZSTD"
	CompressionJPEG    = "JPEG"
	CompressionLERC    = "LERC"
	CompressionJXL     = "JXL"
)

var Compressions = []string{
	CompressionNone, CompressionLZW, CompressionDeflate, CompressionZSTD,
	CompressionJPEG, CompressionLERC, CompressionJXL,
}

// Resamplings lists the accepted resampling names.
var Resamplings = []string{
	"nearest", "bilinear", "cubic", "cubicspline", "lanczos",
	"average", "rms", "mode", "min", "max", "med", "q1", "q3", "sum",
}

var ErrUnsupportedCompression = errors.New("unsupported overview compression")

// Request describes one cell mosaic to build a pyramid for.
type Request struct {
	Path        string // cell descriptor path; levels are written beside it
	Grid        mosaic.Grid
	Window      mosaic.Window
	Sources     []catalog.Record
	Layout      mosaic.Layout
	Factors     []int
	Resampling  string
	Compression string
}

// Level is one rendered pyramid level. BandMap[i] is the band of the level
// file holding mosaic band i+1.
type Level struct {
	Factor  int
	Path    string
	Width   int
	Height  int
	BandMap []int
}

// Builder renders pyramid levels.
type Builder interface {
	Build(ctx context.Context, req Request) ([]Level, error)
}

// LevelPath names the file of one level.
func LevelPath(cell string, factor int) string {
	return cell + ".ovr" + strconv.Itoa(factor) + ".tif"
}

// Kernel maps a resampling name onto a scaler. Names without a direct
// equivalent fall back to an approximate bilinear filter.
func Kernel(name string) xdraw.Interpolator {
	switch strings.ToLower(name) {
	case "nearest":
		return xdraw.NearestNeighbor
	case "bilinear":
		return xdraw.BiLinear
	case "cubic", "cubicspline", "lanczos":
		return xdraw.CatmullRom
	default:
		return xdraw.ApproxBiLinear
	}
}

func tiffOptions(compression string) (*tiff.Options, error) {
	switch strings.ToUpper(compression) {
	case "", CompressionNone:
		return &tiff.Options{Compression: tiff.Uncompressed}, nil
	case CompressionDeflate:
		return &tiff.Options{Compression: tiff.Deflate}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
	}
}

// TIFFBuilder decodes every member source once, scales it into each level
// and writes the levels as TIFF files.
type TIFFBuilder struct {
	FS billy.Filesystem
}

// Interface compliance
var _ Builder = (*TIFFBuilder)(nil)

func NewTIFFBuilder(fs billy.Filesystem) *TIFFBuilder {
	return &TIFFBuilder{FS: fs}
}

type canvas struct {
	factor int
	img    draw.Image
}

func (b *TIFFBuilder) Build(ctx context.Context, req Request) ([]Level, error) {
	if len(req.Factors) == 0 {
		return nil, nil
	}
	opts, err := tiffOptions(req.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mosaic.ErrWriteFailure, err)
	}

	canvases := make([]canvas, len(req.Factors))
	for i, f := range req.Factors {
		w := max(1, ceilDiv(req.Window.Cols, f))
		h := max(1, ceilDiv(req.Window.Rows, f))
		canvases[i] = canvas{factor: f, img: newCanvas(req.Layout, w, h)}
	}

	gt := req.Grid.GeoTransform(req.Window)
	kernel := Kernel(req.Resampling)
	for _, r := range req.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := b.decode(r.Path)
		if err != nil {
			return nil, err
		}
		for _, c := range canvases {
			resX := req.Grid.ResX * float64(c.factor)
			resY := req.Grid.ResY * float64(c.factor)
			dr := image.Rect(
				int(math.Round((r.Bounds.MinX-gt[0])/resX)),
				int(math.Round((gt[3]-r.Bounds.MaxY)/resY)),
				int(math.Round((r.Bounds.MaxX-gt[0])/resX)),
				int(math.Round((gt[3]-r.Bounds.MinY)/resY)),
			)
			if dr.Dx() == 0 {
				dr.Max.X++
			}
			if dr.Dy() == 0 {
				dr.Max.Y++
			}
			kernel.Scale(c.img, dr, src, src.Bounds(), xdraw.Over, nil)
		}
	}

	bands := bandMap(req.Layout)
	levels := make([]Level, 0, len(canvases))
	for _, c := range canvases {
		path := LevelPath(req.Path, c.factor)
		var buf bytes.Buffer
		if err := tiff.Encode(&buf, c.img, opts); err != nil {
			return nil, fmt.Errorf("encode %s: %w: %w", path, mosaic.ErrWriteFailure, err)
		}
		if err := mosaic.WriteFile(b.FS, path, buf.Bytes()); err != nil {
			return nil, fmt.Errorf("%w: %w", mosaic.ErrWriteFailure, err)
		}
		bounds := c.img.Bounds()
		levels = append(levels, Level{
			Factor:  c.factor,
			Path:    path,
			Width:   bounds.Dx(),
			Height:  bounds.Dy(),
			BandMap: bands,
		})
	}
	return levels, nil
}

func (b *TIFFBuilder) decode(path string) (image.Image, error) {
	f, err := b.FS.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// newCanvas picks an image type the TIFF encoder writes without loss for
// the layout. Single band mosaics without alpha stay single band; the rest
// are written as four samples.
func newCanvas(l mosaic.Layout, w, h int) draw.Image {
	rect := image.Rect(0, 0, w, h)
	wide := l.DataType == source.UInt16
	switch {
	case l.ColorBands == 1 && !l.Alpha && wide:
		return image.NewGray16(rect)
	case l.ColorBands == 1 && !l.Alpha:
		return image.NewGray(rect)
	case wide:
		return image.NewNRGBA64(rect)
	default:
		return image.NewNRGBA(rect)
	}
}

func bandMap(l mosaic.Layout) []int {
	switch {
	case l.ColorBands == 1 && !l.Alpha:
		return []int{1}
	case l.ColorBands == 1:
		return []int{1, 4}
	case l.Alpha:
		return []int{1, 2, 3, 4}
	default:
		return []int{1, 2, 3}
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
