package mosaic

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/agentic-research/tessera/api"
	"github.com/agentic-research/tessera/internal/catalog"
	"github.com/agentic-research/tessera/internal/source"
)

// ErrWriteFailure wraps every failure to persist a descriptor or overview.
var ErrWriteFailure = errors.New("write failure")

// Layout is the band structure shared by all mosaics of one run.
type Layout struct {
	ColorBands int
	DataType   string
	Alpha      bool // append a synthetic alpha band
}

// NewLayout derives the shared layout from the widest catalog members.
func NewLayout(colorBands int, wide, addAlpha bool) Layout {
	l := Layout{ColorBands: max(colorBands, 1), DataType: source.Byte, Alpha: addAlpha}
	if wide {
		l.DataType = source.UInt16
	}
	return l
}

// Bands returns the total band count, alpha included.
func (l Layout) Bands() int {
	if l.Alpha {
		return l.ColorBands + 1
	}
	return l.ColorBands
}

// Options are the per-run placement settings.
type Options struct {
	Layout     Layout
	Resampling string // recorded opaquely on every source placement
	SRS        string
}

// Cell is a built cell mosaic: its descriptor and where it sits on the grid.
type Cell struct {
	Path       string
	Window     Window
	Descriptor *api.VRTDataset
}

// BuildCell builds the descriptor that composites recs over window of the
// shared grid. path is where the descriptor will be written; sources below
// its directory are referenced relatively. It never fails.
func BuildCell(path string, recs []catalog.Record, g Grid, w Window, opts Options) *api.VRTDataset {
	d := newDataset(g, w, opts)
	gt := g.GeoTransform(w)
	originX, originY := gt[0], gt[3]

	for _, r := range recs {
		dst := api.Rect{
			XOff:  (r.Bounds.MinX - originX) / g.ResX,
			YOff:  (originY - r.Bounds.MaxY) / g.ResY,
			XSize: r.Bounds.Width() / g.ResX,
			YSize: r.Bounds.Height() / g.ResY,
		}
		src := api.Rect{XSize: float64(r.Width), YSize: float64(r.Height)}
		fn := filenameFor(path, r.Path)
		props := &api.SourceProperties{RasterXSize: r.Width, RasterYSize: r.Height, DataType: r.DataType}

		for b := 1; b <= opts.Layout.ColorBands; b++ {
			sb := sourceBand(b, r.Bands)
			if sb == 0 {
				continue
			}
			d.Bands[b-1].Sources = append(d.Bands[b-1].Sources, api.Source{
				XMLName:    xmlName(api.SimpleSource),
				Resampling: opts.Resampling,
				Filename:   fn,
				SourceBand: sb,
				Properties: props,
				SrcRect:    src,
				DstRect:    dst,
			})
		}

		if opts.Layout.Alpha {
			d.Bands[opts.Layout.ColorBands].Sources = append(d.Bands[opts.Layout.ColorBands].Sources,
				alphaSource(r, fn, props, src, dst, opts))
		}
	}
	return d
}

// sourceBand picks the source band feeding mosaic band b, or 0 when the
// source has nothing for it. Single band sources feed every colour band.
func sourceBand(b, srcBands int) int {
	switch {
	case srcBands == 1:
		return 1
	case b <= srcBands:
		return b
	default:
		return 0
	}
}

// alphaSource uses the source's own alpha when it has one and otherwise
// paints the source footprint fully opaque.
func alphaSource(r catalog.Record, fn api.SourceFilename, props *api.SourceProperties, src, dst api.Rect, opts Options) api.Source {
	if r.HasAlpha {
		return api.Source{
			XMLName:    xmlName(api.SimpleSource),
			Resampling: opts.Resampling,
			Filename:   fn,
			SourceBand: r.Bands + 1,
			Properties: props,
			SrcRect:    src,
			DstRect:    dst,
		}
	}
	opaque := 255.0
	if opts.Layout.DataType == source.UInt16 {
		opaque = 65535
	}
	ratio := 0.0
	return api.Source{
		XMLName:     xmlName(api.ComplexSource),
		Resampling:  opts.Resampling,
		Filename:    fn,
		SourceBand:  1,
		Properties:  props,
		SrcRect:     src,
		DstRect:     dst,
		ScaleOffset: &opaque,
		ScaleRatio:  &ratio,
	}
}

// BuildTopLevel stitches cell mosaics into the descriptor written at path.
// Each cell keeps its own pixel size, so source and destination rects have
// the same size and nothing is resampled.
func BuildTopLevel(path string, cells []*Cell, g Grid, opts Options) *api.VRTDataset {
	topOpts := opts
	topOpts.Resampling = ""
	d := newDataset(g, g.Full(), topOpts)

	for _, c := range cells {
		fn := filenameFor(path, c.Path)
		props := &api.SourceProperties{
			RasterXSize: c.Window.Cols,
			RasterYSize: c.Window.Rows,
			DataType:    opts.Layout.DataType,
		}
		src := api.Rect{XSize: float64(c.Window.Cols), YSize: float64(c.Window.Rows)}
		dst := api.Rect{
			XOff:  float64(c.Window.Col),
			YOff:  float64(c.Window.Row),
			XSize: float64(c.Window.Cols),
			YSize: float64(c.Window.Rows),
		}
		for b := range d.Bands {
			d.Bands[b].Sources = append(d.Bands[b].Sources, api.Source{
				XMLName:    xmlName(api.SimpleSource),
				Filename:   fn,
				SourceBand: b + 1,
				Properties: props,
				SrcRect:    src,
				DstRect:    dst,
			})
		}
	}
	return d
}

// AttachOverview registers an overview level on every band. bandMap[i] is
// the band of file that holds mosaic band i+1.
func AttachOverview(d *api.VRTDataset, descriptorPath, file string, bandMap []int) {
	fn := filenameFor(descriptorPath, file)
	for i := range d.Bands {
		if i >= len(bandMap) {
			break
		}
		d.Bands[i].Overviews = append(d.Bands[i].Overviews, api.Overview{Filename: fn, SourceBand: bandMap[i]})
	}
}

func newDataset(g Grid, w Window, opts Options) *api.VRTDataset {
	d := &api.VRTDataset{
		RasterXSize:  w.Cols,
		RasterYSize:  w.Rows,
		SRS:          opts.SRS,
		GeoTransform: api.GeoTransform(g.GeoTransform(w)),
	}
	interp := colorInterps(opts.Layout.ColorBands)
	for b := 1; b <= opts.Layout.ColorBands; b++ {
		d.Bands = append(d.Bands, api.VRTRasterBand{
			DataType:    opts.Layout.DataType,
			Band:        b,
			ColorInterp: interp[b-1],
		})
	}
	if opts.Layout.Alpha {
		d.Bands = append(d.Bands, api.VRTRasterBand{
			DataType:    opts.Layout.DataType,
			Band:        opts.Layout.ColorBands + 1,
			ColorInterp: api.ColorAlpha,
		})
	}
	return d
}

func colorInterps(n int) []string {
	switch n {
	case 1:
		return []string{api.ColorGray}
	case 3:
		return []string{api.ColorRed, api.ColorGreen, api.ColorBlue}
	default:
		return make([]string, n)
	}
}

// filenameFor references target from a descriptor at descriptorPath,
// relatively when target lives at or below the descriptor's directory.
func filenameFor(descriptorPath, target string) api.SourceFilename {
	rel, err := filepath.Rel(filepath.Dir(descriptorPath), target)
	if err == nil && filepath.IsAbs(descriptorPath) == filepath.IsAbs(target) &&
		rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return api.SourceFilename{RelativeToVRT: 1, Path: filepath.ToSlash(rel)}
	}
	return api.SourceFilename{Path: target}
}
