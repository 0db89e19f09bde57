// Package testutil builds georeferenced raster fixtures on billy
// filesystems for package tests.
package testutil

import (
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/image/tiff"

	"github.com/agentic-research/tessera/internal/geo"
	"github.com/agentic-research/tessera/internal/source"
)

// Raster describes one fixture. Zero sizes default to 10x10, a zero Res to 1.
type Raster struct {
	Path   string
	MinX   float64
	MaxY   float64
	Width  int
	Height int
	Res    float64
	SRS    string // written to a .prj sidecar when set
	Fill   color.Color
	Gray   bool // single band instead of RGBA
	GT     *geo.GeoTransform // overrides MinX/MaxY/Res
}

// WriteRaster encodes the fixture (PNG, or TIFF for .tif paths) together
// with its world file and optional .prj.
func WriteRaster(t *testing.T, fs billy.Filesystem, r Raster) {
	t.Helper()
	if r.Width == 0 {
		r.Width = 10
	}
	if r.Height == 0 {
		r.Height = 10
	}
	if r.Res == 0 {
		r.Res = 1
	}
	if r.Fill == nil {
		r.Fill = color.NRGBA{R: 200, G: 100, B: 50, A: 255}
	}

	var img image.Image
	if r.Gray {
		g := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
		fillImage(g, r.Fill)
		img = g
	} else {
		n := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
		fillImage(n, r.Fill)
		img = n
	}

	if err := fs.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := fs.Create(r.Path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.EqualFold(filepath.Ext(r.Path), ".tif") {
		err = tiff.Encode(f, img, nil)
	} else {
		err = png.Encode(f, img)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		t.Fatal(err)
	}

	gt := geo.NorthUp(r.MinX, r.MaxY, r.Res, r.Res)
	if r.GT != nil {
		gt = *r.GT
	}
	world := source.WorldFileCandidates(r.Path)[0]
	if err := util.WriteFile(fs, world, []byte(source.FormatWorldFile(gt)), 0o644); err != nil {
		t.Fatal(err)
	}
	if r.SRS != "" {
		prj := strings.TrimSuffix(r.Path, filepath.Ext(r.Path)) + ".prj"
		if err := util.WriteFile(fs, prj, []byte(r.SRS+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

type settable interface {
	image.Image
	Set(x, y int, c color.Color)
}

func fillImage(img settable, c color.Color) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}
