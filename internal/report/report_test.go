package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/tessera/internal/builder"
	"github.com/agentic-research/tessera/internal/geo"
	"github.com/agentic-research/tessera/internal/ingest"
	"github.com/agentic-research/tessera/internal/mosaic"
	"github.com/agentic-research/tessera/internal/partition"
)

func outcome() *builder.Outcome {
	return &builder.Outcome{
		Ingest: &ingest.Result{
			Accepted: 2,
			Rejected: []*ingest.SourceError{
				{Path: "/data/r.png", Kind: ingest.ErrGeoreferencing, Err: errors.New("rotated")},
			},
			Extent: geo.Extent{MinX: 0, MinY: 0, MaxX: 4, MaxY: 2},
		},
		Plan:   partition.Plan{CellsX: 2, CellsY: 1, CellWidth: 2, CellHeight: 2, Target: 2},
		Grid:   mosaic.Grid{Width: 40, Height: 20, ResX: 0.1, ResY: 0.1},
		Layout: mosaic.NewLayout(3, false, true),
		Cells: []builder.CellResult{
			{Name: "m_0_0", Path: "/out/m_0_0.vrt", Sources: 1, Window: mosaic.Window{Cols: 20, Rows: 20}, Overviews: []int{2}, Duration: time.Second},
			{Name: "m_1_0", Path: "/out/m_1_0.vrt", I: 1, Sources: 1, Window: mosaic.Window{Col: 20, Cols: 20, Rows: 20}},
		},
		Output:  "/out/m.vrt",
		Elapsed: 2 * time.Second,
	}
}

func TestWrite(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, Write(fs, "/out/report.json", outcome()))

	data, err := util.ReadFile(fs, "/out/report.json")
	require.NoError(t, err)
	doc, err := oj.Parse(data)
	require.NoError(t, err)

	get := func(expr string) []any {
		return jp.MustParseString(expr).Get(doc)
	}
	assert.Equal(t, []any{"/out/m.vrt"}, get("$.output"))
	assert.Equal(t, []any{int64(2)}, get("$.catalog.accepted"))
	assert.Equal(t, []any{"georeferencing"}, get("$.catalog.rejected[0].reason"))
	assert.Equal(t, []any{"m_0_0", "m_1_0"}, get("$.cells[*].name"))
	assert.Equal(t, []any{int64(20)}, get("$.cells[1].window.col"))
	assert.Equal(t, []any{int64(2)}, get("$.cells[0].overviews[0]"))
	assert.Empty(t, get("$.cells[1].overviews"))
	assert.Equal(t, []any{int64(4)}, get("$.layout.bands"))
	assert.Equal(t, []any{false}, get("$.plan.degenerate"))
}

func TestEncode_SortedKeys(t *testing.T) {
	s := Encode(map[string]any{"b": 1, "a": 2})
	assert.Less(t, strings.Index(s, `"a"`), strings.Index(s, `"b"`))
}

