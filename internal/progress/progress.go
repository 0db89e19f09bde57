// Package progress reports per-cell advancement of a build.
package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Tracker is told how much work there is and when a unit of it completes.
// Advance may be called from several goroutines.
type Tracker interface {
	Start(total int, desc string)
	Advance()
	Finish()
}

// Nop discards progress.
type Nop struct{}

func (Nop) Start(int, string) {}
func (Nop) Advance()          {}
func (Nop) Finish()           {}

// Bar renders progress as a terminal bar on w.
type Bar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// Interface compliance
var (
	_ Tracker = Nop{}
	_ Tracker = (*Bar)(nil)
)

func NewBar(w io.Writer) *Bar {
	return &Bar{w: w}
}

func (b *Bar) Start(total int, desc string) {
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("cells"),
		progressbar.OptionShowIts(),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(b.w, "\n") }),
	)
}

func (b *Bar) Advance() {
	if b.bar != nil {
		_ = b.bar.Add(1)
	}
}

func (b *Bar) Finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}
