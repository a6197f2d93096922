// Package progress renders download progress. Bars draws terminal progress
// bars with mpb; LogSink reports the same events through a logger.
package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/gkatanacio/gh-folder-download/download"
)

const (
	defaultWidth   = 48
	maxNameWidth   = 40
	ewmaAge        = 30
	overallBarName = "Files"
)

// Options configures Bars.
type Options struct {
	// Output is where the bars are drawn.
	// Default: os.Stdout
	Output io.Writer

	// Width is the width of the bar itself, decorators excluded.
	// Default: 48
	Width int
}

type fileBar struct {
	bar  *mpb.Bar
	last time.Time
}

// Bars shows one bar counting finished files and one bar per file in
// flight. It implements download.ProgressSink.
type Bars struct {
	opts Options

	mu      sync.Mutex
	p       *mpb.Progress
	overall *mpb.Bar
	files   map[string]*fileBar
}

var _ download.ProgressSink = (*Bars)(nil)

func NewBars(opts Options) *Bars {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	return &Bars{opts: opts, files: make(map[string]*fileBar)}
}

func barStyle() mpb.BarStyleComposer {
	return mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")
}

func (b *Bars) Start(files int, totalBytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.p = mpb.New(mpb.WithOutput(b.opts.Output), mpb.WithWidth(b.opts.Width))
	b.overall = b.p.New(int64(files),
		barStyle(),
		mpb.BarPriority(-1),
		mpb.PrependDecorators(
			decor.Name(overallBarName, decor.WC{W: len(overallBarName) + 1, C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d", decor.WC{W: 12}),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 6}), "Complete"),
		),
	)
}

func (b *Bars) FileStarted(path string, size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.p == nil {
		return
	}

	name := shorten(path, maxNameWidth)
	bar := b.p.New(max(size, 0),
		barStyle(),
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: maxNameWidth + 1, C: decor.DindentRight}),
			decor.Counters(decor.SizeB1024(0), "% .1f / % .1f", decor.WC{W: 20}),
		),
		mpb.AppendDecorators(
			decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", ewmaAge),
		),
	)
	b.files[path] = &fileBar{bar: bar, last: time.Now()}
}

func (b *Bars) FileProgress(path string, written int64) {
	b.mu.Lock()
	fb, ok := b.files[path]
	b.mu.Unlock()
	if !ok {
		return
	}

	now := time.Now()
	fb.bar.EwmaSetCurrent(written, now.Sub(fb.last))
	fb.last = now
}

func (b *Bars) FileDone(res download.Result) {
	b.mu.Lock()
	fb, ok := b.files[res.Task.FilePath]
	delete(b.files, res.Task.FilePath)
	overall := b.overall
	b.mu.Unlock()

	if ok {
		if res.Success {
			// unknown or cached sizes complete at whatever was written
			fb.bar.SetTotal(-1, true)
		} else {
			fb.bar.Abort(true)
		}
	}
	if overall != nil {
		overall.Increment()
	}
}

// Finish waits for the bars to be drawn for the last time.
func (b *Bars) Finish(download.Stats) {
	b.mu.Lock()
	p, overall := b.p, b.overall
	for path, fb := range b.files {
		fb.bar.Abort(true)
		delete(b.files, path)
	}
	b.p, b.overall = nil, nil
	b.mu.Unlock()

	if p == nil {
		return
	}
	overall.SetTotal(-1, true)
	p.Wait()
}

// shorten keeps the tail of p, which is the most specific part of a path.
func shorten(p string, width int) string {
	r := []rune(p)
	if len(r) <= width {
		return p
	}
	return "…" + string(r[len(r)-width+1:])
}
