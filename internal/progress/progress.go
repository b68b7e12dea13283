package progress

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Sink stores the numeric progress of a job, *queue.Job implements it.
type Sink interface {
	SetProgress(ctx context.Context, pct float64) error
}

// Display renders progress for humans.
type Display interface {
	Reset(label string, current, total int) error
	Set(current int) error
}

// Reporter maps a (current, total) counter pair onto a Sink and an optional
// Display. A failing Display is dropped, the Sink keeps receiving updates.
type Reporter struct {
	label string
	sink  Sink

	mx      sync.Mutex
	display Display
	current int
	total   int
}

type Option func(*Reporter)

func WithTotal(total int) Option {
	return func(r *Reporter) { r.total = total }
}

func WithCurrent(current int) Option {
	return func(r *Reporter) { r.current = current }
}

func WithDisplay(d Display) Option {
	return func(r *Reporter) { r.display = d }
}

func New(label string, sink Sink, opts ...Option) *Reporter {
	r := &Reporter{
		label: label,
		sink:  sink,
		total: 100,
	}
	for _, o := range opts {
		o(r)
	}
	if r.display != nil {
		if err := r.display.Reset(label, r.current, r.total); err != nil {
			slog.Warn("progress display unavailable", "label", label, "error", err)
			r.display = nil
		}
	}
	return r
}

// Percentage returns current/total in percent rounded to two decimals, zero
// for an empty total.
func Percentage(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(current)/float64(total)*100*100) / 100
}

func (r *Reporter) State() (current, total int) {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.current, r.total
}

func (r *Reporter) Increment(ctx context.Context) {
	r.mx.Lock()
	r.current++
	pct := Percentage(r.current, r.total)
	r.show(ctx, func(d Display) error { return d.Set(r.current) })
	r.mx.Unlock()
	r.push(ctx, pct)
}

// SetRelative moves to (current, total). Exactly one tick forward is an
// Increment, anything else restarts the display range.
func (r *Reporter) SetRelative(ctx context.Context, current, total int) {
	r.mx.Lock()
	if current == r.current+1 && total == r.total {
		r.mx.Unlock()
		r.Increment(ctx)
		return
	}
	r.current, r.total = current, total
	pct := Percentage(current, total)
	r.show(ctx, func(d Display) error { return d.Reset(r.label, current, total) })
	r.mx.Unlock()
	r.push(ctx, pct)
}

// SetAbsolute sets the percentage directly, total becomes 100.
func (r *Reporter) SetAbsolute(ctx context.Context, pct int) {
	r.SetRelative(ctx, pct, 100)
}

func (r *Reporter) show(ctx context.Context, f func(Display) error) {
	if r.display == nil {
		return
	}
	if err := f(r.display); err != nil {
		slog.WarnContext(ctx, "progress display failed, falling back to numeric progress", "label", r.label, "error", err)
		r.display = nil
	}
}

func (r *Reporter) push(ctx context.Context, pct float64) {
	if r.sink == nil {
		return
	}
	if err := r.sink.SetProgress(ctx, pct); err != nil {
		slog.WarnContext(ctx, "storing job progress", "label", r.label, "error", err)
	}
}

// Bar is a Display drawing a progressbar on w.
type Bar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func NewBar(w io.Writer) *Bar {
	return &Bar{w: w}
}

func (b *Bar) Reset(label string, current, total int) error {
	if b.bar != nil {
		_ = b.bar.Exit()
	}
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
	return b.bar.Set(current)
}

func (b *Bar) Set(current int) error {
	return b.bar.Set(current)
}
