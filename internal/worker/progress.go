package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const barWidth = 30

// Progress draws a single-line terminal bar for a batch and summarises it afterwards.
type Progress struct {
	out     io.Writer
	start   time.Time
	now     func() time.Time
	unit    string
	counts  counts
	mu      sync.Mutex
	enabled bool
}

type counts struct {
	completed, total, failed int
}

// NewProgress creates a tracker for total items. unit names what is counted ("segments").
// A disabled tracker still counts, for Summary, but never draws.
func NewProgress(total int, unit string, enabled bool) *Progress {
	if unit == "" {
		unit = "items"
	}
	return &Progress{
		out:     os.Stderr,
		start:   time.Now(),
		now:     time.Now,
		unit:    unit,
		counts:  counts{total: total},
		enabled: enabled,
	}
}

// Update records the latest counts and redraws the bar.
func (p *Progress) Update(completed, total, failed int) {
	p.mu.Lock()
	p.counts = counts{completed: completed, total: total, failed: failed}
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Callback adapts Update to a ProgressFunc.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

// Print redraws the bar in place.
func (p *Progress) Print() {
	fmt.Fprint(p.out, "\r"+p.line()+"          ")
}

// Done draws the final state and ends the line.
func (p *Progress) Done() {
	if !p.enabled {
		return
	}
	p.Print()
	fmt.Fprintln(p.out)
}

// Summary describes the finished batch, counting only successful items as processed.
func (p *Progress) Summary() string {
	c, elapsed := p.snapshot()
	return fmt.Sprintf("Processed %d/%d %s (%d failed) in %s (%.1f %s/sec)",
		c.completed-c.failed, c.total, p.unit, c.failed, formatDuration(elapsed), rate(c.completed, elapsed), p.unit)
}

func (p *Progress) snapshot() (counts, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts, p.now().Sub(p.start)
}

// line renders the bar without the carriage return.
func (p *Progress) line() string {
	c, elapsed := p.snapshot()

	var frac float64
	if c.total > 0 {
		frac = min(1, float64(c.completed)/float64(c.total))
	}
	filled := int(frac * barWidth)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s%s] %d/%d %s",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled),
		c.completed, c.total, p.unit)

	if c.failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", c.failed)
	}

	r := rate(c.completed, elapsed)
	fmt.Fprintf(&b, " - %.1f %s/sec", r, p.unit)

	switch {
	case c.completed >= c.total:
		fmt.Fprintf(&b, " - Done in %s", formatDuration(elapsed))
	case r > 0:
		eta := time.Duration(float64(c.total-c.completed)/r) * time.Second
		fmt.Fprintf(&b, " - ETA: %s", formatDuration(eta))
	}

	return b.String()
}

func rate(completed int, elapsed time.Duration) float64 {
	if completed == 0 || elapsed <= 0 {
		return 0
	}
	return float64(completed) / elapsed.Seconds()
}

// formatDuration renders d as 42s, 3m7s or 2h5m.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
