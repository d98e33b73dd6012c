package sink

import (
	"fmt"
	"time"
)

// progressInterval is the minimum time between progress log lines
var progressInterval = 5 * time.Second

// Progress describes how far a chunked write has come
type Progress struct {
	Done       int
	Total      int
	Percentage float64
	Elapsed    time.Duration
	ETA        time.Duration
	Throughput float64 // records per second
}

// progressTracker measures throughput of one chunked write
type progressTracker struct {
	total   int
	start   time.Time
	lastLog time.Time
}

func newProgressTracker(total int) *progressTracker {
	now := time.Now()
	return &progressTracker{total: total, start: now, lastLog: now}
}

// due reports whether another progress line should be logged
func (p *progressTracker) due(now time.Time) bool {
	if now.Sub(p.lastLog) < progressInterval {
		return false
	}
	p.lastLog = now
	return true
}

// calculate returns progress after done records at time now
func (p *progressTracker) calculate(done int, now time.Time) Progress {
	elapsed := now.Sub(p.start)
	pr := Progress{Done: done, Total: p.total, Elapsed: elapsed.Round(time.Second)}

	if elapsed.Seconds() > 0 {
		pr.Throughput = float64(done) / elapsed.Seconds()
	}
	if p.total > 0 {
		pr.Percentage = float64(done) / float64(p.total) * 100
		if done > 0 && done < p.total && pr.Throughput > 0 {
			remaining := float64(p.total-done) / pr.Throughput
			pr.ETA = (time.Duration(remaining * float64(time.Second))).Round(time.Second)
		}
	}
	return pr
}

// FormatETA formats a remaining duration for logs
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats records per second
func FormatThroughput(perSec float64) string {
	if perSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", perSec/1_000_000)
	}
	if perSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", perSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", perSec)
}
