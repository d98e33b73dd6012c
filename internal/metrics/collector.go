// Package metrics samples process resource usage while a pipeline runs and
// records per-stage timings.
package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sample is one resource usage reading
type Sample struct {
	SysCPUPercent  float64
	ProcCPUPercent float64 // can exceed 100 on multi-core machines
	ProcRSSMB      float64
	MemPercent     float64
	Goroutines     int
	Timestamp      time.Time
}

// Stage is the recorded cost of one pipeline stage
type Stage struct {
	Name     string
	Duration time.Duration
	RSSMB    float64 // resident set size when the stage finished
	PeakRSS  float64 // highest periodic sample seen while it ran
}

// Collector periodically samples resource usage and tracks stage timings
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	mu      sync.Mutex
	last    *Sample
	peakRSS float64
	stages  []Stage
}

// NewCollector creates a collector. Intervals under a second disable
// periodic sampling; stages are still recorded.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{interval: interval, logger: logger, proc: proc}
}

// Start samples every interval until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	if c.interval < time.Second {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.record(c.sample())
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			s := c.sample()
			c.record(s)
			c.logger.Info("Resource usage",
				zap.Float64("sys_cpu", round1(s.SysCPUPercent)),
				zap.Float64("proc_cpu", round1(s.ProcCPUPercent)),
				zap.String("rss", formatMB(s.ProcRSSMB)),
				zap.Float64("mem_pct", round1(s.MemPercent)),
				zap.Int("goroutines", s.Goroutines))
		}
	}
}

// Last returns the most recent periodic sample, or nil
func (c *Collector) Last() *Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Begin starts timing a stage. The returned func ends it.
func (c *Collector) Begin(name string) func() {
	start := time.Now()
	c.mu.Lock()
	c.peakRSS = 0
	c.mu.Unlock()

	return func() {
		s := c.sample()
		c.mu.Lock()
		peak := c.peakRSS
		if s.ProcRSSMB > peak {
			peak = s.ProcRSSMB
		}
		c.stages = append(c.stages, Stage{
			Name:     name,
			Duration: time.Since(start),
			RSSMB:    s.ProcRSSMB,
			PeakRSS:  peak,
		})
		c.mu.Unlock()
	}
}

// Stages returns the finished stages in order
func (c *Collector) Stages() []Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Stage, len(c.stages))
	copy(out, c.stages)
	return out
}

// LogSummary logs one line per finished stage
func (c *Collector) LogSummary() {
	for _, st := range c.Stages() {
		c.logger.Info("Stage finished",
			zap.String("stage", st.Name),
			zap.Duration("duration", st.Duration),
			zap.String("rss", formatMB(st.RSSMB)),
			zap.String("peak_rss", formatMB(st.PeakRSS)))
	}
}

func (c *Collector) record(s *Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = s
	if s.ProcRSSMB > c.peakRSS {
		c.peakRSS = s.ProcRSSMB
	}
}

// sample reads current usage. Unavailable readings are left at zero.
func (c *Collector) sample() *Sample {
	s := &Sample{Timestamp: time.Now(), Goroutines: runtime.NumGoroutine()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.SysCPUPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemPercent = vmem.UsedPercent
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcCPUPercent = pct
		}
		if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
			s.ProcRSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}
	return s
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}

func formatMB(mb float64) string {
	if mb >= 1024 {
		return fmt.Sprintf("%.1f GB", mb/1024)
	}
	return fmt.Sprintf("%.1f MB", mb)
}
