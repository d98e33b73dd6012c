package metrics

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestStagesRecordedInOrder(t *testing.T) {
	c := NewCollector(0, zap.NewNop())

	end := c.Begin("fetch")
	time.Sleep(2 * time.Millisecond)
	end()
	c.Begin("build")()

	stages := c.Stages()
	if len(stages) != 2 {
		t.Fatalf("got %d stages, want 2", len(stages))
	}
	if stages[0].Name != "fetch" || stages[1].Name != "build" {
		t.Errorf("unexpected order: %s, %s", stages[0].Name, stages[1].Name)
	}
	if stages[0].Duration < 2*time.Millisecond {
		t.Errorf("fetch duration %v too short", stages[0].Duration)
	}
	if stages[0].PeakRSS < stages[0].RSSMB {
		t.Errorf("peak %f below final %f", stages[0].PeakRSS, stages[0].RSSMB)
	}
	c.LogSummary()
}

func TestStartDisabledReturnsImmediately(t *testing.T) {
	c := NewCollector(100*time.Millisecond, zap.NewNop())
	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return when sampling is disabled")
	}
	if c.Last() != nil {
		t.Error("no sample expected")
	}
}

func TestStartSamplesUntilCancelled(t *testing.T) {
	c := NewCollector(time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.Last() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	s := c.Last()
	if s == nil {
		t.Fatal("expected an initial sample")
	}
	if s.Goroutines < 1 {
		t.Errorf("goroutines = %d", s.Goroutines)
	}
}

func TestFormatMB(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{12.34, "12.3 MB"},
		{2048, "2.0 GB"},
	}
	for _, tt := range tests {
		if got := formatMB(tt.in); got != tt.want {
			t.Errorf("formatMB(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
