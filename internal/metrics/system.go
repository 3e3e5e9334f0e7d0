package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// SampleSystem periodically refreshes the process/host gauges (CPU,
// heap, goroutine count) until ctx is canceled. Call it in its own
// goroutine alongside the room-count sampler.
func (r *Registry) SampleSystem(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var smoothed float64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleOnce(&smoothed)
		}
	}
}

func (r *Registry) sampleOnce(smoothed *float64) {
	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		current := percents[0]
		if *smoothed == 0 {
			*smoothed = current
		} else {
			const alpha = 0.3
			*smoothed = alpha*current + (1-alpha)**smoothed
		}
		r.System.CPUPercent.Set(*smoothed)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r.System.HeapAllocMB.Set(float64(mem.HeapAlloc) / 1024 / 1024)
	r.System.Goroutines.Set(float64(runtime.NumGoroutine()))
}
