package job

import (
	"math"
	"time"

	"imagehub/internal/protocol"
)

// MetricsSnapshot is computed exactly once, when a job reaches a terminal
// state (natural completion or stop).
type MetricsSnapshot struct {
	Speedup           float64
	EfficiencyPercent float64
	TotalTime         time.Duration
	Successful        int
	Total             int
}

// ComputeMetrics derives the final snapshot for a job. Speedup compares
// the serial time one worker would have needed (the sum of each successful
// item's own elapsed time) against measured wall-clock time; efficiency
// normalizes speedup by worker count. Failed items contribute nothing to
// the serial baseline. Total reports the originally discovered item count
// even when the job was stopped early.
func ComputeMetrics(j *Job, wallClock time.Duration) MetricsSnapshot {
	var serial time.Duration
	for _, r := range j.Results {
		serial += r.Elapsed
	}

	speedup := 1.0
	if wallClock > 0 {
		speedup = round(serial.Seconds()/wallClock.Seconds(), 2)
	}
	efficiency := 0.0
	if j.Workers > 0 {
		efficiency = round(speedup/float64(j.Workers)*100, 1)
	}

	return MetricsSnapshot{
		Speedup:           speedup,
		EfficiencyPercent: efficiency,
		TotalTime:         wallClock,
		Successful:        len(j.Results),
		Total:             j.TotalItems,
	}
}

// Data converts the snapshot to its wire representation.
func (m MetricsSnapshot) Data() protocol.MetricsData {
	return protocol.MetricsData{
		Speedup:    m.Speedup,
		Efficiency: m.EfficiencyPercent,
		TotalTime:  round(m.TotalTime.Seconds(), 2),
		Successful: m.Successful,
		Total:      m.Total,
	}
}

func round(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}
