// Package telemetry samples CPU and memory usage at a fixed cadence and
// broadcasts the measurements to all observers, independent of job state.
package telemetry

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"imagehub/internal/observability"
	"imagehub/internal/protocol"
	"imagehub/pkg/circuitbreaker"
)

// DefaultInterval is the recommended sampling cadence.
const DefaultInterval = time.Second

// Sample is one raw measurement from the backend.
type Sample struct {
	Cores      []float64 // percent per core
	Total      float64   // aggregate percent
	RAMUsedGB  float64
	RAMTotalGB float64
	RAMPercent float64
}

// Backend measures the system. The production backend is gopsutil; tests
// inject failing backends to exercise degradation.
type Backend interface {
	Sample() (Sample, error)
}

// Broadcaster publishes telemetry events to observers.
type Broadcaster interface {
	Broadcast(ev protocol.Event)
}

// Config holds sampler settings. Zero values use defaults.
type Config struct {
	Backend  Backend
	Interval time.Duration
	Metrics  *observability.Metrics // optional
}

// Sampler emits one cpu_stats event per interval. Backend failures trip a
// circuit breaker: the stream stops, unavailability is logged once and
// reflected in status snapshots, and sampling is retried after a cooldown.
// A sampler never takes the server down.
type Sampler struct {
	backend  Backend
	hub      Broadcaster
	metrics  *observability.Metrics
	interval time.Duration
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger

	available atomic.Bool
}

// New creates a sampler broadcasting through hub.
func New(hub Broadcaster, cfg Config) *Sampler {
	if cfg.Backend == nil {
		cfg.Backend = NewSystemBackend()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	s := &Sampler{
		backend:  cfg.Backend,
		hub:      hub,
		metrics:  cfg.Metrics,
		interval: cfg.Interval,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold: 3,
			Cooldown:  time.Minute,
		}),
		logger: slog.With("component", "telemetry"),
	}
	s.available.Store(true)
	return s
}

// Available reports whether the telemetry backend is currently usable.
// Read by status snapshots.
func (s *Sampler) Available() bool {
	return s.available.Load()
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	if !s.breaker.Allow() {
		return
	}

	sample, err := s.backend.Sample()
	if err != nil {
		s.breaker.RecordFailure()
		if s.metrics != nil {
			s.metrics.RecordTelemetrySample(ctx, false)
		}
		if s.breaker.State() == circuitbreaker.Open && s.available.CompareAndSwap(true, false) {
			// Reported once, not on every failed tick.
			s.logger.Warn("Telemetry backend unavailable, cpu_stats stream stopped", "error", err)
		}
		return
	}

	s.breaker.RecordSuccess()
	if s.available.CompareAndSwap(false, true) {
		s.logger.Info("Telemetry backend recovered")
	}
	if s.metrics != nil {
		s.metrics.RecordTelemetrySample(ctx, true)
	}

	s.hub.Broadcast(protocol.NewCPUStatsEvent(sampleData(sample)))
}

func sampleData(s Sample) protocol.CPUStatsData {
	cores := make([]int, len(s.Cores))
	for i, c := range s.Cores {
		cores[i] = int(math.Round(c))
	}
	return protocol.CPUStatsData{
		Cores:      cores,
		Total:      int(math.Round(s.Total)),
		RAMUsedGB:  round(s.RAMUsedGB, 2),
		RAMTotalGB: round(s.RAMTotalGB, 2),
		RAMPercent: round(s.RAMPercent, 1),
	}
}

func round(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}

// systemBackend measures via gopsutil.
type systemBackend struct{}

// NewSystemBackend returns the gopsutil-backed measurement source. The
// first cpu.Percent call primes the delta baseline and reports zeros, so
// construction performs one throwaway read.
func NewSystemBackend() Backend {
	cpu.Percent(0, true) //nolint:errcheck // priming read
	return systemBackend{}
}

const bytesPerGB = 1 << 30

func (systemBackend) Sample() (Sample, error) {
	cores, err := cpu.Percent(0, true)
	if err != nil {
		return Sample{}, err
	}
	total, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, err
	}

	sample := Sample{
		Cores:      cores,
		RAMUsedGB:  float64(vm.Used) / bytesPerGB,
		RAMTotalGB: float64(vm.Total) / bytesPerGB,
		RAMPercent: vm.UsedPercent,
	}
	if len(total) > 0 {
		sample.Total = total[0]
	}
	return sample, nil
}
