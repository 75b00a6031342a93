package protocol

import (
	"math"
	"time"
)

// Outbound event types.
const (
	EventStatus   = "status"
	EventCPUStats = "cpu_stats"
	EventProgress = "progress"
	EventResult   = "result"
	EventMetrics  = "metrics"
	EventLog      = "log"
	EventPong     = "pong"
)

// Log levels carried by log events.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is one outbound frame. Every server-side state change produces one
// immutable Event pushed through the hub's broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// StatusData is the status snapshot sent on every state transition and in
// reply to get_status. The pillow/psutil field names are wire-compat: they
// report filter-engine and telemetry availability.
type StatusData struct {
	State     string `json:"state"`
	CPUCount  int    `json:"cpu_count"`
	Filter    bool   `json:"pillow"`
	Telemetry bool   `json:"psutil"`
}

// CPUStatsData is one telemetry sample.
type CPUStatsData struct {
	Cores      []int   `json:"cores"`
	Total      int     `json:"total"`
	RAMUsedGB  float64 `json:"ram_used_gb"`
	RAMTotalGB float64 `json:"ram_total_gb"`
	RAMPercent float64 `json:"ram_percent"`
}

// ProgressData reports one unit of job progress.
type ProgressData struct {
	Percentage int    `json:"percentage"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	File       string `json:"file"`
}

// ResultData reports one successfully processed image.
type ResultData struct {
	File         string   `json:"file"`
	Operations   []string `json:"operations"`
	SizeBeforeKB float64  `json:"size_before_kb"`
	SizeAfterKB  float64  `json:"size_after_kb"`
	Time         float64  `json:"time"`
	Worker       int      `json:"proceso"`
}

// MetricsData is the final snapshot of a finished or stopped job.
type MetricsData struct {
	Speedup    float64 `json:"speedup"`
	Efficiency float64 `json:"efficiency"`
	TotalTime  float64 `json:"total_time"`
	Successful int     `json:"successful"`
	Total      int     `json:"total"`
}

// LogData is a human-readable log line for the dashboard console.
type LogData struct {
	Message   string `json:"message"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// NewStatusEvent wraps a status snapshot.
func NewStatusEvent(data StatusData) Event {
	return Event{Type: EventStatus, Data: data}
}

// NewCPUStatsEvent wraps a telemetry sample.
func NewCPUStatsEvent(data CPUStatsData) Event {
	return Event{Type: EventCPUStats, Data: data}
}

// NewProgressEvent builds a progress event with a rounded percentage.
func NewProgressEvent(current, total int, file string) Event {
	return Event{Type: EventProgress, Data: ProgressData{
		Percentage: Percentage(current, total),
		Current:    current,
		Total:      total,
		File:       file,
	}}
}

// NewResultEvent wraps one item result.
func NewResultEvent(data ResultData) Event {
	return Event{Type: EventResult, Data: data}
}

// NewMetricsEvent wraps a final metrics snapshot.
func NewMetricsEvent(data MetricsData) Event {
	return Event{Type: EventMetrics, Data: data}
}

// NewLogEvent builds a log event stamped with the current wall-clock time.
func NewLogEvent(level, message string) Event {
	return Event{Type: EventLog, Data: LogData{
		Message:   message,
		Level:     level,
		Timestamp: time.Now().Format("15:04:05"),
	}}
}

// NewPongEvent is the keep-alive reply.
func NewPongEvent() Event {
	return Event{Type: EventPong}
}

// Percentage computes round(100*current/total), 0 when total is zero.
func Percentage(current, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(current) / float64(total)))
}
