package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPercentage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current, total, want int
	}{
		{0, 10, 0},
		{1, 10, 10},
		{3, 10, 30},
		{10, 10, 100},
		{1, 3, 33},
		{2, 3, 67},
		{5, 0, 0},
		{0, 0, 0},
	}

	for _, tt := range tests {
		got := Percentage(tt.current, tt.total)
		if got != tt.want {
			t.Errorf("Percentage(%d, %d) = %d, want %d", tt.current, tt.total, got, tt.want)
		}
		if got < 0 || got > 100 {
			t.Errorf("Percentage(%d, %d) = %d, outside [0,100]", tt.current, tt.total, got)
		}
	}
}

func TestNewProgressEvent(t *testing.T) {
	t.Parallel()

	ev := NewProgressEvent(3, 10, "photo.jpg")
	data, ok := ev.Data.(ProgressData)
	if !ok {
		t.Fatalf("unexpected data type %T", ev.Data)
	}
	if ev.Type != EventProgress {
		t.Errorf("type = %q, want progress", ev.Type)
	}
	if data.Percentage != 30 || data.Current != 3 || data.Total != 10 || data.File != "photo.jpg" {
		t.Errorf("unexpected payload: %+v", data)
	}
}

// The dashboard depends on the exact wire field names; a rename would
// break every deployed client.
func TestEventWireFieldNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  Event
		fields []string
	}{
		{
			name:   "status",
			event:  NewStatusEvent(StatusData{State: "idle", CPUCount: 8, Filter: true, Telemetry: true}),
			fields: []string{`"state"`, `"cpu_count"`, `"pillow"`, `"psutil"`},
		},
		{
			name: "cpu_stats",
			event: NewCPUStatsEvent(CPUStatsData{
				Cores: []int{10, 20}, Total: 15,
				RAMUsedGB: 4.2, RAMTotalGB: 16, RAMPercent: 26.3,
			}),
			fields: []string{`"cores"`, `"total"`, `"ram_used_gb"`, `"ram_total_gb"`, `"ram_percent"`},
		},
		{
			name:   "progress",
			event:  NewProgressEvent(1, 2, "a.png"),
			fields: []string{`"percentage"`, `"current"`, `"total"`, `"file"`},
		},
		{
			name: "result",
			event: NewResultEvent(ResultData{
				File: "a.png", Operations: []string{"blur"},
				SizeBeforeKB: 10, SizeAfterKB: 9, Time: 0.5, Worker: 2,
			}),
			fields: []string{`"file"`, `"operations"`, `"size_before_kb"`, `"size_after_kb"`, `"time"`, `"proceso"`},
		},
		{
			name:   "metrics",
			event:  NewMetricsEvent(MetricsData{Speedup: 2.5, Efficiency: 62.5, TotalTime: 4, Successful: 10, Total: 10}),
			fields: []string{`"speedup"`, `"efficiency"`, `"total_time"`, `"successful"`, `"total"`},
		},
		{
			name:   "log",
			event:  NewLogEvent(LevelWarning, "careful"),
			fields: []string{`"message"`, `"level"`, `"timestamp"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			raw, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			s := string(raw)
			if !strings.Contains(s, `"type":"`+tt.event.Type+`"`) {
				t.Errorf("missing type field in %s", s)
			}
			for _, f := range tt.fields {
				if !strings.Contains(s, f) {
					t.Errorf("missing field %s in %s", f, s)
				}
			}
		})
	}
}

func TestNewPongEventHasNoData(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(NewPongEvent())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != `{"type":"pong"}` {
		t.Errorf("pong frame = %s", raw)
	}
}
