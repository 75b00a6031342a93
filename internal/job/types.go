package job

import (
	"time"

	"imagehub/internal/protocol"
)

// State is the lifecycle phase of the single in-flight job.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// ResultRecord is one successfully processed image, appended in completion
// order. Failed items consume progress but produce no record.
type ResultRecord struct {
	File         string
	Operations   []string
	SizeBeforeKB float64
	SizeAfterKB  float64
	Elapsed      time.Duration
	Worker       int
}

// Job is one batch run with a fixed operation list and worker count.
// At most one Job exists at a time; the controller owns all mutation.
type Job struct {
	ID         string
	Operations []protocol.Operation
	Workers    int
	TotalItems int
	Completed  int
	StartedAt  time.Time
	Results    []ResultRecord
}
