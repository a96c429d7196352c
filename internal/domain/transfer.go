package domain

import "time"

// Outcome is the result of draining one object.
type Outcome string

const (
	OutcomeRemoved        Outcome = "downloaded-and-removed"
	OutcomeNotRemoved     Outcome = "downloaded-not-removed"
	OutcomeDownloadFailed Outcome = "download-failed"
)

type LoopState string

const (
	LoopStateIdle    LoopState = "idle"
	LoopStateRunning LoopState = "running"
	LoopStateStopped LoopState = "stopped"
)

// CycleReport summarises one listing + transfer pass.
type CycleReport struct {
	Cycle          int64         `json:"cycle"`
	Found          int           `json:"found"`
	Processed      int           `json:"processed"`
	NotRemoved     int           `json:"not_removed"`
	DownloadFailed int           `json:"download_failed"`
	Bytes          int64         `json:"bytes"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// Record adds a single object outcome to the report.
func (r *CycleReport) Record(outcome Outcome, bytes int64) {
	switch outcome {
	case OutcomeRemoved:
		r.Processed++
		r.Bytes += bytes
	case OutcomeNotRemoved:
		r.NotRemoved++
		r.Bytes += bytes
	case OutcomeDownloadFailed:
		r.DownloadFailed++
	}
}

// Stats is a point-in-time view of the poll loop.
type Stats struct {
	RunID          string       `json:"run_id"`
	State          LoopState    `json:"state"`
	Volume         string       `json:"volume"`
	RemotePrefix   string       `json:"remote_prefix"`
	LocalRoot      string       `json:"local_root"`
	Cycles         int64        `json:"cycles"`
	TotalProcessed int64        `json:"total_processed"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	LastCycle      *CycleReport `json:"last_cycle,omitempty"`
}
