package batch

import (
	"time"

	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
)

// Stats is a point-in-time snapshot of the batch run.
type Stats struct {
	State         RunState      `json:"state"`
	Total         int           `json:"total"`
	Waiting       int           `json:"waiting"`
	Active        int           `json:"active"` // uploading + processing
	Success       int           `json:"success"`
	Errors        int           `json:"errors"`
	Paused        int           `json:"paused"`
	AvgDuration   time.Duration `json:"avg_duration"`
	EstimatedWait time.Duration `json:"estimated_wait"` // for the waiting backlog
	Throughput    float64       `json:"throughput_per_min"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Stats computes queue counts and timing estimates. The estimate assumes
// the backlog drains in groups of MaxConcurrent at the observed average
// job duration; with no completions yet it stays zero.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{State: o.state, Total: len(o.jobs)}
	for _, job := range o.jobs {
		switch job.Status {
		case domain.JobStatusWaiting:
			s.Waiting++
		case domain.JobStatusUploading, domain.JobStatusProcessing:
			s.Active++
		case domain.JobStatusSuccess:
			s.Success++
		case domain.JobStatusError:
			s.Errors++
		case domain.JobStatusPaused:
			s.Paused++
		}
	}

	n := o.histNext
	if o.histFull {
		n = len(o.history)
	}
	if n > 0 {
		var sum time.Duration
		for _, d := range o.history[:n] {
			sum += d
		}
		s.AvgDuration = sum / time.Duration(n)

		groups := (s.Waiting + o.cfg.MaxConcurrent - 1) / o.cfg.MaxConcurrent
		s.EstimatedWait = s.AvgDuration * time.Duration(groups)
	}

	if !o.startedAt.IsZero() {
		s.Elapsed = time.Since(o.startedAt)
		if mins := s.Elapsed.Minutes(); mins > 0 && o.completed > 0 {
			s.Throughput = float64(o.completed) / mins
		}
	}
	return s
}
