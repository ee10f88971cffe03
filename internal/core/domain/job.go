package domain

import "time"

// JobStatus tracks a document's position in the batch lifecycle.
type JobStatus string

const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusError      JobStatus = "error"
	JobStatusPaused     JobStatus = "paused"
)

// IsActive reports whether the job currently occupies a concurrency slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusUploading || s == JobStatusProcessing
}

// IsTerminal reports whether the job has finished this batch run.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusWaiting, JobStatusUploading, JobStatusProcessing,
		JobStatusSuccess, JobStatusError, JobStatusPaused:
		return true
	}
	return false
}

// Job represents one document's journey through the extraction pipeline.
// A job is owned by the orchestrator; only the orchestrator and the single
// pipeline invocation it drives ever mutate it.
type Job struct {
	ID          string
	FileName    string
	Locator     string // blob store locator for the uploaded bytes
	ContainerID string // target container (company/ledger) for the document
	TypeHint    string // optional document type hint, e.g. "nfe", "receipt"
	Priority    int    // lower is dispatched sooner
	Status      JobStatus
	Progress    int // 0-100, non-decreasing while active
	RetryCount  int
	StartedAt   time.Time
	FinishedAt  time.Time
	LastError   *DocumentError
	Result      *ExtractionResult
}

// Clone returns a shallow copy safe to hand outside the orchestrator.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
