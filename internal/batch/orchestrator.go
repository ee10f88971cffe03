// Package batch processes many document jobs with bounded concurrency,
// priority ordering and operator control (pause/resume/cancel/retry).
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/feolivs/contabilidadepro-sub003/internal/classify"
	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage"
	"github.com/feolivs/contabilidadepro-sub003/internal/metrics"
	"github.com/feolivs/contabilidadepro-sub003/internal/pipeline"
)

// RunState is the batch run lifecycle.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunPaused    RunState = "paused"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
)

var (
	ErrJobNotFound    = errors.New("batch: job not found")
	ErrJobNotWaiting  = errors.New("batch: job is not waiting")
	ErrJobNotFailed   = errors.New("batch: job is not in error state")
	ErrAlreadyRunning = errors.New("batch: already running")
)

// Config controls batch scheduling.
type Config struct {
	MaxConcurrent    int  `yaml:"max_concurrent"`
	PauseOnError     bool `yaml:"pause_on_error"`
	PriorityOrdering bool `yaml:"priority_ordering"`
	HistorySize      int  `yaml:"history_size"` // completed durations kept for stats
}

// DefaultConfig processes three documents at a time.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    3,
		PauseOnError:     false,
		PriorityOrdering: true,
		HistorySize:      50,
	}
}

// Orchestrator owns the job queue and drives pipeline invocations on a
// bounded worker pool. Jobs are dispatched in sequential groups of at
// most MaxConcurrent; a group fully drains before the next one starts.
type Orchestrator struct {
	cfg        Config
	pool       *ants.Pool
	extractor  *pipeline.Extractor
	blobs      storage.BlobStore
	repo       storage.JobRepository
	classifier *classify.Classifier
	logger     *slog.Logger

	mu        sync.Mutex
	jobs      map[string]*domain.Job
	order     []string          // insertion order, for stable listing
	staged    map[string][]byte // bytes not yet uploaded, by job id
	state     RunState
	loopAlive bool
	startedAt time.Time
	completed int             // completions since the current run started
	history   []time.Duration // ring buffer of completed-job durations
	histNext  int
	histFull  bool
}

// New creates an orchestrator. The repo may be a storage.NopJobRepository;
// persistence is observability only.
func New(cfg Config, extractor *pipeline.Extractor, blobs storage.BlobStore, repo storage.JobRepository, logger *slog.Logger) (*Orchestrator, error) {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if logger == nil {
		logger = slog.Default().With("component", "batch")
	}
	if repo == nil {
		repo = storage.NopJobRepository{}
	}

	pool, err := ants.NewPool(cfg.MaxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Orchestrator{
		cfg:        cfg,
		pool:       pool,
		extractor:  extractor,
		blobs:      blobs,
		repo:       repo,
		classifier: classify.New(classify.DefaultConfig()),
		logger:     logger,
		jobs:       make(map[string]*domain.Job),
		staged:     make(map[string][]byte),
		history:    make([]time.Duration, cfg.HistorySize),
		state:      RunIdle,
	}, nil
}

// Release frees the worker pool. The orchestrator must not be used after.
func (o *Orchestrator) Release() {
	o.pool.Release()
}

// Enqueue registers a document for processing and returns its job id.
// Bytes stay staged in memory until the job's uploading phase.
func (o *Orchestrator) Enqueue(ctx context.Context, fileName string, data []byte, containerID, typeHint string, priority int) (string, error) {
	if len(fileName) == 0 {
		return "", fmt.Errorf("batch: file name required")
	}

	job := &domain.Job{
		ID:          uuid.New().String(),
		FileName:    fileName,
		ContainerID: containerID,
		TypeHint:    typeHint,
		Priority:    priority,
		Status:      domain.JobStatusWaiting,
	}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.order = append(o.order, job.ID)
	buf := make([]byte, len(data))
	copy(buf, data)
	o.staged[job.ID] = buf
	o.mu.Unlock()

	if err := o.repo.Create(ctx, job); err != nil {
		o.logger.Warn("failed to persist job record", "job", job.ID, "error", err)
	}
	o.publishGauges()
	return job.ID, nil
}

// Start begins (or resumes) processing of all waiting jobs. It returns
// immediately; the dispatch loop runs on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.loopAlive {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	if o.state != RunPaused {
		o.startedAt = time.Now()
		o.completed = 0
	}
	o.state = RunRunning
	o.loopAlive = true
	o.mu.Unlock()

	go o.run(ctx)
	return nil
}

// Pause stops dispatching new groups. The in-flight group drains and its
// results are still recorded.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	if o.state == RunRunning {
		o.state = RunPaused
	}
	o.mu.Unlock()
	o.logger.Info("batch paused")
}

// Resume continues a paused batch.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.state != RunPaused {
		o.mu.Unlock()
		return fmt.Errorf("batch: not paused (state %s)", o.state)
	}
	o.mu.Unlock()
	return o.Start(ctx)
}

// Cancel stops the run. In-flight jobs are marked paused and their
// results discarded once the provider call drains; no new groups start.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.state = RunCancelled
	for _, job := range o.jobs {
		if job.Status.IsActive() {
			job.Status = domain.JobStatusPaused
		}
	}
	o.mu.Unlock()
	o.publishGauges()
	o.logger.Info("batch cancelled")
}

// CancelProcessing forces every active job to paused without touching the
// run state. In-flight provider calls drain; their results are discarded.
func (o *Orchestrator) CancelProcessing() {
	o.mu.Lock()
	for _, job := range o.jobs {
		if job.Status.IsActive() {
			job.Status = domain.JobStatusPaused
		}
	}
	o.mu.Unlock()
	o.publishGauges()
}

// RetryJob resets an error (or paused) job back to waiting with its retry
// count incremented and its error cleared. It becomes eligible for the
// next Start.
func (o *Orchestrator) RetryJob(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != domain.JobStatusError && job.Status != domain.JobStatusPaused {
		return ErrJobNotFailed
	}
	job.Status = domain.JobStatusWaiting
	job.RetryCount++
	job.LastError = nil
	job.Progress = 0
	return nil
}

// RemoveJob removes a waiting job from the queue.
func (o *Orchestrator) RemoveJob(ctx context.Context, id string) error {
	o.mu.Lock()
	job, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != domain.JobStatusWaiting {
		o.mu.Unlock()
		return ErrJobNotWaiting
	}
	locator := job.Locator
	delete(o.jobs, id)
	delete(o.staged, id)
	for i, jid := range o.order {
		if jid == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	if locator != "" {
		if err := o.blobs.Delete(ctx, locator); err != nil {
			o.logger.Warn("failed to delete blob", "job", id, "error", err)
		}
	}
	o.publishGauges()
	return nil
}

// SetPriority adjusts a waiting job's priority.
func (o *Orchestrator) SetPriority(id string, priority int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != domain.JobStatusWaiting {
		return ErrJobNotWaiting
	}
	job.Priority = priority
	return nil
}

// Job returns a copy of the job record.
func (o *Orchestrator) Job(id string) (*domain.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Jobs returns copies of all job records in insertion order.
func (o *Orchestrator) Jobs() []*domain.Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.Job, 0, len(o.order))
	for _, id := range o.order {
		if job, ok := o.jobs[id]; ok {
			out = append(out, job.Clone())
		}
	}
	return out
}

// State returns the current run state.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// run dispatches sequential groups until no waiting jobs remain or the
// run is paused/cancelled. Jobs in group N+1 never start before every job
// in group N has resolved.
func (o *Orchestrator) run(ctx context.Context) {
	defer func() {
		o.mu.Lock()
		o.loopAlive = false
		if o.state == RunRunning {
			o.state = RunCompleted
		}
		o.mu.Unlock()
		o.publishGauges()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		group := o.nextGroup()
		if len(group) == 0 {
			return
		}

		var wg sync.WaitGroup
		for _, id := range group {
			id := id
			wg.Add(1)
			if err := o.pool.Submit(func() {
				defer wg.Done()
				o.processJob(ctx, id)
			}); err != nil {
				wg.Done()
				o.failJob(ctx, id, o.classifierError(fmt.Errorf("submit to pool: %w", err)))
			}
		}
		wg.Wait()

		o.mu.Lock()
		stopped := o.state != RunRunning
		o.mu.Unlock()
		if stopped {
			return
		}
	}
}

// nextGroup selects up to MaxConcurrent waiting jobs, lowest priority
// value first when priority ordering is enabled.
func (o *Orchestrator) nextGroup() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != RunRunning {
		return nil
	}

	var waiting []*domain.Job
	for _, id := range o.order {
		if job := o.jobs[id]; job != nil && job.Status == domain.JobStatusWaiting {
			waiting = append(waiting, job)
		}
	}
	if o.cfg.PriorityOrdering {
		sort.SliceStable(waiting, func(i, j int) bool {
			return waiting[i].Priority < waiting[j].Priority
		})
	}

	n := o.cfg.MaxConcurrent
	if n > len(waiting) {
		n = len(waiting)
	}
	group := make([]string, 0, n)
	for _, job := range waiting[:n] {
		group = append(group, job.ID)
	}
	return group
}

// processJob drives one job through upload and extraction. The job record
// is mutated only here and by the operator methods, never by another job.
func (o *Orchestrator) processJob(ctx context.Context, id string) {
	o.mu.Lock()
	job, ok := o.jobs[id]
	if !ok || job.Status != domain.JobStatusWaiting {
		o.mu.Unlock()
		return
	}
	job.Status = domain.JobStatusUploading
	job.Progress = 10
	job.StartedAt = time.Now()
	fileName := job.FileName
	locator := job.Locator
	staged := o.staged[id]
	o.mu.Unlock()
	o.publishGauges()
	o.persistStatus(ctx, id, domain.JobStatusUploading, "")

	data, docErr := o.materialize(ctx, id, fileName, locator, staged)
	if docErr != nil {
		o.failJob(ctx, id, docErr)
		return
	}

	o.setProcessing(ctx, id)

	result, err := o.extractor.Extract(ctx, pipeline.Document{Name: fileName, Data: data})

	o.mu.Lock()
	job, ok = o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	if job.Status == domain.JobStatusPaused {
		// Forced out while the call was in flight; drop the result.
		o.mu.Unlock()
		o.logger.Info("job cancelled mid-flight, result discarded", "job", id)
		return
	}

	if err != nil {
		var de *domain.DocumentError
		if !errors.As(err, &de) {
			de = o.classifierError(err)
		}
		job.Status = domain.JobStatusError
		job.LastError = de
		job.FinishedAt = time.Now()
		pauseBatch := o.cfg.PauseOnError
		if pauseBatch && o.state == RunRunning {
			o.state = RunPaused
		}
		o.mu.Unlock()

		o.publishGauges()
		o.persistStatus(ctx, id, domain.JobStatusError, de.UserMessage)
		o.logger.Warn("job failed", "job", id, "file", fileName,
			"kind", de.Kind, "severity", de.Severity.String())
		if pauseBatch {
			o.logger.Info("pausing batch after job failure", "job", id)
		}
		return
	}

	job.Status = domain.JobStatusSuccess
	job.Progress = 100
	job.Result = &result
	job.FinishedAt = time.Now()
	duration := job.FinishedAt.Sub(job.StartedAt)
	o.completed++
	o.history[o.histNext] = duration
	o.histNext = (o.histNext + 1) % len(o.history)
	if o.histNext == 0 {
		o.histFull = true
	}
	o.mu.Unlock()

	o.publishGauges()
	o.persistStatus(ctx, id, domain.JobStatusSuccess, "")
	o.logger.Info("job completed", "job", id, "file", fileName,
		"method", result.Method, "confidence", result.Confidence,
		"duration", duration)
}

// materialize uploads staged bytes (first run) or fetches them back from
// the blob store (retries).
func (o *Orchestrator) materialize(ctx context.Context, id, fileName, locator string, staged []byte) ([]byte, *domain.DocumentError) {
	if locator == "" {
		loc, err := o.blobs.Put(ctx, staged, "application/octet-stream")
		if err != nil {
			return nil, o.classifyUpload(err, fileName, int64(len(staged)))
		}
		o.mu.Lock()
		if job, ok := o.jobs[id]; ok {
			job.Locator = loc
		}
		delete(o.staged, id)
		o.mu.Unlock()
		return staged, nil
	}

	data, err := o.blobs.Get(ctx, locator)
	if err != nil {
		return nil, o.classifyUpload(err, fileName, 0)
	}
	return data, nil
}

func (o *Orchestrator) setProcessing(ctx context.Context, id string) {
	o.mu.Lock()
	if job, ok := o.jobs[id]; ok && job.Status == domain.JobStatusUploading {
		job.Status = domain.JobStatusProcessing
		job.Progress = 30
	}
	o.mu.Unlock()
	o.publishGauges()
	o.persistStatus(ctx, id, domain.JobStatusProcessing, "")
}

func (o *Orchestrator) failJob(ctx context.Context, id string, de *domain.DocumentError) {
	o.mu.Lock()
	job, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	if job.Status == domain.JobStatusPaused {
		// Forced out while the upload was in flight; drop the failure.
		o.mu.Unlock()
		o.logger.Info("job cancelled mid-flight, failure discarded", "job", id)
		return
	}
	job.Status = domain.JobStatusError
	job.LastError = de
	job.FinishedAt = time.Now()
	pauseBatch := o.cfg.PauseOnError
	if pauseBatch && o.state == RunRunning {
		o.state = RunPaused
	}
	o.mu.Unlock()

	o.publishGauges()
	o.persistStatus(ctx, id, domain.JobStatusError, de.UserMessage)
}

func (o *Orchestrator) persistStatus(ctx context.Context, id string, status domain.JobStatus, note string) {
	if err := o.repo.UpdateStatus(ctx, id, status, note); err != nil && !errors.Is(err, storage.ErrNotFound) {
		o.logger.Warn("failed to persist status", "job", id, "status", status, "error", err)
	}
}

func (o *Orchestrator) publishGauges() {
	o.mu.Lock()
	counts := make(map[domain.JobStatus]int)
	for _, job := range o.jobs {
		counts[job.Status]++
	}
	o.mu.Unlock()

	for _, s := range []domain.JobStatus{
		domain.JobStatusWaiting, domain.JobStatusUploading, domain.JobStatusProcessing,
		domain.JobStatusSuccess, domain.JobStatusError, domain.JobStatusPaused,
	} {
		metrics.BatchJobs.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func (o *Orchestrator) classifierError(err error) *domain.DocumentError {
	return o.classifier.Classify(err, classify.Context{Operation: "batch"})
}

func (o *Orchestrator) classifyUpload(err error, fileName string, size int64) *domain.DocumentError {
	return o.classifier.Classify(err, classify.Context{
		FileName:  fileName,
		FileSize:  size,
		Operation: "upload",
	})
}
