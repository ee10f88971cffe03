// Package api exposes the ingestion pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/feolivs/contabilidadepro-sub003/internal/batch"
	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
	"github.com/feolivs/contabilidadepro-sub003/internal/pipeline"
)

// maxUploadBytes bounds what the HTTP layer will read at all; per-document
// size policy is enforced by the classifier.
const maxUploadBytes = 64 << 20

// Handler handles document and batch HTTP requests. runCtx outlives any
// single request; batch runs started over HTTP are bound to it, not to
// the request context.
type Handler struct {
	runCtx    context.Context
	orch      *batch.Orchestrator
	extractor *pipeline.Extractor
	logger    *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(runCtx context.Context, orch *batch.Orchestrator, extractor *pipeline.Extractor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}
	return &Handler{runCtx: runCtx, orch: orch, extractor: extractor, logger: logger}
}

// EnqueueResponse is returned after a document upload.
type EnqueueResponse struct {
	JobID    string `json:"job_id"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`
}

// SubmitDocument handles POST /v1/documents (multipart form: file,
// container_id, type_hint, priority).
func (h *Handler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	priority := 0
	if p := r.FormValue("priority"); p != "" {
		priority, err = strconv.Atoi(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
	}

	id, err := h.orch.Enqueue(r.Context(), header.Filename, data,
		r.FormValue("container_id"), r.FormValue("type_hint"), priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("document enqueued", "job", id, "file", header.Filename, "size", len(data))
	writeJSON(w, http.StatusAccepted, EnqueueResponse{
		JobID:    id,
		FileName: header.Filename,
		Status:   string(domain.JobStatusWaiting),
	})
}

// StartBatch handles POST /v1/batch/start.
func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Start(h.runCtx); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.orch.State())})
}

// PauseBatch handles POST /v1/batch/pause.
func (h *Handler) PauseBatch(w http.ResponseWriter, r *http.Request) {
	h.orch.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.orch.State())})
}

// ResumeBatch handles POST /v1/batch/resume.
func (h *Handler) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Resume(h.runCtx); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.orch.State())})
}

// CancelBatch handles POST /v1/batch/cancel.
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	h.orch.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.orch.State())})
}

// BatchStats handles GET /v1/batch/stats.
func (h *Handler) BatchStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.Stats())
}

// jobView is the wire shape of a job record.
type jobView struct {
	ID          string      `json:"id"`
	FileName    string      `json:"file_name"`
	ContainerID string      `json:"container_id,omitempty"`
	TypeHint    string      `json:"type_hint,omitempty"`
	Priority    int         `json:"priority"`
	Status      string      `json:"status"`
	Progress    int         `json:"progress"`
	RetryCount  int         `json:"retry_count"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Error       *errorView  `json:"error,omitempty"`
	Result      *resultView `json:"result,omitempty"`
}

type errorView struct {
	Kind        string   `json:"kind"`
	Severity    string   `json:"severity"`
	Message     string   `json:"message"`
	CanRetry    bool     `json:"can_retry"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type resultView struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Provider   string  `json:"provider,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

func toJobView(j *domain.Job) jobView {
	v := jobView{
		ID:          j.ID,
		FileName:    j.FileName,
		ContainerID: j.ContainerID,
		TypeHint:    j.TypeHint,
		Priority:    j.Priority,
		Status:      string(j.Status),
		Progress:    j.Progress,
		RetryCount:  j.RetryCount,
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		v.StartedAt = &t
	}
	if !j.FinishedAt.IsZero() {
		t := j.FinishedAt
		v.FinishedAt = &t
	}
	if j.LastError != nil {
		v.Error = &errorView{
			Kind:        string(j.LastError.Kind),
			Severity:    j.LastError.Severity.String(),
			Message:     j.LastError.UserMessage,
			CanRetry:    j.LastError.CanRetry,
			Suggestions: j.LastError.Suggestions,
		}
	}
	if j.Result != nil {
		v.Result = &resultView{
			Text:       j.Result.Text,
			Confidence: j.Result.Confidence,
			Method:     string(j.Result.Method),
			Provider:   j.Result.Provider,
			DurationMS: j.Result.Duration.Milliseconds(),
		}
	}
	return v
}

// ListJobs handles GET /v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.orch.Jobs()
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobView(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetJob handles GET /v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := h.orch.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

// RemoveJob handles DELETE /v1/jobs/{id}.
func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.orch.RemoveJob(r.Context(), id); err != nil {
		writeOrchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryJob handles POST /v1/jobs/{id}/retry.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.orch.RetryJob(id); err != nil {
		writeOrchError(w, err)
		return
	}
	job, _ := h.orch.Job(id)
	writeJSON(w, http.StatusOK, toJobView(job))
}

// SetPriority handles PATCH /v1/jobs/{id}/priority.
func (h *Handler) SetPriority(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.orch.SetPriority(id, req.Priority); err != nil {
		writeOrchError(w, err)
		return
	}
	job, _ := h.orch.Job(id)
	writeJSON(w, http.StatusOK, toJobView(job))
}

// breakerView is the wire shape of a circuit breaker snapshot.
type breakerView struct {
	Name             string `json:"name"`
	State            string `json:"state"`
	TotalCalls       int64  `json:"total_calls"`
	Successes        int64  `json:"successes"`
	Failures         int64  `json:"failures"`
	WindowFailures   int    `json:"window_failures"`
	StateTransitions int64  `json:"state_transitions"`
	LastSuccessAt    string `json:"last_success_at,omitempty"`
	LastFailureAt    string `json:"last_failure_at,omitempty"`
}

// ListBreakers handles GET /v1/breakers.
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	out := []breakerView{}
	for _, b := range h.extractor.Breakers() {
		m := b.GetMetrics()
		v := breakerView{
			Name:             b.Name(),
			State:            m.State.String(),
			TotalCalls:       m.TotalCalls,
			Successes:        m.Successes,
			Failures:         m.Failures,
			WindowFailures:   m.WindowFailures,
			StateTransitions: m.StateTransitions,
		}
		if !m.LastSuccessAt.IsZero() {
			v.LastSuccessAt = m.LastSuccessAt.Format(time.RFC3339)
		}
		if !m.LastFailureAt.IsZero() {
			v.LastFailureAt = m.LastFailureAt.Format(time.RFC3339)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// ResetBreaker handles POST /v1/breakers/{name}/reset.
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	b, ok := h.extractor.Breaker(name)
	if !ok {
		writeError(w, http.StatusNotFound, "breaker not found")
		return
	}
	b.Reset()
	h.logger.Info("breaker reset via api", "breaker", name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "state": b.State().String()})
}

// OpenBreaker handles POST /v1/breakers/{name}/open. Forcing a breaker open
// takes a flaky provider out of the cascade until an operator resets it.
func (h *Handler) OpenBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	b, ok := h.extractor.Breaker(name)
	if !ok {
		writeError(w, http.StatusNotFound, "breaker not found")
		return
	}
	b.ForceOpen()
	h.logger.Info("breaker forced open via api", "breaker", name)
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "state": b.State().String()})
}

func writeOrchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrJobNotWaiting), errors.Is(err, batch.ErrJobNotFailed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
