package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage"
)

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

// Create inserts a new job record.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO ingestion_jobs (id, file_name, locator, container_id, type_hint, priority, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`
	status := string(job.Status)
	if status == "" {
		status = string(domain.JobStatusWaiting)
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.FileName,
		job.Locator,
		job.ContainerID,
		job.TypeHint,
		job.Priority,
		status,
		job.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateStatus records a status transition with an optional note
// (typically the user-facing error message).
func (r *JobRepo) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, note string) error {
	query := `
		UPDATE ingestion_jobs
		SET status = $2, note = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), note)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get returns a job record by id.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `
		SELECT id, file_name, locator, container_id, type_hint, priority, status, retry_count, created_at
		FROM ingestion_jobs
		WHERE id = $1
	`

	var dest struct {
		ID          string    `db:"id"`
		FileName    string    `db:"file_name"`
		Locator     string    `db:"locator"`
		ContainerID string    `db:"container_id"`
		TypeHint    string    `db:"type_hint"`
		Priority    int       `db:"priority"`
		Status      string    `db:"status"`
		RetryCount  int       `db:"retry_count"`
		CreatedAt   time.Time `db:"created_at"`
	}

	err := r.db.GetContext(ctx, &dest, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &domain.Job{
		ID:          dest.ID,
		FileName:    dest.FileName,
		Locator:     dest.Locator,
		ContainerID: dest.ContainerID,
		TypeHint:    dest.TypeHint,
		Priority:    dest.Priority,
		Status:      domain.JobStatus(dest.Status),
		RetryCount:  dest.RetryCount,
	}, nil
}
