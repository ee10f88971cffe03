// Package storage defines the persistence contracts consumed by the
// ingestion core. The core must function with the job repository as a
// no-op; persistence is observability, not control flow.
package storage

import (
	"context"
	"errors"

	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
)

// ErrNotFound is returned when a locator or job id does not exist.
var ErrNotFound = errors.New("storage: not found")

// BlobStore holds uploaded document bytes, addressed by opaque locator.
type BlobStore interface {
	// Put stores data and returns its locator.
	Put(ctx context.Context, data []byte, contentType string) (string, error)

	// Get returns the bytes for a locator, or ErrNotFound.
	Get(ctx context.Context, locator string) ([]byte, error)

	// Delete removes the blob. Deleting a missing locator is not an error.
	Delete(ctx context.Context, locator string) error
}

// JobRepository persists job records and their status transitions so
// operators can observe the pipeline from outside the process.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, note string) error
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// NopJobRepository satisfies JobRepository without persisting anything.
type NopJobRepository struct{}

func (NopJobRepository) Create(ctx context.Context, job *domain.Job) error {
	return nil
}

func (NopJobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, note string) error {
	return nil
}

func (NopJobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	return nil, ErrNotFound
}
