// Package memory provides in-memory storage implementations, used when no
// external store is configured and throughout the tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage"
)

// BlobStore keeps blobs in a map. Locators are random UUIDs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (s *BlobStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	locator := uuid.New().String()
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.blobs[locator] = buf
	s.mu.Unlock()
	return locator, nil
}

func (s *BlobStore) Get(ctx context.Context, locator string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[locator]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *BlobStore) Delete(ctx context.Context, locator string) error {
	s.mu.Lock()
	delete(s.blobs, locator)
	s.mu.Unlock()
	return nil
}

// JobRepo keeps job records in a map, for single-process deployments.
type JobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*domain.Job)}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepo) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	job.Status = status
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return job.Clone(), nil
}
