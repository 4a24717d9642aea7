package db

import (
	"bitwise74/clip-ingest/model"
	"context"
	"sync"
)

// MemoryVideoRepository keeps records in a map. Used by tests and the
// "memory" driver for local development
type MemoryVideoRepository struct {
	mu     sync.RWMutex
	videos map[string]model.Video
}

func NewMemoryVideoRepository() *MemoryVideoRepository {
	return &MemoryVideoRepository{
		videos: make(map[string]model.Video),
	}
}

func (r *MemoryVideoRepository) Create(_ context.Context, v *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.videos[v.ID]; ok {
		return ErrDuplicate
	}

	r.videos[v.ID] = *v
	return nil
}

func (r *MemoryVideoRepository) Get(_ context.Context, id string) (*model.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.videos[id]
	if !ok {
		return nil, ErrNotFound
	}

	return &v, nil
}

func (r *MemoryVideoRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.videos[id]
	return ok, nil
}

// Len returns the amount of stored records
func (r *MemoryVideoRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.videos)
}
