package repository

import (
	"context"
	"sync"
	"time"

	"formsave/internal/answers/model"
)

// MemoryRepository keeps documents in process memory with the same
// compare-and-swap semantics as the SQL store.
type MemoryRepository struct {
	mu   sync.Mutex
	docs map[string]*model.Document
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*model.Document)}
}

func (r *MemoryRepository) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[doc.ID]; ok {
		return ErrAlreadyExists
	}
	r.docs[doc.ID] = copyDocument(doc)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (r *MemoryRepository) CompareAndSwap(_ context.Context, id string, expected int64, answers model.Answers, at time.Time) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if doc.Version != expected {
		return nil, &ConflictError{Expected: expected, Current: copyDocument(doc)}
	}

	doc.Answers = answers.Clone()
	doc.Version++
	doc.UpdatedAt = at
	return copyDocument(doc), nil
}

func copyDocument(doc *model.Document) *model.Document {
	out := *doc
	out.Answers = doc.Answers.Clone()
	return &out
}
