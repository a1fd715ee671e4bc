package deadletter

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryQueue keeps letters in process memory.
type MemoryQueue struct {
	mu      sync.RWMutex
	letters map[string]*Letter
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{letters: map[string]*Letter{}}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, letter *Letter) error {
	if letter == nil || letter.ID == "" {
		return errors.New("letter id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	clone := *letter
	q.letters[letter.ID] = &clone
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*Letter, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	letter, ok := q.letters[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *letter
	return &clone, nil
}

func (q *MemoryQueue) List(ctx context.Context, filter Filter) ([]*Letter, error) {
	q.mu.RLock()
	out := make([]*Letter, 0, len(q.letters))
	for _, letter := range q.letters {
		if filter.matches(letter) {
			clone := *letter
			out = append(out, &clone)
		}
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (q *MemoryQueue) Update(ctx context.Context, letter *Letter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.letters[letter.ID]; !ok {
		return ErrNotFound
	}
	clone := *letter
	q.letters[letter.ID] = &clone
	return nil
}

func (q *MemoryQueue) Close() error { return nil }
