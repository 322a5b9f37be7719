package optimizations

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores optimizations in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu         sync.RWMutex
	byID       map[string]Optimization
	byUser     map[string][]string
	iterations map[string][]IterationRecord
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:       make(map[string]Optimization),
		byUser:     make(map[string][]string),
		iterations: make(map[string][]IterationRecord),
	}
}

// Create stores the optimization.
func (r *MemoryRepo) Create(ctx context.Context, opt Optimization) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[opt.ID] = opt
	r.byUser[opt.UserID] = append(r.byUser[opt.UserID], opt.ID)
	return nil
}

// GetByID returns an optimization by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, optimizationID string) (Optimization, error) {
	if err := ctx.Err(); err != nil {
		return Optimization{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	opt, ok := r.byID[optimizationID]
	if !ok {
		return Optimization{}, ErrNotFound
	}
	return opt, nil
}

// ListByUser returns optimizations for a user, newest first.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Optimization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}

	r.mu.RLock()
	ids := r.byUser[userID]
	items := make([]Optimization, 0, len(ids))
	for _, id := range ids {
		items = append(items, r.byID[id])
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if offset >= len(items) {
		return []Optimization{}, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]Optimization, end-offset)
	copy(out, items[offset:end])
	return out, nil
}

// SetProcessing moves the optimization into the processing state.
func (r *MemoryRepo) SetProcessing(ctx context.Context, optimizationID string, startedAt time.Time) error {
	return r.update(ctx, optimizationID, func(opt *Optimization) {
		opt.Status = StatusProcessing
		opt.StartedAt = &startedAt
	})
}

// Complete stores the terminal outcome.
func (r *MemoryRepo) Complete(ctx context.Context, optimizationID string, outcome Outcome, completedAt time.Time) error {
	return r.update(ctx, optimizationID, func(opt *Optimization) {
		opt.Status = StatusCompleted
		opt.Accepted = outcome.Accepted
		opt.Forced = outcome.Forced
		opt.Iterations = outcome.Iterations
		opt.Bullets = append([]string(nil), outcome.Bullets...)
		opt.Grades = append([]string(nil), outcome.Grades...)
		opt.Feedback = append([]string(nil), outcome.Feedback...)
		opt.ErrorCode = nil
		opt.ErrorMessage = nil
		opt.CompletedAt = &completedAt
	})
}

// Fail marks the optimization failed with a classified error.
func (r *MemoryRepo) Fail(ctx context.Context, optimizationID, code, message string, completedAt time.Time) error {
	return r.update(ctx, optimizationID, func(opt *Optimization) {
		opt.Status = StatusFailed
		opt.ErrorCode = &code
		opt.ErrorMessage = &message
		opt.CompletedAt = &completedAt
	})
}

// AppendIterations stores cycle snapshots for an optimization. Matching the
// Postgres repo, an iteration number already on record is left as is.
func (r *MemoryRepo) AppendIterations(ctx context.Context, optimizationID string, entries []IterationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[optimizationID]; !ok {
		return ErrNotFound
	}
	seen := make(map[int]bool, len(r.iterations[optimizationID]))
	for _, existing := range r.iterations[optimizationID] {
		seen[existing.Iteration] = true
	}
	for _, entry := range entries {
		if seen[entry.Iteration] {
			continue
		}
		r.iterations[optimizationID] = append(r.iterations[optimizationID], entry)
		seen[entry.Iteration] = true
	}
	return nil
}

// ListIterations returns stored cycle snapshots in iteration order.
func (r *MemoryRepo) ListIterations(ctx context.Context, optimizationID string) ([]IterationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byID[optimizationID]; !ok {
		return nil, ErrNotFound
	}
	entries := r.iterations[optimizationID]
	out := make([]IterationRecord, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out, nil
}

func (r *MemoryRepo) update(ctx context.Context, optimizationID string, apply func(*Optimization)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	opt, ok := r.byID[optimizationID]
	if !ok {
		return ErrNotFound
	}
	apply(&opt)
	opt.UpdatedAt = time.Now().UTC()
	r.byID[optimizationID] = opt
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
