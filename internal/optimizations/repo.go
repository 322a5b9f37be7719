package optimizations

import (
	"context"
	"time"
)

// Repo defines persistence operations for optimizations.
type Repo interface {
	Create(ctx context.Context, opt Optimization) error
	GetByID(ctx context.Context, optimizationID string) (Optimization, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Optimization, error)
	SetProcessing(ctx context.Context, optimizationID string, startedAt time.Time) error
	Complete(ctx context.Context, optimizationID string, outcome Outcome, completedAt time.Time) error
	Fail(ctx context.Context, optimizationID, code, message string, completedAt time.Time) error
	AppendIterations(ctx context.Context, optimizationID string, entries []IterationRecord) error
	ListIterations(ctx context.Context, optimizationID string) ([]IterationRecord, error)
}
