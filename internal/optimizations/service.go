package optimizations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/extract"
	"optimizer-backend/internal/llm"
	"optimizer-backend/internal/llm/openai"
	"optimizer-backend/internal/queue"
	"optimizer-backend/internal/shared/metrics"
	"optimizer-backend/internal/shared/storage/object"
	"optimizer-backend/internal/shared/telemetry"
	"optimizer-backend/internal/workflow"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	maxBulletCount   = 10
	maxIterationsCap = 10
)

// Service contains business logic for optimizations.
type Service struct {
	Repo          Repo
	DocRepo       documents.DocumentsRepo
	Store         object.ObjectStore
	LLM           llm.Client
	Queue         queue.Client
	Provider      string
	Model         string
	MaxIterations int
	BulletCount   int
}

// CreateInput captures a requested optimization run.
type CreateInput struct {
	UserID        string
	Job           string
	DocumentID    string
	BulletCount   int
	MaxIterations int
}

// Create persists a queued optimization and kicks off asynchronous
// completion, either through the job queue or an in-process goroutine.
func (s *Service) Create(ctx context.Context, in CreateInput) (Optimization, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.Job) == "" {
		return Optimization{}, fmt.Errorf("%w: userID and job are required", ErrValidation)
	}
	bulletCount := in.BulletCount
	if bulletCount <= 0 {
		bulletCount = s.defaultBulletCount()
	}
	if bulletCount > maxBulletCount {
		return Optimization{}, fmt.Errorf("%w: bulletCount must be at most %d", ErrValidation, maxBulletCount)
	}
	maxIterations := in.MaxIterations
	if maxIterations <= 0 {
		maxIterations = s.defaultMaxIterations()
	}
	if maxIterations > maxIterationsCap {
		return Optimization{}, fmt.Errorf("%w: maxIterations must be at most %d", ErrValidation, maxIterationsCap)
	}

	if in.DocumentID != "" && s.DocRepo != nil {
		if _, err := s.DocRepo.GetByID(ctx, in.UserID, in.DocumentID); err != nil {
			if errors.Is(err, documents.ErrNotFound) {
				return Optimization{}, fmt.Errorf("validation: document %s: %w", in.DocumentID, err)
			}
			return Optimization{}, err
		}
	}

	opt := Optimization{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		Job:           in.Job,
		DocumentID:    in.DocumentID,
		BulletCount:   bulletCount,
		MaxIterations: maxIterations,
		Provider:      normalizeProvider(s.Provider),
		Model:         s.Model,
		Status:        StatusQueued,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.Repo.Create(ctx, opt); err != nil {
		return Optimization{}, err
	}

	if s.Queue != nil {
		msg := queue.Message{
			OptimizationID: opt.ID,
			RequestID:      requestIDFromContext(ctx),
			EnqueuedAt:     time.Now().UTC().Format(time.RFC3339),
			Version:        1,
		}
		if err := s.Queue.Send(ctx, msg); err != nil {
			return Optimization{}, fmt.Errorf("enqueue optimization: %w", err)
		}
	} else {
		go s.completeAsync(backgroundWithRequestID(ctx), opt.ID)
	}

	return opt, nil
}

// Get returns an optimization by ID.
func (s *Service) Get(ctx context.Context, optimizationID string) (Optimization, error) {
	if optimizationID == "" {
		return Optimization{}, errors.New("optimizationID is required")
	}
	return s.Repo.GetByID(ctx, optimizationID)
}

// List returns optimizations for a user ordered newest-first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Optimization, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// History returns the persisted per-cycle snapshots for an optimization.
func (s *Service) History(ctx context.Context, optimizationID string) ([]IterationRecord, error) {
	if optimizationID == "" {
		return nil, errors.New("optimizationID is required")
	}
	if _, err := s.Repo.GetByID(ctx, optimizationID); err != nil {
		return nil, err
	}
	return s.Repo.ListIterations(ctx, optimizationID)
}

// ProcessOptimization runs the workflow for a queued optimization. It is the
// entry point used by the queue worker.
func (s *Service) ProcessOptimization(ctx context.Context, optimizationID string) error {
	return s.process(ctx, optimizationID)
}

func (s *Service) completeAsync(ctx context.Context, optimizationID string) {
	defer func() {
		if r := recover(); r != nil {
			s.failOptimization(ctx, Optimization{ID: optimizationID}, fmt.Errorf("panic: %v", r), nil)
		}
	}()
	_ = s.process(ctx, optimizationID)
}

func (s *Service) process(ctx context.Context, optimizationID string) error {
	startedAt := time.Now().UTC()

	opt, err := s.Repo.GetByID(ctx, optimizationID)
	if err != nil {
		err = fmt.Errorf("optimization lookup: %w", err)
		s.failOptimization(ctx, Optimization{ID: optimizationID}, err, &startedAt)
		return err
	}
	// Queue delivery is at-least-once. A redelivered message for a run that
	// already finished must leave the stored result untouched.
	if opt.Status == StatusCompleted {
		s.logStatus(ctx, opt, StatusCompleted, "redelivery ignored", nil)
		return nil
	}

	if err := s.Repo.SetProcessing(ctx, optimizationID, startedAt); err != nil {
		err = fmt.Errorf("set processing failed: %w", err)
		s.failOptimization(ctx, opt, err, &startedAt)
		return err
	}
	opt.StartedAt = &startedAt

	metrics.IncOptimizationStarted()
	s.logStatus(ctx, opt, StatusProcessing, "queued->processing", nil)

	if s.LLM == nil {
		err := errors.New("missing llm client")
		s.failOptimization(ctx, opt, err, &startedAt)
		return err
	}

	resumeContext, err := s.loadResumeContext(ctx, opt)
	if err != nil {
		s.failOptimization(ctx, opt, err, &startedAt)
		return err
	}

	controller := &workflow.Controller{
		Generator:     s.LLM,
		Evaluator:     s.LLM,
		MaxIterations: opt.MaxIterations,
		BulletCount:   opt.BulletCount,
	}

	result, err := controller.Run(ctx, opt.Job, resumeContext)
	if err != nil {
		var runErr *workflow.RunError
		if errors.As(err, &runErr) && len(runErr.History) > 0 {
			// Persist the cycles that did complete so the failure is debuggable.
			if histErr := s.Repo.AppendIterations(ctx, opt.ID, toIterationRecords(opt.ID, runErr.History)); histErr != nil {
				telemetry.Error("optimization.history", map[string]any{
					"optimization_id": opt.ID,
					"error":           histErr.Error(),
				})
			}
		}
		s.failOptimization(ctx, opt, err, &startedAt)
		return err
	}

	if err := s.Repo.AppendIterations(ctx, opt.ID, toIterationRecords(opt.ID, result.History)); err != nil {
		err = fmt.Errorf("storage: append iterations: %w", err)
		s.failOptimization(ctx, opt, err, &startedAt)
		return err
	}

	completedAt := time.Now().UTC()
	outcome := Outcome{
		Accepted:   result.Accepted,
		Forced:     result.Forced,
		Iterations: result.State.Iteration,
		Bullets:    result.State.Bullets,
		Grades:     gradeStrings(result.State.Grades),
		Feedback:   result.State.Feedback,
	}
	if err := s.Repo.Complete(ctx, opt.ID, outcome, completedAt); err != nil {
		err = fmt.Errorf("storage: set result failed: %w", err)
		s.failOptimization(ctx, opt, err, &startedAt)
		return err
	}

	metrics.IncOptimizationCompleted()
	metrics.ObserveOptimizationIterations(float64(result.State.Iteration))
	duration := durationMs(&startedAt, &completedAt)
	metrics.ObserveOptimizationDurationMs(duration)
	s.logStatus(ctx, opt, StatusCompleted, "processing->completed", map[string]any{
		"iterations":  result.State.Iteration,
		"accepted":    result.Accepted,
		"forced":      result.Forced,
		"duration_ms": duration,
	})
	return nil
}

// loadResumeContext loads the extracted text of the referenced document, if
// any, so generation can be grounded in the candidate's real background.
func (s *Service) loadResumeContext(ctx context.Context, opt Optimization) (string, error) {
	if opt.DocumentID == "" {
		return "", nil
	}
	if s.DocRepo == nil || s.Store == nil {
		return "", errors.New("document context requested but document store is not configured")
	}

	doc, err := s.DocRepo.GetByID(ctx, opt.UserID, opt.DocumentID)
	if err != nil {
		return "", fmt.Errorf("document lookup id=%s: %w", opt.DocumentID, err)
	}

	extractedKey := doc.ExtractedTextKey
	if extractedKey == "" {
		if _, err := extract.ExtractText(ctx, s.Store, doc.StorageKey, doc.MimeType, doc.FileName); err != nil {
			return "", fmt.Errorf("document %s mime %s: %w", doc.ID, doc.MimeType, err)
		}
		extractedKey = doc.StorageKey + ".extracted.txt"
		if err := s.DocRepo.UpdateExtraction(ctx, doc.UserID, doc.ID, extractedKey, time.Now().UTC()); err != nil {
			return "", fmt.Errorf("document %s: update extraction: %w", doc.ID, err)
		}
	}

	text, err := loadText(ctx, s.Store, extractedKey)
	if err != nil {
		return "", fmt.Errorf("document %s: load extracted text: %w", doc.ID, err)
	}
	return text, nil
}

func (s *Service) failOptimization(ctx context.Context, opt Optimization, err error, startedAt *time.Time) {
	code := classifyFailure(err)
	msg := sanitizeError(err)
	completedAt := time.Now().UTC()
	if updateErr := s.Repo.Fail(context.Background(), opt.ID, code, msg, completedAt); updateErr != nil {
		telemetry.Error("optimization.fail", map[string]any{
			"optimization_id": opt.ID,
			"error":           updateErr.Error(),
			"original":        msg,
		})
	}
	metrics.IncOptimizationFailed()
	if startedAt != nil {
		metrics.ObserveOptimizationDurationMs(durationMs(startedAt, &completedAt))
	}
	s.logStatus(ctx, opt, StatusFailed, "processing->failed", map[string]any{
		"error_code":  code,
		"duration_ms": durationMs(startedAt, &completedAt),
	})
}

func (s *Service) logStatus(ctx context.Context, opt Optimization, status, transition string, extra map[string]any) {
	fields := map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"user_id":           opt.UserID,
		"optimization_id":   opt.ID,
		"status":            status,
		"status_transition": transition,
	}
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info("optimization.status", fields)
}

func (s *Service) defaultBulletCount() int {
	if s.BulletCount > 0 {
		return s.BulletCount
	}
	return workflow.DefaultBulletCount
}

func (s *Service) defaultMaxIterations() int {
	if s.MaxIterations > 0 {
		return s.MaxIterations
	}
	return workflow.DefaultMaxIterations
}

func normalizeProvider(provider string) string {
	if strings.TrimSpace(provider) == "" {
		return "openai"
	}
	return strings.ToLower(strings.TrimSpace(provider))
}

func toIterationRecords(optimizationID string, history []workflow.HistoryEntry) []IterationRecord {
	out := make([]IterationRecord, 0, len(history))
	now := time.Now().UTC()
	for _, entry := range history {
		out = append(out, IterationRecord{
			OptimizationID: optimizationID,
			Iteration:      entry.Iteration,
			Bullets:        append([]string(nil), entry.Bullets...),
			Grades:         gradeStrings(entry.Grades),
			Feedback:       append([]string(nil), entry.Feedback...),
			CreatedAt:      now,
		})
	}
	return out
}

func gradeStrings(grades []workflow.Grade) []string {
	out := make([]string, len(grades))
	for i, g := range grades {
		out[i] = string(g)
	}
	return out
}

func durationMs(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return float64(completedAt.Sub(*startedAt).Microseconds()) / 1000.0
}

func classifyFailure(err error) string {
	if err == nil {
		return ErrorCodeInternal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeLLMTimeout
	}
	if errors.Is(err, openai.ErrSchemaMismatch) {
		return ErrorCodeLLMSchemaMismatch
	}
	if errors.Is(err, ErrValidation) {
		return ErrorCodeValidation
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "openai request timeout"):
		return ErrorCodeLLMTimeout
	case strings.Contains(msg, "schema"):
		return ErrorCodeLLMSchemaMismatch
	case strings.Contains(msg, "validation"):
		return ErrorCodeValidation
	case strings.Contains(msg, "document"), strings.Contains(msg, "storage"),
		strings.Contains(msg, "set processing"), strings.Contains(msg, "optimization lookup"):
		return ErrorCodeStorage
	default:
		return ErrorCodeInternal
	}
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func loadText(ctx context.Context, store object.ObjectStore, key string) (string, error) {
	body, err := store.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
