package optimizations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/llm"
	"optimizer-backend/internal/llm/openai"
	"optimizer-backend/internal/queue"
	"optimizer-backend/internal/shared/storage/object/local"
	"optimizer-backend/internal/workflow"
)

type fakeLLM struct {
	generateErr  error
	evaluateErr  error
	passAfter    int
	generateCnt  int
	evaluateCnt  int
	failFeedback string
	lastGenerate workflow.GenerateInput
}

func (f *fakeLLM) Generate(ctx context.Context, in workflow.GenerateInput) (string, error) {
	f.generateCnt++
	f.lastGenerate = in
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return "- Shipped a resilient payment API serving 40M requests per day\n" +
		"- Cut p99 latency from 900ms to 120ms by caching hot lookups\n" +
		"- Led migration of 12 services to containerized deploys\n" +
		"- Mentored four engineers through production on-call rotations", nil
}

func (f *fakeLLM) Evaluate(ctx context.Context, in workflow.EvaluateInput) (workflow.Evaluation, error) {
	f.evaluateCnt++
	if f.evaluateErr != nil {
		return workflow.Evaluation{}, f.evaluateErr
	}
	if f.generateCnt > f.passAfter {
		return workflow.Evaluation{Grade: workflow.GradePass}, nil
	}
	feedback := f.failFeedback
	if feedback == "" {
		feedback = "needs a stronger metric"
	}
	return workflow.Evaluation{Grade: workflow.GradeFail, Feedback: feedback}, nil
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return "", errors.New("not used")
}

type captureQueue struct {
	sent []queue.Message
	err  error
}

func (q *captureQueue) Send(ctx context.Context, msg queue.Message) error {
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

func newTestService(llmClient llm.Client, q queue.Client) *Service {
	return &Service{
		Repo:     NewMemoryRepo(),
		LLM:      llmClient,
		Queue:    q,
		Provider: "openai",
		Model:    "gpt-test",
	}
}

func TestCreateEnqueuesWhenQueueConfigured(t *testing.T) {
	q := &captureQueue{}
	svc := newTestService(&fakeLLM{}, q)

	opt, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "Backend Engineer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if opt.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", opt.Status)
	}
	if opt.BulletCount != workflow.DefaultBulletCount {
		t.Fatalf("expected default bullet count, got %d", opt.BulletCount)
	}
	if opt.MaxIterations != workflow.DefaultMaxIterations {
		t.Fatalf("expected default max iterations, got %d", opt.MaxIterations)
	}
	if len(q.sent) != 1 || q.sent[0].OptimizationID != opt.ID {
		t.Fatalf("expected one queued message for %s, got %+v", opt.ID, q.sent)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	svc := newTestService(&fakeLLM{}, &captureQueue{})

	if _, err := svc.Create(context.Background(), CreateInput{UserID: "u1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing job, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "x", BulletCount: 50}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized bullet count, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "x", MaxIterations: 99}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized iteration cap, got %v", err)
	}
}

func TestProcessOptimizationCompletes(t *testing.T) {
	q := &captureQueue{}
	fake := &fakeLLM{passAfter: 1}
	svc := newTestService(fake, q)

	opt, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "Backend Engineer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.ProcessOptimization(context.Background(), opt.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := svc.Get(context.Background(), opt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if !got.Accepted || got.Forced {
		t.Fatalf("expected clean acceptance, got accepted=%v forced=%v", got.Accepted, got.Forced)
	}
	if got.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", got.Iterations)
	}
	if len(got.Bullets) != workflow.DefaultBulletCount {
		t.Fatalf("expected %d bullets, got %d", workflow.DefaultBulletCount, len(got.Bullets))
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("expected started and completed timestamps")
	}

	history, err := svc.History(context.Background(), opt.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	for i, rec := range history {
		if rec.Iteration != i+1 {
			t.Fatalf("history[%d].Iteration = %d", i, rec.Iteration)
		}
	}
}

func TestProcessOptimizationIgnoresRedeliveredCompletedRun(t *testing.T) {
	fake := &fakeLLM{}
	svc := newTestService(fake, &captureQueue{})

	opt, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "Backend Engineer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.ProcessOptimization(context.Background(), opt.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	// A second delivery of the same queue message must not rerun the
	// workflow or disturb the stored result.
	generatesBefore := fake.generateCnt
	svc.LLM = &fakeLLM{generateErr: errors.New("should not be called")}
	if err := svc.ProcessOptimization(context.Background(), opt.ID); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	got, err := svc.Get(context.Background(), opt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("redelivery changed status to %s", got.Status)
	}
	if got.ErrorCode != nil {
		t.Fatalf("redelivery attached error code %s", *got.ErrorCode)
	}
	if fake.generateCnt != generatesBefore {
		t.Fatalf("redelivery invoked the generator")
	}

	history, err := svc.Repo.ListIterations(context.Background(), opt.ID)
	if err != nil {
		t.Fatalf("list iterations: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history row after redelivery, got %d", len(history))
	}
}

func TestProcessOptimizationRetryAfterFailureRecovers(t *testing.T) {
	svc := newTestService(&failSecondCycleLLM{inner: &fakeLLM{}}, &captureQueue{})

	opt, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "Backend Engineer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.ProcessOptimization(context.Background(), opt.ID); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	// The retry writes iteration 1 again. The duplicate snapshot from the
	// failed attempt must not abort the run.
	svc.LLM = &fakeLLM{}
	if err := svc.ProcessOptimization(context.Background(), opt.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, err := svc.Get(context.Background(), opt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed after retry, got %s", got.Status)
	}
	if got.ErrorCode != nil {
		t.Fatalf("retry left error code %s", *got.ErrorCode)
	}
}

func TestProcessOptimizationForcedAcceptance(t *testing.T) {
	fake := &fakeLLM{passAfter: 100, failFeedback: "too vague"}
	svc := newTestService(fake, &captureQueue{})

	opt, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "Backend Engineer", MaxIterations: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.ProcessOptimization(context.Background(), opt.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := svc.Get(context.Background(), opt.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if !got.Accepted || !got.Forced {
		t.Fatalf("expected forced acceptance, got accepted=%v forced=%v", got.Accepted, got.Forced)
	}
	if got.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", got.Iterations)
	}
	for i, fb := range got.Feedback {
		if !strings.Contains(fb, "Forced pass after 3 iterations") {
			t.Fatalf("feedback[%d] missing annotation: %q", i, fb)
		}
		if !strings.Contains(fb, "too vague") {
			t.Fatalf("feedback[%d] lost original feedback: %q", i, fb)
		}
	}
}

func TestProcessOptimizationGenerateFailure(t *testing.T) {
	fake := &fakeLLM{generateErr: errors.New("openai request timeout after 60s")}
	svc := newTestService(fake, &captureQueue{})

	opt, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "Backend Engineer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.ProcessOptimization(context.Background(), opt.ID); err == nil {
		t.Fatal("expected process error")
	}

	got, _ := svc.Get(context.Background(), opt.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorCode == nil || *got.ErrorCode != ErrorCodeLLMTimeout {
		t.Fatalf("expected %s, got %v", ErrorCodeLLMTimeout, got.ErrorCode)
	}
}

func TestProcessOptimizationPersistsPartialHistoryOnEvaluateFailure(t *testing.T) {
	svc := newTestService(&fakeLLM{}, &captureQueue{})

	opt, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "Backend Engineer", MaxIterations: 4})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Fail evaluation on the second cycle so cycle one is already snapshotted.
	svc.LLM = &failSecondCycleLLM{inner: &fakeLLM{}}

	if err := svc.ProcessOptimization(context.Background(), opt.ID); err == nil {
		t.Fatal("expected process error")
	}

	got, _ := svc.Get(context.Background(), opt.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	history, err := svc.Repo.ListIterations(context.Background(), opt.ID)
	if err != nil {
		t.Fatalf("list iterations: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 partial history row, got %d", len(history))
	}
}

// failSecondCycleLLM fails every bullet on cycle one, then errors on cycle two.
type failSecondCycleLLM struct {
	inner     *fakeLLM
	generates int
}

func (f *failSecondCycleLLM) Generate(ctx context.Context, in workflow.GenerateInput) (string, error) {
	f.generates++
	return f.inner.Generate(ctx, in)
}

func (f *failSecondCycleLLM) Evaluate(ctx context.Context, in workflow.EvaluateInput) (workflow.Evaluation, error) {
	if f.generates >= 2 {
		return workflow.Evaluation{}, errors.New("connection reset")
	}
	return workflow.Evaluation{Grade: workflow.GradeFail, Feedback: "weak"}, nil
}

func (f *failSecondCycleLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return "", errors.New("not used")
}

func TestProcessOptimizationLoadsDocumentContext(t *testing.T) {
	store := local.New(t.TempDir())
	key, _, _, err := store.Save(context.Background(), "u1", "resume.txt",
		strings.NewReader("Senior engineer with eight years of Go and Postgres experience."))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	docs := documents.NewMemoryRepo()
	if err := docs.Create(context.Background(), documents.Document{
		ID:         "doc-1",
		UserID:     "u1",
		FileName:   "resume.txt",
		MimeType:   "text/plain",
		StorageKey: key,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create document: %v", err)
	}

	fake := &fakeLLM{}
	svc := newTestService(fake, &captureQueue{})
	svc.DocRepo = docs
	svc.Store = store

	opt, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "Backend Engineer", DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.ProcessOptimization(context.Background(), opt.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	if !strings.Contains(fake.lastGenerate.ResumeContext, "eight years of Go") {
		t.Fatalf("resume context not passed to generator: %q", fake.lastGenerate.ResumeContext)
	}

	// The extracted text key is persisted so the next run skips extraction.
	doc, err := docs.GetByID(context.Background(), "u1", "doc-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc.ExtractedTextKey != key+".extracted.txt" {
		t.Fatalf("unexpected extracted key %q", doc.ExtractedTextKey)
	}
}

func TestCreateRejectsUnknownDocument(t *testing.T) {
	svc := newTestService(&fakeLLM{}, &captureQueue{})
	svc.DocRepo = documents.NewMemoryRepo()

	_, err := svc.Create(context.Background(), CreateInput{UserID: "u1", Job: "x", DocumentID: "missing"})
	if !errors.Is(err, documents.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, ErrorCodeLLMTimeout},
		{"timeout message", errors.New("openai request timeout after 60s"), ErrorCodeLLMTimeout},
		{"schema", openai.ErrSchemaMismatch, ErrorCodeLLMSchemaMismatch},
		{"validation sentinel", fmt.Errorf("%w: bulletCount must be at most 10", ErrValidation), ErrorCodeValidation},
		{"validation message", errors.New("validation: document d1: not found"), ErrorCodeValidation},
		{"document", errors.New("document lookup id=d1: not found"), ErrorCodeStorage},
		{"storage", errors.New("storage: append iterations: broken"), ErrorCodeStorage},
		{"other", errors.New("boom"), ErrorCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyFailure(tc.err); got != tc.want {
				t.Fatalf("classifyFailure(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	long := strings.Repeat("x", 600)
	msg := sanitizeError(errors.New("line one\nline two\r\n" + long))
	if strings.ContainsAny(msg, "\n\r") {
		t.Fatalf("newlines not stripped: %q", msg)
	}
	if len(msg) > 500 {
		t.Fatalf("message not truncated: %d", len(msg))
	}
}

func TestDurationMs(t *testing.T) {
	start := time.Now()
	end := start.Add(1500 * time.Millisecond)
	if ms := durationMs(&start, &end); ms != 1500 {
		t.Fatalf("expected 1500, got %f", ms)
	}
	if ms := durationMs(nil, &end); ms != 0 {
		t.Fatalf("expected 0 for nil start, got %f", ms)
	}
}
