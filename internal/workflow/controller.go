package workflow

import (
	"context"
	"fmt"
	"strings"
)

const (
	// DefaultMaxIterations caps generate-evaluate cycles before failing
	// bullets are force-accepted.
	DefaultMaxIterations = 5
	// DefaultBulletCount is the fixed size of a generated bullet set.
	DefaultBulletCount = 4

	missingBulletFeedback = "Missing bullet point. Please generate a complete bullet point."
)

// GenerateInput carries the inputs for one generation call.
type GenerateInput struct {
	Job           string
	ResumeContext string
	FeedbackBlock string
	BulletCount   int
}

// Generator produces raw candidate text for a job, optionally steered by
// feedback from the previous cycle.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (string, error)
}

// EvaluateInput carries one bullet for grading.
type EvaluateInput struct {
	Job    string
	Bullet string
}

// Evaluation is the evaluator's structured verdict. Feedback may be empty on
// a pass; on a fail a missing feedback string is treated as empty, never as
// an error.
type Evaluation struct {
	Grade    Grade
	Feedback string
}

// Evaluator grades a single bullet against the rubric.
type Evaluator interface {
	Evaluate(ctx context.Context, in EvaluateInput) (Evaluation, error)
}

// Controller drives the optimization loop for one run. It keeps no per-run
// fields, so a single Controller may serve concurrent Run calls.
type Controller struct {
	Generator     Generator
	Evaluator     Evaluator
	MaxIterations int
	BulletCount   int
}

// Result is what a terminated run hands back to the caller.
type Result struct {
	State    State
	Accepted bool
	Forced   bool
	History  []HistoryEntry
}

// RunError is a fatal collaborator failure. The partial State and History are
// attached for diagnostics; the controller never retries collaborator calls.
type RunError struct {
	Phase   Phase
	State   State
	History []HistoryEntry
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("workflow %s: %v", e.Phase, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Run executes generate -> extract -> evaluate -> route cycles until every
// bullet passes or the iteration cap forces acceptance. It terminates within
// MaxIterations cycles for any sequence of evaluator verdicts.
func (c *Controller) Run(ctx context.Context, job, resumeContext string) (Result, error) {
	maxIterations := c.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	bulletCount := c.BulletCount
	if bulletCount <= 0 {
		bulletCount = DefaultBulletCount
	}

	state := NewState(job, bulletCount)
	var history []HistoryEntry

	for {
		raw, err := c.Generator.Generate(ctx, GenerateInput{
			Job:           job,
			ResumeContext: resumeContext,
			FeedbackBlock: feedbackBlock(state),
			BulletCount:   bulletCount,
		})
		if err != nil {
			return Result{}, &RunError{Phase: PhaseGenerating, State: state, History: history, Err: err}
		}
		state.Iteration++
		resetVerdicts(&state)

		state.RawOutput = raw
		state.Bullets = Extract(raw, bulletCount)

		for i, bullet := range state.Bullets {
			if bullet == "" {
				state.Grades[i] = GradeFail
				state.Feedback[i] = missingBulletFeedback
				continue
			}
			eval, err := c.Evaluator.Evaluate(ctx, EvaluateInput{Job: job, Bullet: bullet})
			if err != nil {
				return Result{}, &RunError{Phase: PhaseEvaluating, State: state, History: history, Err: err}
			}
			state.Grades[i] = eval.Grade
			state.Feedback[i] = eval.Feedback
		}

		forced := false
		if state.Iteration >= maxIterations {
			forced = applyForcedAcceptance(&state, maxIterations)
		}

		history = append(history, snapshot(state))

		if route(state) == RouteAccepted {
			return Result{State: state, Accepted: true, Forced: forced, History: history}, nil
		}
	}
}

// applyForcedAcceptance coerces every grade to pass once the iteration cap is
// reached. Feedback for bullets that actually failed is kept and annotated so
// the override stays auditable.
func applyForcedAcceptance(s *State, maxIterations int) bool {
	forced := false
	for i, g := range s.Grades {
		if g == GradeFail {
			forced = true
			s.Feedback[i] = fmt.Sprintf("Forced pass after %d iterations. Original feedback: %s", maxIterations, s.Feedback[i])
		}
		s.Grades[i] = GradePass
	}
	return forced
}

// feedbackBlock concatenates non-empty feedback tagged with its bullet index.
// It returns "" on the first cycle so the generator sees a clean prompt.
func feedbackBlock(s State) string {
	if s.Iteration == 0 {
		return ""
	}
	var b strings.Builder
	for i, fb := range s.Feedback {
		if strings.TrimSpace(fb) == "" {
			continue
		}
		fmt.Fprintf(&b, "• Bullet point %d: %s\n", i+1, fb)
	}
	return b.String()
}

func resetVerdicts(s *State) {
	for i := range s.Grades {
		s.Grades[i] = GradePending
		s.Feedback[i] = ""
	}
}
