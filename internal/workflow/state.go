// Package workflow implements the generate-evaluate-refine loop that produces
// resume bullet points: generate a candidate set, grade each bullet against a
// rubric, and loop with feedback until every bullet passes or the iteration
// cap forces acceptance.
package workflow

// Grade is the evaluator's verdict for a single bullet.
type Grade string

const (
	GradePending Grade = "pending"
	GradePass    Grade = "pass"
	GradeFail    Grade = "fail"
)

// Phase identifies the controller's position in the loop, used to report
// where a run failed.
type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseExtracting Phase = "extracting"
	PhaseEvaluating Phase = "evaluating"
	PhaseRouting    Phase = "routing"
	PhaseTerminal   Phase = "terminal"
)

// State is the single record threaded through every step of one run. It is
// owned exclusively by the Controller; Bullets, Grades, and Feedback stay
// parallel and the same length from the first generation onward.
type State struct {
	Job       string
	RawOutput string
	Bullets   []string
	Grades    []Grade
	Feedback  []string
	Iteration int
}

// NewState returns a State for the given job with n pending bullet slots.
func NewState(job string, n int) State {
	s := State{
		Job:      job,
		Bullets:  make([]string, n),
		Grades:   make([]Grade, n),
		Feedback: make([]string, n),
	}
	for i := range s.Grades {
		s.Grades[i] = GradePending
	}
	return s
}

// AllPass reports whether every bullet currently holds a passing grade.
func (s State) AllPass() bool {
	if len(s.Grades) == 0 {
		return false
	}
	for _, g := range s.Grades {
		if g != GradePass {
			return false
		}
	}
	return true
}

// FailCount returns the number of failing bullets.
func (s State) FailCount() int {
	count := 0
	for _, g := range s.Grades {
		if g == GradeFail {
			count++
		}
	}
	return count
}

// HistoryEntry is an immutable snapshot of one completed cycle. Grades are
// recorded after the forced-acceptance override so history matches what the
// routing decision actually saw.
type HistoryEntry struct {
	Iteration int
	Bullets   []string
	Grades    []Grade
	Feedback  []string
}

func snapshot(s State) HistoryEntry {
	entry := HistoryEntry{
		Iteration: s.Iteration,
		Bullets:   make([]string, len(s.Bullets)),
		Grades:    make([]Grade, len(s.Grades)),
		Feedback:  make([]string, len(s.Feedback)),
	}
	copy(entry.Bullets, s.Bullets)
	copy(entry.Grades, s.Grades)
	copy(entry.Feedback, s.Feedback)
	return entry
}

// Route is the outcome of the routing decision after one cycle.
type Route string

const (
	RouteAccepted Route = "accepted"
	RouteRetry    Route = "retry"
)

// route decides whether the run terminates or loops back to generation.
// Forced acceptance guarantees this returns RouteAccepted within
// MaxIterations cycles.
func route(s State) Route {
	if s.AllPass() {
		return RouteAccepted
	}
	return RouteRetry
}
