package optimizations

import "time"

// Optimization represents one bullet optimization job and its final outcome.
type Optimization struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Job           string     `json:"job"`
	DocumentID    string     `json:"documentId,omitempty"`
	BulletCount   int        `json:"bulletCount"`
	MaxIterations int        `json:"maxIterations"`
	Provider      string     `json:"provider"`
	Model         string     `json:"model"`
	Status        string     `json:"status"`
	Accepted      bool       `json:"accepted"`
	Forced        bool       `json:"forced"`
	Iterations    int        `json:"iterations"`
	Bullets       []string   `json:"bullets,omitempty"`
	Grades        []string   `json:"grades,omitempty"`
	Feedback      []string   `json:"feedback,omitempty"`
	ErrorCode     *string    `json:"errorCode,omitempty"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IterationRecord is one persisted cycle of an optimization run. Grades are
// the post-override values the routing decision saw.
type IterationRecord struct {
	OptimizationID string    `json:"optimizationId"`
	Iteration      int       `json:"iteration"`
	Bullets        []string  `json:"bullets"`
	Grades         []string  `json:"grades"`
	Feedback       []string  `json:"feedback"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Outcome carries the terminal workflow result into persistence.
type Outcome struct {
	Accepted   bool
	Forced     bool
	Iterations int
	Bullets    []string
	Grades     []string
	Feedback   []string
}
