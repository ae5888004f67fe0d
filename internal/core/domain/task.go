package domain

import "time"

// TaskStatus is the lifecycle state of a queued clip analysis.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransitionTo enforces PENDING -> PROCESSING -> {COMPLETED, FAILED}.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskProcessing
	case TaskProcessing:
		return next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Task is one submitted clip analysis.
type Task struct {
	ID          string       `json:"task_id"`
	Status      TaskStatus   `json:"status"`
	Clip        string       `json:"clip"`
	SubmittedAt time.Time    `json:"submitted_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Result      *ClipVerdict `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Clone returns a copy that shares no mutable state with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	if t.Result != nil {
		r := *t.Result
		if t.Result.Entities != nil {
			r.Entities = make([]Entity, len(t.Result.Entities))
			copy(r.Entities, t.Result.Entities)
		}
		r.AnalyzedFrames = append([]int(nil), t.Result.AnalyzedFrames...)
		r.AnnotatedFrames = append([]string(nil), t.Result.AnnotatedFrames...)
		c.Result = &r
	}
	return &c
}

// TaskUpdate describes a status transition.
type TaskUpdate struct {
	Status TaskStatus
	At     time.Time
	Result *ClipVerdict
	Error  string
}

// Apply performs the transition on t, or returns ErrInvalidTransition.
func (t *Task) Apply(u TaskUpdate) error {
	if !t.Status.CanTransitionTo(u.Status) {
		return ErrInvalidTransition
	}
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	t.Status = u.Status
	switch u.Status {
	case TaskProcessing:
		t.StartedAt = &at
	case TaskCompleted:
		t.CompletedAt = &at
		t.Result = u.Result
	case TaskFailed:
		t.CompletedAt = &at
		t.Error = u.Error
		t.Result = u.Result
	}
	return nil
}
