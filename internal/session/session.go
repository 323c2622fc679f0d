package session

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a session. Transitions are
// Scheduled -> Active -> Closed only; Closed is terminal.
type State string

const (
	Scheduled State = "scheduled"
	Active    State = "active"
	Closed    State = "closed"
)

// Session is one bounded attendance opportunity for a course.
type Session struct {
	ID            string        `json:"id"`
	CourseID      string        `json:"course_id"`
	TeacherID     string        `json:"teacher_id"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	LateThreshold time.Duration `json:"late_threshold"`
	Location      string        `json:"location,omitempty"`
	State         State         `json:"state"`
	CreatedAt     time.Time     `json:"created_at"`
}

var (
	ErrInvalidWindow = errors.New("start time must be before end time")
	ErrForbidden     = errors.New("caller is not the course teacher")
	ErrInvalidState  = errors.New("invalid session state transition")
	ErrNotFound      = errors.New("session not found")
)

// Store persists sessions. TransitionState is the compare-and-set used for
// all lifecycle changes: it succeeds only when the stored state equals from,
// and reports whether this caller won the transition.
type Store interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	TransitionState(ctx context.Context, id string, from, to State) (bool, error)
	ListDue(ctx context.Context, now time.Time) ([]Session, error)
	ListActive(ctx context.Context) ([]Session, error)
}
