package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/clock"
)

// TeacherChecker is the delegated permission lookup for course ownership.
type TeacherChecker interface {
	HasTeacherRole(ctx context.Context, userID, courseID string) (bool, error)
}

// Manager owns session lifecycle: creation and the Scheduled -> Active ->
// Closed transitions. All state changes go through the store's
// compare-and-set so explicit calls and the background sweep can race safely.
type Manager struct {
	store    Store
	teachers TeacherChecker
	clk      clock.Clock
	grace    time.Duration
	onClosed func(s Session, trigger string)
}

// NewManager creates a lifecycle manager. grace is how far before start_time
// activation is allowed. onClosed, if non-nil, runs once per session on the
// winning Close transition.
func NewManager(store Store, teachers TeacherChecker, clk clock.Clock, grace time.Duration, onClosed func(Session, string)) *Manager {
	return &Manager{store: store, teachers: teachers, clk: clk, grace: grace, onClosed: onClosed}
}

// CreateInput carries the teacher-supplied session parameters.
type CreateInput struct {
	CourseID      string
	TeacherID     string
	StartTime     time.Time
	EndTime       time.Time
	LateThreshold time.Duration
	Location      string
}

// Create validates the window and course ownership and persists a Scheduled session.
func (m *Manager) Create(ctx context.Context, in CreateInput) (Session, error) {
	if !in.StartTime.Before(in.EndTime) {
		return Session{}, ErrInvalidWindow
	}
	if in.LateThreshold < 0 {
		return Session{}, ErrInvalidWindow
	}
	ok, err := m.teachers.HasTeacherRole(ctx, in.TeacherID, in.CourseID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrForbidden
	}
	s := Session{
		ID:            uuid.NewString(),
		CourseID:      in.CourseID,
		TeacherID:     in.TeacherID,
		StartTime:     in.StartTime.UTC(),
		EndTime:       in.EndTime.UTC(),
		LateThreshold: in.LateThreshold,
		Location:      in.Location,
		State:         Scheduled,
		CreatedAt:     m.clk.Now(),
	}
	if err := m.store.Insert(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.Get(ctx, id)
}

// Activate transitions Scheduled -> Active. It fails with ErrInvalidState if
// the session is not Scheduled or the start window (minus grace) has not opened.
func (m *Manager) Activate(ctx context.Context, id string) (Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.State != Scheduled {
		return Session{}, ErrInvalidState
	}
	if m.clk.Now().Before(s.StartTime.Add(-m.grace)) {
		return Session{}, ErrInvalidState
	}
	won, err := m.store.TransitionState(ctx, id, Scheduled, Active)
	if err != nil {
		return Session{}, err
	}
	if !won {
		// Lost a race with another activation or an early close.
		s, err = m.store.Get(ctx, id)
		if err != nil {
			return Session{}, err
		}
		if s.State != Active {
			return Session{}, ErrInvalidState
		}
		return s, nil
	}
	s.State = Active
	return s, nil
}

// Close transitions Active -> Closed. Closing an already-Closed session is a
// no-op; the compare-and-set decides which of the explicit and time-driven
// callers performs side effects. Closing a Scheduled session is rejected.
func (m *Manager) Close(ctx context.Context, id, trigger string) (Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	switch s.State {
	case Closed:
		return s, nil
	case Scheduled:
		return Session{}, ErrInvalidState
	}
	won, err := m.store.TransitionState(ctx, id, Active, Closed)
	if err != nil {
		return Session{}, err
	}
	s.State = Closed
	if won && m.onClosed != nil {
		m.onClosed(s, trigger)
	}
	return s, nil
}

// CloseDue closes every Active session whose end time has passed. Invoked by
// the sweeper; returns how many sessions this caller actually closed.
func (m *Manager) CloseDue(ctx context.Context) (int, error) {
	due, err := m.store.ListDue(ctx, m.clk.Now())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, s := range due {
		won, err := m.store.TransitionState(ctx, s.ID, Active, Closed)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return closed, err
		}
		if won {
			closed++
			if m.onClosed != nil {
				s.State = Closed
				m.onClosed(s, "sweep")
			}
		}
	}
	return closed, nil
}
