package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/clock"
	"classtrack/internal/metrics"
	"classtrack/internal/session"
)

// SessionGetter reads session state and timing.
type SessionGetter interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// TokenValidator checks a presented value against the session's current token.
type TokenValidator interface {
	Validate(sessionID, presented string) bool
}

// Directory is the delegated identity/roster boundary.
type Directory interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	HasTeacherRole(ctx context.Context, userID, courseID string) (bool, error)
}

// Coordinator validates check-in attempts and commits at most one record per
// (session, student) pair. The duplicate guarantee lives in the store's
// atomic insert, not here; the coordinator only translates the constraint
// violation into ErrAlreadyCheckedIn.
type Coordinator struct {
	sessions     SessionGetter
	records      RecordStore
	tokens       TokenValidator
	dir          Directory
	clk          clock.Clock
	depTimeout   time.Duration
	retryBackoff time.Duration
}

// NewCoordinator creates a coordinator. depTimeout bounds each delegated
// lookup; a timed-out lookup is retried once after retryBackoff.
func NewCoordinator(sessions SessionGetter, records RecordStore, tokens TokenValidator, dir Directory, clk clock.Clock, depTimeout, retryBackoff time.Duration) *Coordinator {
	return &Coordinator{
		sessions:     sessions,
		records:      records,
		tokens:       tokens,
		dir:          dir,
		clk:          clk,
		depTimeout:   depTimeout,
		retryBackoff: retryBackoff,
	}
}

// SubmitInput carries one check-in attempt. ActorID is the authenticated
// caller: the student for QR, the teacher for manual entry. Location is the
// client-reported position, matched coarsely against the session's bound.
type SubmitInput struct {
	SessionID string
	StudentID string
	Method    Method
	Token     string
	ActorID   string
	Location  string
}

// Submit validates the attempt and commits the record. Business rejections
// (ErrInvalidToken, ErrNotEnrolled, ErrAlreadyCheckedIn) are expected
// outcomes for the caller, not system errors.
func (c *Coordinator) Submit(ctx context.Context, in SubmitInput) (Record, error) {
	s, err := c.sessions.Get(ctx, in.SessionID)
	if err != nil {
		return Record{}, err
	}
	if s.State != session.Active {
		metrics.CheckinRejections.WithLabelValues("session_not_active").Inc()
		return Record{}, ErrSessionNotActive
	}

	switch in.Method {
	case MethodQR:
		if !c.tokens.Validate(in.SessionID, in.Token) {
			metrics.CheckinRejections.WithLabelValues("invalid_token").Inc()
			return Record{}, ErrInvalidToken
		}
	case MethodManual:
		ok, err := c.lookup(ctx, func(ctx context.Context) (bool, error) {
			return c.dir.HasTeacherRole(ctx, in.ActorID, s.CourseID)
		})
		if err != nil {
			return Record{}, err
		}
		if !ok {
			metrics.CheckinRejections.WithLabelValues("forbidden").Inc()
			return Record{}, ErrForbidden
		}
	default:
		return Record{}, fmt.Errorf("unknown check-in method %q", in.Method)
	}

	enrolled, err := c.lookup(ctx, func(ctx context.Context) (bool, error) {
		return c.dir.IsEnrolled(ctx, in.StudentID, s.CourseID)
	})
	if err != nil {
		return Record{}, err
	}
	if !enrolled {
		metrics.CheckinRejections.WithLabelValues("not_enrolled").Inc()
		return Record{}, ErrNotEnrolled
	}

	now := c.clk.Now()
	rec := Record{
		ID:          uuid.NewString(),
		SessionID:   in.SessionID,
		StudentID:   in.StudentID,
		CheckInTime: now,
		Method:      in.Method,
		Status:      Classify(now, s.StartTime, s.EndTime, s.LateThreshold),
		Remark:      locationRemark(s.Location, in.Location),
	}
	rec, err = c.records.Insert(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrAlreadyCheckedIn) {
			metrics.CheckinRejections.WithLabelValues("already_checked_in").Inc()
		}
		return Record{}, err
	}
	metrics.Checkins.WithLabelValues(string(rec.Method), string(rec.Status)).Inc()
	return rec, nil
}

// Override replaces a record's status with ManualOverride on explicit teacher
// action. It is a distinct audited action, never a re-run of the classifier.
func (c *Coordinator) Override(ctx context.Context, sessionID, studentID, actorID, remark string) (Record, error) {
	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	ok, err := c.lookup(ctx, func(ctx context.Context) (bool, error) {
		return c.dir.HasTeacherRole(ctx, actorID, s.CourseID)
	})
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrForbidden
	}
	rec, err := c.records.Override(ctx, sessionID, studentID, remark)
	if err != nil {
		return Record{}, err
	}
	metrics.Overrides.Inc()
	return rec, nil
}

// lookup bounds a delegated call with the dependency timeout and retries a
// timeout once with backoff before surfacing ErrDependencyTimeout.
func (c *Coordinator) lookup(ctx context.Context, f func(ctx context.Context) (bool, error)) (bool, error) {
	ok, err := c.bounded(ctx, f)
	if !isTimeout(err) {
		return ok, err
	}
	select {
	case <-time.After(c.retryBackoff):
	case <-ctx.Done():
		return false, ErrDependencyTimeout
	}
	ok, err = c.bounded(ctx, f)
	if isTimeout(err) {
		return false, ErrDependencyTimeout
	}
	return ok, err
}

func (c *Coordinator) bounded(ctx context.Context, f func(ctx context.Context) (bool, error)) (bool, error) {
	bctx, cancel := context.WithTimeout(ctx, c.depTimeout)
	defer cancel()
	return f(bctx)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func locationRemark(bound, reported string) string {
	if bound == "" || reported == "" {
		return ""
	}
	if strings.EqualFold(strings.TrimSpace(bound), strings.TrimSpace(reported)) {
		return ""
	}
	return fmt.Sprintf("location mismatch: reported %q, session bound to %q", reported, bound)
}
