package checkin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"classtrack/internal/clock"
	"classtrack/internal/directory"
	"classtrack/internal/session"
	"classtrack/internal/token"
)

type engine struct {
	sessions *session.Memory
	records  *Memory
	tokens   *token.Generator
	dir      *directory.Static
	clk      *clock.Fake
	coord    *Coordinator
}

// newEngine builds a coordinator over in-memory stores with one Active
// session: course-1, window 09:00-09:50, 10 minute late threshold.
func newEngine(t *testing.T) (*engine, session.Session) {
	t.Helper()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)

	sessions := session.NewMemory()
	s := session.Session{
		ID:            "sess-1",
		CourseID:      "course-1",
		TeacherID:     "teacher-1",
		StartTime:     start,
		EndTime:       start.Add(50 * time.Minute),
		LateThreshold: 10 * time.Minute,
		State:         session.Active,
		CreatedAt:     start.Add(-time.Hour),
	}
	if err := sessions.Insert(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	dir := directory.NewStatic()
	dir.AddTeacher("course-1", "teacher-1")
	for _, id := range []string{"student-1", "student-2", "student-3"} {
		dir.Enroll("course-1", id)
	}

	gen := token.NewGenerator(30*time.Second, clk, token.ActiveFunc(func(ctx context.Context, id string) (bool, error) {
		got, err := sessions.Get(ctx, id)
		if err != nil {
			return false, err
		}
		return got.State == session.Active, nil
	}), nil)

	records := NewMemory(sessions)
	coord := NewCoordinator(sessions, records, gen, dir, clk, 50*time.Millisecond, time.Millisecond)
	return &engine{sessions: sessions, records: records, tokens: gen, dir: dir, clk: clk, coord: coord}, s
}

func (e *engine) currentToken(t *testing.T, sessionID string) string {
	t.Helper()
	tok, err := e.tokens.RotateIfNeeded(context.Background(), sessionID)
	if err != nil {
		t.Fatal(err)
	}
	return tok.Value
}

func TestSubmitQRHappyPath(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	e.clk.Set(s.StartTime.Add(5 * time.Minute))
	rec, err := e.coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     e.currentToken(t, s.ID),
		ActorID:   "student-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusOnTime {
		t.Fatalf("status = %s, want %s", rec.Status, StatusOnTime)
	}
	if rec.Method != MethodQR || rec.SessionID != s.ID || rec.StudentID != "student-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestSubmitLateAfterThreshold(t *testing.T) {
	e, s := newEngine(t)

	e.clk.Set(s.StartTime.Add(15 * time.Minute))
	rec, err := e.coord.Submit(context.Background(), SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     e.currentToken(t, s.ID),
		ActorID:   "student-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusLate {
		t.Fatalf("status = %s, want %s", rec.Status, StatusLate)
	}
}

func TestSubmitRejectsInvalidOrRotatedToken(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	old := e.currentToken(t, s.ID)
	if _, err := e.tokens.Issue(ctx, s.ID); err != nil { // rotation invalidates old
		t.Fatal(err)
	}
	_, err := e.coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     old,
		ActorID:   "student-1",
	})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("rotated token error = %v, want %v", err, ErrInvalidToken)
	}

	_, err = e.coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     "not-a-token",
		ActorID:   "student-1",
	})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestSubmitRejectsUnknownStudent(t *testing.T) {
	e, s := newEngine(t)

	_, err := e.coord.Submit(context.Background(), SubmitInput{
		SessionID: s.ID,
		StudentID: "stranger",
		Method:    MethodQR,
		Token:     e.currentToken(t, s.ID),
		ActorID:   "stranger",
	})
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("error = %v, want %v", err, ErrNotEnrolled)
	}
}

func TestSubmitRejectsInactiveSession(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	tok := e.currentToken(t, s.ID)
	if _, err := e.sessions.TransitionState(ctx, s.ID, session.Active, session.Closed); err != nil {
		t.Fatal(err)
	}
	e.clk.Set(s.EndTime.Add(5 * time.Minute))

	_, err := e.coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     tok,
		ActorID:   "student-1",
	})
	if !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("error = %v, want %v", err, ErrSessionNotActive)
	}
}

func TestManualRequiresTeacherRole(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	_, err := e.coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodManual,
		ActorID:   "student-2",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("error = %v, want %v", err, ErrForbidden)
	}

	rec, err := e.coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodManual,
		ActorID:   "teacher-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Method != MethodManual {
		t.Fatalf("method = %s, want %s", rec.Method, MethodManual)
	}
}

func TestSubmitDuplicateIsAlreadyCheckedIn(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	in := SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     e.currentToken(t, s.ID),
		ActorID:   "student-1",
	}
	if _, err := e.coord.Submit(ctx, in); err != nil {
		t.Fatal(err)
	}
	e.clk.Advance(5 * time.Minute)
	in.Token = e.currentToken(t, s.ID)
	if _, err := e.coord.Submit(ctx, in); !errors.Is(err, ErrAlreadyCheckedIn) {
		t.Fatalf("second submit error = %v, want %v", err, ErrAlreadyCheckedIn)
	}
}

func TestConcurrentSubmissionsCommitExactlyOnce(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()
	tok := e.currentToken(t, s.ID)

	const n = 50
	var success, dup atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := e.coord.Submit(ctx, SubmitInput{
				SessionID: s.ID,
				StudentID: "student-1",
				Method:    MethodQR,
				Token:     tok,
				ActorID:   "student-1",
			})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrAlreadyCheckedIn):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success.Load() != 1 || dup.Load() != n-1 {
		t.Fatalf("got %d successes and %d duplicates, want 1 and %d", success.Load(), dup.Load(), n-1)
	}
	recs, err := e.records.ListBySession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("stored %d records, want 1", len(recs))
	}
}

// hangingDir blocks every lookup until the bounded context expires.
type hangingDir struct {
	calls atomic.Int32
}

func (d *hangingDir) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	d.calls.Add(1)
	<-ctx.Done()
	return false, ctx.Err()
}

func (d *hangingDir) HasTeacherRole(ctx context.Context, userID, courseID string) (bool, error) {
	d.calls.Add(1)
	<-ctx.Done()
	return false, ctx.Err()
}

func TestDependencyTimeoutRetriesOnceThenSurfaces(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()
	tok := e.currentToken(t, s.ID)

	dir := &hangingDir{}
	coord := NewCoordinator(e.sessions, e.records, e.tokens, dir, e.clk, 10*time.Millisecond, time.Millisecond)

	_, err := coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     tok,
		ActorID:   "student-1",
	})
	if !errors.Is(err, ErrDependencyTimeout) {
		t.Fatalf("error = %v, want %v", err, ErrDependencyTimeout)
	}
	if got := dir.calls.Load(); got != 2 {
		t.Fatalf("lookup attempted %d times, want 2 (original + one retry)", got)
	}
}

func TestLocationMismatchIsRemarkedNotRejected(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	s.Location = "Room 204"
	if err := e.sessions.Insert(ctx, s); err != nil {
		t.Fatal(err)
	}

	rec, err := e.coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     e.currentToken(t, s.ID),
		ActorID:   "student-1",
		Location:  "Room 101",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Remark == "" {
		t.Fatal("expected a location mismatch remark")
	}
}

func TestOverrideMarksRecordAndRequiresTeacher(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	if _, err := e.coord.Submit(ctx, SubmitInput{
		SessionID: s.ID,
		StudentID: "student-1",
		Method:    MethodQR,
		Token:     e.currentToken(t, s.ID),
		ActorID:   "student-1",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.coord.Override(ctx, s.ID, "student-1", "student-2", "nope"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("override by non-teacher error = %v, want %v", err, ErrForbidden)
	}

	rec, err := e.coord.Override(ctx, s.ID, "student-1", "teacher-1", "arrived before scan, marked manually")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusManualOverride {
		t.Fatalf("status = %s, want %s", rec.Status, StatusManualOverride)
	}
	if _, err := e.coord.Override(ctx, s.ID, "student-2", "teacher-1", "never checked in"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("override of missing record error = %v, want %v", err, ErrNotFound)
	}
}
