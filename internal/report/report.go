package report

import (
	"context"
	"errors"

	"classtrack/internal/checkin"
	"classtrack/internal/session"
)

// ErrSessionNotClosed rejects absence queries for sessions still open:
// absence is undetermined until the window has closed.
var ErrSessionNotClosed = errors.New("session is not closed yet")

// Rate is the attendance rollup for one closed session.
type Rate struct {
	SessionID     string `json:"session_id"`
	Present       int    `json:"present"`
	Late          int    `json:"late"`
	Absent        int    `json:"absent"`
	TotalEnrolled int    `json:"total_enrolled"`
}

// SessionGetter reads session state.
type SessionGetter interface {
	Get(ctx context.Context, id string) (session.Session, error)
}

// RecordReader reads committed check-in records.
type RecordReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]checkin.Record, error)
	ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]checkin.Record, error)
}

// Roster is the read side of the directory boundary.
type Roster interface {
	EnrolledCount(ctx context.Context, courseID string) (int, error)
	ListEnrolled(ctx context.Context, courseID string) ([]string, error)
}

// Service computes read-only rollups over committed records. Absence is
// always derived at read time from the current roster, never persisted, so
// roster changes after the fact cannot drift out of sync with stored rows.
type Service struct {
	sessions SessionGetter
	records  RecordReader
	roster   Roster
}

// NewService creates an aggregator.
func NewService(sessions SessionGetter, records RecordReader, roster Roster) *Service {
	return &Service{sessions: sessions, records: records, roster: roster}
}

// Rate returns present/late/absent counts for a Closed session.
func (s *Service) Rate(ctx context.Context, sessionID string) (Rate, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Rate{}, err
	}
	if sess.State != session.Closed {
		return Rate{}, ErrSessionNotClosed
	}
	recs, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return Rate{}, err
	}
	total, err := s.roster.EnrolledCount(ctx, sess.CourseID)
	if err != nil {
		return Rate{}, err
	}
	rate := Rate{SessionID: sessionID, TotalEnrolled: total}
	for _, rec := range recs {
		if rec.Status == checkin.StatusLate {
			rate.Late++
		} else {
			rate.Present++
		}
	}
	if absent := total - len(recs); absent > 0 {
		rate.Absent = absent
	}
	return rate, nil
}

// Absentees lists enrolled students with no record for a Closed session.
func (s *Service) Absentees(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != session.Closed {
		return nil, ErrSessionNotClosed
	}
	recs, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]bool, len(recs))
	for _, rec := range recs {
		recorded[rec.StudentID] = true
	}
	enrolled, err := s.roster.ListEnrolled(ctx, sess.CourseID)
	if err != nil {
		return nil, err
	}
	var absent []string
	for _, id := range enrolled {
		if !recorded[id] {
			absent = append(absent, id)
		}
	}
	return absent, nil
}

// HistoryFor returns one student's records across a course, ordered by
// check-in time.
func (s *Service) HistoryFor(ctx context.Context, studentID, courseID string) ([]checkin.Record, error) {
	return s.records.ListByStudentCourse(ctx, studentID, courseID)
}
