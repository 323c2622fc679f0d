package checkin

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-memory record store for dev mode and tests.
// The pair uniqueness check and the insert happen under one lock, giving the
// same atomicity as the Postgres unique index.
type Memory struct {
	mu       sync.Mutex
	records  map[pairKey]Record
	sessions SessionGetter
}

type pairKey struct {
	sessionID string
	studentID string
}

// NewMemory creates an empty in-memory store. sessions resolves a session's
// course for history queries.
func NewMemory(sessions SessionGetter) *Memory {
	return &Memory{records: make(map[pairKey]Record), sessions: sessions}
}

// Insert commits the record unless the pair already has one.
func (m *Memory) Insert(ctx context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{rec.SessionID, rec.StudentID}
	if _, exists := m.records[key]; exists {
		return Record{}, ErrAlreadyCheckedIn
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[key] = rec
	return rec, nil
}

// Get returns the record for a (session, student) pair.
func (m *Memory) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pairKey{sessionID, studentID}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Override sets a record's status to manual_override with the given remark.
func (m *Memory) Override(ctx context.Context, sessionID, studentID, remark string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{sessionID, studentID}
	rec, ok := m.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Status = StatusManualOverride
	rec.Remark = remark
	m.records[key] = rec
	return rec, nil
}

// ListBySession returns all records of a session ordered by check-in time.
func (m *Memory) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Record
	for key, rec := range m.records {
		if key.sessionID == sessionID {
			res = append(res, rec)
		}
	}
	sortByTime(res)
	return res, nil
}

// ListByStudentCourse returns one student's records across a course's
// sessions, ordered by check-in time.
func (m *Memory) ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]Record, error) {
	m.mu.Lock()
	recs := make([]Record, 0, len(m.records))
	for key, rec := range m.records {
		if key.studentID == studentID {
			recs = append(recs, rec)
		}
	}
	m.mu.Unlock()

	var res []Record
	for _, rec := range recs {
		s, err := m.sessions.Get(ctx, rec.SessionID)
		if err != nil {
			return nil, err
		}
		if s.CourseID == courseID {
			res = append(res, rec)
		}
	}
	sortByTime(res)
	return res, nil
}

func sortByTime(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CheckInTime.Before(recs[j].CheckInTime)
	})
}
