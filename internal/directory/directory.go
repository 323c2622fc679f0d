package directory

import (
	"context"
	"sync"
)

// Directory is the boundary to the external identity and roster collaborator.
// The engine never mutates roster data; it only asks membership and role
// questions and, for reporting, how many students a course has.
type Directory interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	HasTeacherRole(ctx context.Context, userID, courseID string) (bool, error)
	EnrolledCount(ctx context.Context, courseID string) (int, error)
	ListEnrolled(ctx context.Context, courseID string) ([]string, error)
}

// Static is an in-memory directory for dev mode and tests.
type Static struct {
	mu       sync.RWMutex
	teachers map[string]map[string]bool // courseID -> userID
	students map[string][]string        // courseID -> student ids, insertion order
}

// NewStatic creates an empty static directory.
func NewStatic() *Static {
	return &Static{
		teachers: make(map[string]map[string]bool),
		students: make(map[string][]string),
	}
}

// AddTeacher grants userID teacher rights on courseID.
func (d *Static) AddTeacher(courseID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.teachers[courseID] == nil {
		d.teachers[courseID] = make(map[string]bool)
	}
	d.teachers[courseID][userID] = true
}

// Enroll adds studentID to courseID's roster.
func (d *Static) Enroll(courseID, studentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.students[courseID] {
		if id == studentID {
			return
		}
	}
	d.students[courseID] = append(d.students[courseID], studentID)
}

// IsEnrolled reports roster membership.
func (d *Static) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.students[courseID] {
		if id == studentID {
			return true, nil
		}
	}
	return false, nil
}

// HasTeacherRole reports course ownership.
func (d *Static) HasTeacherRole(ctx context.Context, userID, courseID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.teachers[courseID][userID], nil
}

// EnrolledCount returns the roster size.
func (d *Static) EnrolledCount(ctx context.Context, courseID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.students[courseID]), nil
}

// ListEnrolled returns the roster.
func (d *Static) ListEnrolled(ctx context.Context, courseID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.students[courseID]...), nil
}
