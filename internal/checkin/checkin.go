package checkin

import (
	"context"
	"errors"
	"time"
)

// Method is how a check-in was produced.
type Method string

const (
	MethodQR     Method = "qr"
	MethodManual Method = "manual"
)

// Status is the attendance label on a committed record.
type Status string

const (
	StatusOnTime         Status = "on_time"
	StatusLate           Status = "late"
	StatusEarlyLeave     Status = "early_leave"
	StatusManualOverride Status = "manual_override"
)

// Record is the durable proof that a student checked in. The pair
// (SessionID, StudentID) is unique; the store enforces it atomically.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id"`
	CheckInTime time.Time `json:"check_in_time"`
	Method      Method    `json:"method"`
	Status      Status    `json:"status"`
	Remark      string    `json:"remark,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

var (
	ErrSessionNotActive  = errors.New("session is not active")
	ErrInvalidToken      = errors.New("check-in code is invalid or expired")
	ErrNotEnrolled       = errors.New("student is not enrolled in this course")
	ErrAlreadyCheckedIn  = errors.New("student already checked in for this session")
	ErrForbidden         = errors.New("caller lacks teacher rights on this session")
	ErrDependencyTimeout = errors.New("dependency lookup timed out")
	ErrNotFound          = errors.New("check-in record not found")
)

// RecordStore persists check-in records. Insert must be atomic with respect
// to the (session, student) uniqueness constraint and return
// ErrAlreadyCheckedIn when another record for the pair already exists.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, sessionID, studentID string) (Record, error)
	Override(ctx context.Context, sessionID, studentID string, remark string) (Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
	ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]Record, error)
}
