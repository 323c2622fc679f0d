package checkin

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the Postgres error code raised by the
// (session_id, student_id) unique index. The insert maps it to
// ErrAlreadyCheckedIn; the constraint itself is the arbiter under races.
const uniqueViolation = "23505"

// Repository persists check-in records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new record atomically with respect to the pair constraint.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO checkin_records (id, session_id, student_id, check_in_time, method, status, remark)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.StudentID, rec.CheckInTime, string(rec.Method), string(rec.Status), rec.Remark)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Record{}, ErrAlreadyCheckedIn
		}
		return Record{}, err
	}
	return rec, nil
}

// Get returns the record for a (session, student) pair.
func (r *Repository) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, check_in_time, method, status, remark, created_at
		FROM checkin_records WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	return scanRecord(row)
}

// Override sets a record's status to manual_override with the given remark.
func (r *Repository) Override(ctx context.Context, sessionID, studentID, remark string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE checkin_records SET status = $3, remark = $4
		WHERE session_id = $1 AND student_id = $2
		RETURNING id, session_id, student_id, check_in_time, method, status, remark, created_at
	`, sessionID, studentID, string(StatusManualOverride), remark)
	return scanRecord(row)
}

// ListBySession returns all records of a session ordered by check-in time.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, check_in_time, method, status, remark, created_at
		FROM checkin_records WHERE session_id = $1 ORDER BY check_in_time
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ListByStudentCourse returns one student's records across a course's
// sessions, ordered by check-in time.
func (r *Repository) ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.student_id, c.check_in_time, c.method, c.status, c.remark, c.created_at
		FROM checkin_records c
		JOIN sessions s ON s.id = c.session_id
		WHERE c.student_id = $1 AND s.course_id = $2
		ORDER BY c.check_in_time
	`, studentID, courseID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var method, status string
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.CheckInTime, &method, &status, &rec.Remark, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.Method = Method(method)
	rec.Status = Status(status)
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
