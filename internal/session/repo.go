package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, course_id, teacher_id, start_time, end_time, late_threshold_secs, location, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.CourseID, s.TeacherID, s.StartTime, s.EndTime, int64(s.LateThreshold.Seconds()), s.Location, string(s.State), s.CreatedAt)
	return err
}

// Get returns a session by id.
func (r *Repository) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, course_id, teacher_id, start_time, end_time, late_threshold_secs, location, state, created_at
		FROM sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

// TransitionState performs the compare-and-set lifecycle transition. The
// affected-rows count is the arbiter: zero rows means another caller already
// moved the session out of the from state.
func (r *Repository) TransitionState(ctx context.Context, id string, from, to State) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET state = $3 WHERE id = $1 AND state = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListDue returns Active sessions whose end time has passed.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, teacher_id, start_time, end_time, late_threshold_secs, location, state, created_at
		FROM sessions WHERE state = $1 AND end_time <= $2
	`, string(Active), now)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListActive returns all Active sessions.
func (r *Repository) ListActive(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, teacher_id, start_time, end_time, late_threshold_secs, location, state, created_at
		FROM sessions WHERE state = $1
	`, string(Active))
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var thresholdSecs int64
	var state string
	if err := row.Scan(&s.ID, &s.CourseID, &s.TeacherID, &s.StartTime, &s.EndTime, &thresholdSecs, &s.Location, &state, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.LateThreshold = time.Duration(thresholdSecs) * time.Second
	s.State = State(state)
	return s, nil
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
