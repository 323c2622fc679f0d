package directory

import (
	"context"
	"database/sql"
)

// Repository answers roster questions from the platform's courses and
// enrollments tables.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// IsEnrolled reports roster membership.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id = $1 AND student_id = $2)
	`, courseID, studentID).Scan(&exists)
	return exists, err
}

// HasTeacherRole reports whether userID owns the course.
func (r *Repository) HasTeacherRole(ctx context.Context, userID, courseID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1 AND teacher_id = $2)
	`, courseID, userID).Scan(&exists)
	return exists, err
}

// EnrolledCount returns the roster size.
func (r *Repository) EnrolledCount(ctx context.Context, courseID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments WHERE course_id = $1
	`, courseID).Scan(&n)
	return n, err
}

// ListEnrolled returns the roster.
func (r *Repository) ListEnrolled(ctx context.Context, courseID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM enrollments WHERE course_id = $1 ORDER BY student_id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}
