package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Entry is a persisted audit event.
type Entry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id"`
	SubjectID  string    `json:"subject_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository persists the audit trail in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends an event to the audit log.
func (r *Repository) Insert(ctx context.Context, e Event) (Entry, error) {
	entry := Entry{
		ID:         uuid.NewString(),
		Kind:       e.Kind,
		SessionID:  e.SessionID,
		SubjectID:  e.SubjectID,
		ActorID:    e.ActorID,
		Detail:     e.Detail,
		OccurredAt: e.OccurredAt,
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (id, kind, session_id, subject_id, actor_id, detail, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, entry.ID, entry.Kind, entry.SessionID, entry.SubjectID, entry.ActorID, entry.Detail, entry.OccurredAt)
	if err := row.Scan(&entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// ListBySession returns a session's audit trail, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, session_id, subject_id, actor_id, detail, occurred_at, created_at
		FROM audit_log WHERE session_id = $1 ORDER BY occurred_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.SessionID, &e.SubjectID, &e.ActorID, &e.Detail, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
