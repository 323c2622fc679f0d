package token

import (
	"context"
	"database/sql"
)

// Repository persists issued tokens in the token_history audit table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordIssued appends an issued token to the history.
func (r *Repository) RecordIssued(ctx context.Context, t Token) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_history (session_id, value, version, issued_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)
	`, t.SessionID, t.Value, t.Version, t.IssuedAt, t.ExpiresAt)
	return err
}

// HistoryFor returns all tokens ever issued for a session, oldest first.
func (r *Repository) HistoryFor(ctx context.Context, sessionID string) ([]Token, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, value, version, issued_at, expires_at
		FROM token_history WHERE session_id = $1 ORDER BY version
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.SessionID, &t.Value, &t.Version, &t.IssuedAt, &t.ExpiresAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
