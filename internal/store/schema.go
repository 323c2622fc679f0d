package store

import (
	"context"
	"database/sql"
)

// schema is the engine's persisted layout. The unique index on
// (session_id, student_id) is the arbiter of the one-record-per-student
// guarantee; everything queried by session id carries an index.
const schema = `
CREATE TABLE IF NOT EXISTS courses (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	teacher_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS enrollments (
	course_id  TEXT NOT NULL REFERENCES courses(id),
	student_id TEXT NOT NULL,
	UNIQUE (course_id, student_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	course_id           TEXT NOT NULL,
	teacher_id          TEXT NOT NULL,
	start_time          TIMESTAMPTZ NOT NULL,
	end_time            TIMESTAMPTZ NOT NULL,
	late_threshold_secs BIGINT NOT NULL DEFAULT 0,
	location            TEXT NOT NULL DEFAULT '',
	state               TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_sessions_course ON sessions(course_id);
CREATE INDEX IF NOT EXISTS idx_sessions_state_end ON sessions(state, end_time);

CREATE TABLE IF NOT EXISTS checkin_records (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(id),
	student_id    TEXT NOT NULL,
	check_in_time TIMESTAMPTZ NOT NULL,
	method        TEXT NOT NULL,
	status        TEXT NOT NULL,
	remark        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (session_id, student_id)
);
CREATE INDEX IF NOT EXISTS idx_checkins_session ON checkin_records(session_id);
CREATE INDEX IF NOT EXISTS idx_checkins_student ON checkin_records(student_id);

CREATE TABLE IF NOT EXISTS token_history (
	session_id TEXT NOT NULL,
	value      TEXT NOT NULL,
	version    BIGINT NOT NULL,
	issued_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_token_history_session ON token_history(session_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	subject_id  TEXT NOT NULL DEFAULT '',
	actor_id    TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id);
`

// EnsureSchema creates the tables and indexes if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
