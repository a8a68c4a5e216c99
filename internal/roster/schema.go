package roster

import "context"

// schema is applied idempotently at startup. The UNIQUE(student_id, date)
// constraint is the only concurrency-safety mechanism for racing scans and
// must live in the store, not in application logic.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id SERIAL PRIMARY KEY,
		name VARCHAR(100) UNIQUE NOT NULL,
		face_token VARCHAR(255) UNIQUE NOT NULL,
		enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		guardian_email TEXT,
		turno VARCHAR(20) NOT NULL DEFAULT ''
	)`,
	// older deployments predate these columns
	`ALTER TABLE students ADD COLUMN IF NOT EXISTS guardian_email TEXT`,
	`ALTER TABLE students ADD COLUMN IF NOT EXISTS turno VARCHAR(20) NOT NULL DEFAULT ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS students_name_key ON students (name)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id SERIAL PRIMARY KEY,
		student_id INTEGER NOT NULL REFERENCES students(id),
		date DATE NOT NULL DEFAULT CURRENT_DATE,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		present BOOLEAN NOT NULL DEFAULT TRUE,
		confidence DECIMAL(5,2),
		UNIQUE (student_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		device_id VARCHAR(100) PRIMARY KEY,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates or adjusts the tables.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
