// Package roster is the relational source of truth for enrolled students
// and their attendance history.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Student is an enrolled person. GuardianEmail is nil until a guardian
// address is registered.
type Student struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FaceToken     string    `json:"face_token"`
	EnrolledAt    time.Time `json:"enrolled_at"`
	GuardianEmail *string   `json:"guardian_email,omitempty"`
	Turno         string    `json:"turno"`
}

// Record is one calendar-day presence fact. While a row exists its Present
// flag is true under the default toggle policy; absence is the absence of
// a row.
type Record struct {
	ID          int64     `json:"id"`
	StudentID   int64     `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	Date        time.Time `json:"date"`
	RecordedAt  time.Time `json:"recorded_at"`
	Present     bool      `json:"present"`
	Confidence  float64   `json:"confidence"`
}

// Absentee is a student owed a notification for a given date.
type Absentee struct {
	Name          string
	GuardianEmail string
	Turno         string
}

// Summary is the per-day headcount shown on the admin panel.
type Summary struct {
	Total   int `json:"total"`
	Present int `json:"present"`
}

// Repository persists roster data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. Two concurrent scans racing on the (student, date) constraint
// land here; callers treat it as "someone else just recorded it".
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateStudent enrolls a student. The face token is immutable once
// assigned; a duplicate name or token surfaces as a unique violation.
func (r *Repository) CreateStudent(ctx context.Context, name, faceToken, turno string) (Student, error) {
	var s Student
	s.Name = name
	s.FaceToken = faceToken
	s.Turno = turno
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (name, face_token, turno)
		VALUES ($1, $2, $3)
		RETURNING id, enrolled_at
	`, name, faceToken, turno)
	if err := row.Scan(&s.ID, &s.EnrolledAt); err != nil {
		return Student{}, err
	}
	return s, nil
}

// StudentByName returns the student with the given display name, or nil.
func (r *Repository) StudentByName(ctx context.Context, name string) (*Student, error) {
	return r.studentWhere(ctx, `name = $1`, name)
}

// StudentByToken returns the student enrolled under a face token, or nil.
func (r *Repository) StudentByToken(ctx context.Context, token string) (*Student, error) {
	return r.studentWhere(ctx, `face_token = $1`, token)
}

func (r *Repository) studentWhere(ctx context.Context, clause string, arg any) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, face_token, enrolled_at, guardian_email, turno
		FROM students WHERE `+clause, arg)
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.FaceToken, &s.EnrolledAt, &s.GuardianEmail, &s.Turno); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Enrolled reports whether a student with this name or token already
// exists, so enrollment runs can skip duplicates.
func (r *Repository) Enrolled(ctx context.Context, name, faceToken string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM students WHERE name = $1 OR face_token = $2)
	`, name, faceToken)
	var exists bool
	return exists, row.Scan(&exists)
}

// ListStudents returns all students in name order.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, face_token, enrolled_at, guardian_email, turno
		FROM students ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.FaceToken, &s.EnrolledAt, &s.GuardianEmail, &s.Turno); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// UpdateGuardianEmail sets the guardian address for a student.
func (r *Repository) UpdateGuardianEmail(ctx context.Context, studentID int64, email string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET guardian_email = $2 WHERE id = $1
	`, studentID, email)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AttendanceOn returns the attendance record for a student (joined by
// display name) on a calendar date, or nil when none exists.
func (r *Repository) AttendanceOn(ctx context.Context, studentName string, date time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT p.id, p.student_id, p.date, p.recorded_at, p.present, p.confidence
		FROM attendance p
		JOIN students a ON p.student_id = a.id
		WHERE a.name = $1 AND p.date = $2
	`, studentName, date)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.Date, &rec.RecordedAt, &rec.Present, &rec.Confidence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.StudentName = studentName
	return &rec, nil
}

// InsertAttendance writes a new presence row. The UNIQUE(student_id, date)
// constraint makes double inserts for the same day fail with a unique
// violation, which IsUniqueViolation identifies.
func (r *Repository) InsertAttendance(ctx context.Context, studentID int64, date, recordedAt time.Time, confidence float64) (Record, error) {
	rec := Record{StudentID: studentID, Date: date, RecordedAt: recordedAt, Present: true, Confidence: confidence}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, date, recorded_at, present, confidence)
		VALUES ($1, $2, $3, TRUE, $4)
		RETURNING id
	`, studentID, date, recordedAt, confidence)
	if err := row.Scan(&rec.ID); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// DeleteAttendance removes a presence row outright (the default toggle
// policy: absence is represented by the absence of a row).
func (r *Repository) DeleteAttendance(ctx context.Context, recordID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM attendance WHERE id = $1`, recordID)
	return err
}

// MarkAbsent flips a presence row to present=FALSE, the soft-delete toggle
// variant that keeps the original detection on record.
func (r *Repository) MarkAbsent(ctx context.Context, recordID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE attendance SET present = FALSE WHERE id = $1`, recordID)
	return err
}

// MarkPresent flips a soft-deleted row back to present, recording the new
// scan's time and confidence.
func (r *Repository) MarkPresent(ctx context.Context, recordID int64, recordedAt time.Time, confidence float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance SET present = TRUE, recorded_at = $2, confidence = $3 WHERE id = $1
	`, recordID, recordedAt, confidence)
	return err
}

// ListAttendance returns the presence records for one calendar date, most
// recent scan first.
func (r *Repository) ListAttendance(ctx context.Context, date time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.student_id, a.name, p.date, p.recorded_at, p.present, p.confidence
		FROM attendance p
		JOIN students a ON p.student_id = a.id
		WHERE p.date = $1 AND p.present = TRUE
		ORDER BY p.recorded_at DESC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.Date, &rec.RecordedAt, &rec.Present, &rec.Confidence); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DailySummary returns the headcount for one date.
func (r *Repository) DailySummary(ctx context.Context, date time.Time) (Summary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT a.id),
		       COUNT(CASE WHEN p.present = TRUE THEN 1 END)
		FROM students a
		LEFT JOIN attendance p ON a.id = p.student_id AND p.date = $1
	`, date)
	var s Summary
	return s, row.Scan(&s.Total, &s.Present)
}

// AbsentStudents returns students with a guardian email and no present
// record for the date, in name order. The present=FALSE branch exists for
// the soft-delete toggle variant and any other writer of false flags.
func (r *Repository) AbsentStudents(ctx context.Context, date time.Time, turno string) ([]Absentee, error) {
	query := `
		SELECT a.name, a.guardian_email, a.turno
		FROM students a
		LEFT JOIN attendance p
		       ON p.student_id = a.id AND p.date = $1
		WHERE (p.id IS NULL OR p.present = FALSE)
		  AND a.guardian_email IS NOT NULL
		  AND a.guardian_email <> ''`
	args := []any{date}
	if turno != "" {
		query += ` AND a.turno = $2`
		args = append(args, turno)
	}
	query += ` ORDER BY a.name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var absentees []Absentee
	for rows.Next() {
		var ab Absentee
		if err := rows.Scan(&ab.Name, &ab.GuardianEmail, &ab.Turno); err != nil {
			return nil, err
		}
		absentees = append(absentees, ab)
	}
	return absentees, rows.Err()
}

// UpsertDevice ensures a scanning kiosk record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}
