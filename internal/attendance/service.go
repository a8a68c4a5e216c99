// Package attendance implements the record-or-toggle policy that turns a
// recognized student into a presence row.
package attendance

import (
	"context"
	"time"

	"chamada/internal/roster"
)

// Outcome is the result of one toggle invocation.
type Outcome int

const (
	// OutcomeCreated means a presence row was written (or already existed
	// because a concurrent scan won the insert race).
	OutcomeCreated Outcome = iota
	// OutcomeToggled means today's row was retracted: a second high
	// confidence detection of the same student is read as an operator
	// correcting an accidental double scan, not as a re-confirmation.
	OutcomeToggled
	// OutcomeNotFound means the name resolves to no enrolled student.
	OutcomeNotFound
	// OutcomeStoreError means the database failed; the scan itself
	// succeeded, so callers should report this as retryable.
	OutcomeStoreError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeToggled:
		return "toggled"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeStoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// Store is the slice of the roster the engine needs.
type Store interface {
	StudentByName(ctx context.Context, name string) (*roster.Student, error)
	AttendanceOn(ctx context.Context, studentName string, date time.Time) (*roster.Record, error)
	InsertAttendance(ctx context.Context, studentID int64, date, recordedAt time.Time, confidence float64) (roster.Record, error)
	DeleteAttendance(ctx context.Context, recordID int64) error
	MarkAbsent(ctx context.Context, recordID int64) error
	MarkPresent(ctx context.Context, recordID int64, recordedAt time.Time, confidence float64) error
}

// Service coordinates the toggle against the roster store.
type Service struct {
	store      Store
	threshold  float64
	softDelete bool
	now        func() time.Time
}

// NewService creates the engine. threshold is the exclusive confidence
// floor (matches at or below it must not reach RecordOrToggle); softDelete
// selects the present=FALSE toggle variant instead of row deletion.
func NewService(store Store, threshold float64, softDelete bool) *Service {
	if threshold <= 0 {
		threshold = 80
	}
	return &Service{store: store, threshold: threshold, softDelete: softDelete, now: time.Now}
}

// Actionable reports whether a match confidence clears the gate. Exactly
// at the threshold is not enough.
func (s *Service) Actionable(confidence float64) bool {
	return confidence > s.threshold
}

// RecordOrToggle records today's presence for a student, or retracts it if
// one was already recorded today. The returned error carries detail for
// logging whenever the outcome is OutcomeStoreError.
func (s *Service) RecordOrToggle(ctx context.Context, studentName string, confidence float64) (Outcome, error) {
	now := s.now()
	today := dateOf(now)

	rec, err := s.store.AttendanceOn(ctx, studentName, today)
	if err != nil {
		return OutcomeStoreError, err
	}

	if rec != nil {
		if s.softDelete {
			if rec.Present {
				if err := s.store.MarkAbsent(ctx, rec.ID); err != nil {
					return OutcomeStoreError, err
				}
				return OutcomeToggled, nil
			}
			// third scan of the day under soft delete: flip back
			if err := s.store.MarkPresent(ctx, rec.ID, now, confidence); err != nil {
				return OutcomeStoreError, err
			}
			return OutcomeCreated, nil
		}
		if err := s.store.DeleteAttendance(ctx, rec.ID); err != nil {
			return OutcomeStoreError, err
		}
		return OutcomeToggled, nil
	}

	student, err := s.store.StudentByName(ctx, studentName)
	if err != nil {
		return OutcomeStoreError, err
	}
	if student == nil {
		return OutcomeNotFound, nil
	}

	if _, err := s.store.InsertAttendance(ctx, student.ID, today, now, confidence); err != nil {
		if roster.IsUniqueViolation(err) {
			// a concurrent scan recorded it first; the intent is satisfied
			return OutcomeCreated, nil
		}
		return OutcomeStoreError, err
	}
	return OutcomeCreated, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
