package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"chamada/internal/roster"
)

// fakeStore emulates the roster tables, including the unique
// (student, date) constraint.
type fakeStore struct {
	students map[string]*roster.Student
	records  map[int64]*roster.Record // keyed by student id, one per day
	nextID   int64

	lookupErr error
	insertErr error
	// raceInsert makes the existence check miss while the insert still
	// collides, emulating a concurrent scan winning the race.
	raceInsert bool
}

func newFakeStore(names ...string) *fakeStore {
	s := &fakeStore{students: map[string]*roster.Student{}, records: map[int64]*roster.Record{}}
	for i, name := range names {
		s.students[name] = &roster.Student{ID: int64(i + 1), Name: name}
	}
	return s
}

func (s *fakeStore) StudentByName(_ context.Context, name string) (*roster.Student, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.students[name], nil
}

func (s *fakeStore) AttendanceOn(_ context.Context, name string, _ time.Time) (*roster.Record, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if s.raceInsert {
		return nil, nil
	}
	student := s.students[name]
	if student == nil {
		return nil, nil
	}
	if rec, ok := s.records[student.ID]; ok {
		return rec, nil
	}
	return nil, nil
}

func (s *fakeStore) InsertAttendance(_ context.Context, studentID int64, date, recordedAt time.Time, confidence float64) (roster.Record, error) {
	if s.insertErr != nil {
		return roster.Record{}, s.insertErr
	}
	if _, ok := s.records[studentID]; ok || s.raceInsert {
		return roster.Record{}, &pgconn.PgError{Code: "23505"}
	}
	s.nextID++
	rec := &roster.Record{ID: s.nextID, StudentID: studentID, Date: date, RecordedAt: recordedAt, Present: true, Confidence: confidence}
	s.records[studentID] = rec
	return *rec, nil
}

func (s *fakeStore) DeleteAttendance(_ context.Context, recordID int64) error {
	for id, rec := range s.records {
		if rec.ID == recordID {
			delete(s.records, id)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) MarkAbsent(_ context.Context, recordID int64) error {
	for _, rec := range s.records {
		if rec.ID == recordID {
			rec.Present = false
			return nil
		}
	}
	return nil
}

func (s *fakeStore) MarkPresent(_ context.Context, recordID int64, recordedAt time.Time, confidence float64) error {
	for _, rec := range s.records {
		if rec.ID == recordID {
			rec.Present = true
			rec.RecordedAt = recordedAt
			rec.Confidence = confidence
			return nil
		}
	}
	return nil
}

func TestRecordOrToggle_Cycle(t *testing.T) {
	store := newFakeStore("Ana")
	svc := NewService(store, 80, false)

	// first scan records presence
	outcome, err := svc.RecordOrToggle(context.Background(), "Ana", 92.5)
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("first scan: outcome = %v, err = %v, want created", outcome, err)
	}
	if len(store.records) != 1 {
		t.Fatalf("after first scan: %d rows, want 1", len(store.records))
	}

	// second scan the same day retracts it
	outcome, err = svc.RecordOrToggle(context.Background(), "Ana", 92.5)
	if err != nil || outcome != OutcomeToggled {
		t.Fatalf("second scan: outcome = %v, err = %v, want toggled", outcome, err)
	}
	if len(store.records) != 0 {
		t.Fatalf("after toggle: %d rows, want 0", len(store.records))
	}

	// third scan recreates it
	outcome, err = svc.RecordOrToggle(context.Background(), "Ana", 88.0)
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("third scan: outcome = %v, err = %v, want created", outcome, err)
	}
	if len(store.records) != 1 {
		t.Fatalf("after third scan: %d rows, want 1", len(store.records))
	}
}

func TestRecordOrToggle_UnknownStudent(t *testing.T) {
	store := newFakeStore("Ana")
	svc := NewService(store, 80, false)

	outcome, err := svc.RecordOrToggle(context.Background(), "Bruno", 95)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeNotFound {
		t.Fatalf("outcome = %v, want not_found", outcome)
	}
	if len(store.records) != 0 {
		t.Fatalf("unknown student wrote %d rows, want 0", len(store.records))
	}
}

func TestRecordOrToggle_StoreError(t *testing.T) {
	store := newFakeStore("Ana")
	store.lookupErr = errors.New("connection refused")
	svc := NewService(store, 80, false)

	outcome, err := svc.RecordOrToggle(context.Background(), "Ana", 95)
	if outcome != OutcomeStoreError {
		t.Fatalf("outcome = %v, want store_error", outcome)
	}
	if err == nil {
		t.Fatal("store_error outcome must carry the error")
	}
}

func TestRecordOrToggle_InsertRace(t *testing.T) {
	// a concurrent scan inserted between our existence check and our
	// insert; the constraint violation counts as created
	store := newFakeStore("Ana")
	store.raceInsert = true
	svc := NewService(store, 80, false)

	outcome, err := svc.RecordOrToggle(context.Background(), "Ana", 91)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("outcome = %v, want created", outcome)
	}
}

func TestRecordOrToggle_SoftDelete(t *testing.T) {
	store := newFakeStore("Ana")
	svc := NewService(store, 80, true)

	if outcome, _ := svc.RecordOrToggle(context.Background(), "Ana", 90); outcome != OutcomeCreated {
		t.Fatalf("first scan: outcome = %v, want created", outcome)
	}
	if outcome, _ := svc.RecordOrToggle(context.Background(), "Ana", 90); outcome != OutcomeToggled {
		t.Fatalf("second scan: outcome = %v, want toggled", outcome)
	}
	// the row survives with present=false
	rec := store.records[1]
	if rec == nil || rec.Present {
		t.Fatalf("after soft toggle: record = %+v, want present=false row", rec)
	}
	// third scan flips it back instead of inserting
	if outcome, _ := svc.RecordOrToggle(context.Background(), "Ana", 93); outcome != OutcomeCreated {
		t.Fatalf("third scan: outcome = %v, want created", outcome)
	}
	if rec := store.records[1]; rec == nil || !rec.Present || rec.Confidence != 93 {
		t.Fatalf("after flip back: record = %+v, want present=true confidence=93", rec)
	}
	if len(store.records) != 1 {
		t.Fatalf("soft delete created %d rows, want 1", len(store.records))
	}
}

func TestActionable(t *testing.T) {
	svc := NewService(newFakeStore(), 80, false)

	tests := []struct {
		name       string
		confidence float64
		want       bool
	}{
		{"well above threshold", 92.5, true},
		{"just above threshold", 80.1, true},
		{"exactly at threshold", 80, false},
		{"below threshold", 79.9, false},
		{"zero", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.Actionable(tt.confidence); got != tt.want {
				t.Errorf("Actionable(%v) = %v, want %v", tt.confidence, got, tt.want)
			}
		})
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeCreated, "created"},
		{OutcomeToggled, "toggled"},
		{OutcomeNotFound, "not_found"},
		{OutcomeStoreError, "store_error"},
		{Outcome(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}
