// Package enroll registers student faces with the matcher and the roster.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"chamada/internal/facepp"
	"chamada/internal/identity"
	"chamada/internal/roster"
)

// ErrNoFace means the matcher found no usable face in the photo.
var ErrNoFace = errors.New("enroll: no face detected")

// ErrDuplicate means a student with this name or face token already exists.
var ErrDuplicate = errors.New("enroll: student already enrolled")

// Matcher is the slice of the Face++ client enrollment needs.
type Matcher interface {
	Detect(ctx context.Context, image []byte) ([]facepp.Face, error)
	AddFace(ctx context.Context, outerID, faceToken string) error
}

// Store is the slice of the roster enrollment writes to.
type Store interface {
	Enrolled(ctx context.Context, name, faceToken string) (bool, error)
	CreateStudent(ctx context.Context, name, faceToken, turno string) (roster.Student, error)
}

// Provisioner ensures the FaceSet exists before faces are added to it.
type Provisioner interface {
	EnsureExists(ctx context.Context, outerID string)
}

// Service enrolls students from photos.
type Service struct {
	matcher     Matcher
	store       Store
	provisioner Provisioner
	cache       *identity.Cache
	outerID     string
}

// NewService creates an enrollment service bound to one FaceSet.
func NewService(matcher Matcher, store Store, provisioner Provisioner, cache *identity.Cache, outerID string) *Service {
	return &Service{matcher: matcher, store: store, provisioner: provisioner, cache: cache, outerID: outerID}
}

// Result reports one enrollment run. Log keeps one human-readable line per
// photo so the operator can see exactly what happened to each file.
type Result struct {
	RunID    string   `json:"run_id"`
	Enrolled int      `json:"enrolled"`
	Log      []string `json:"log"`
}

// Directory enrolls every photo in dir. The file name (without extension)
// becomes the student's display name. Failures are per-photo: one bad
// image never aborts the batch. The identity cache is merged and persisted
// once at the end of the run.
func (s *Service) Directory(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("photo directory: %w", err)
	}

	if err := s.cache.Load(ctx); err != nil {
		return nil, fmt.Errorf("cache load: %w", err)
	}
	s.provisioner.EnsureExists(ctx, s.outerID)

	result := &Result{RunID: uuid.NewString()}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		image, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			result.Log = append(result.Log, fmt.Sprintf("%s: unreadable: %v", name, err))
			continue
		}
		switch err := s.enroll(ctx, name, "", image); {
		case err == nil:
			result.Enrolled++
			result.Log = append(result.Log, fmt.Sprintf("%s: enrolled", name))
		case errors.Is(err, ErrDuplicate):
			result.Log = append(result.Log, fmt.Sprintf("%s: already enrolled", name))
		default:
			result.Log = append(result.Log, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if err := s.cache.Persist(ctx); err != nil {
		// the roster rows are in; the cache will repopulate next run
		log.Printf("enroll run %s: cache persist failed: %v", result.RunID, err)
	}
	return result, nil
}

// One enrolls a single student from an uploaded photo.
func (s *Service) One(ctx context.Context, name, turno string, image []byte) (*roster.Student, error) {
	if err := s.cache.Load(ctx); err != nil {
		return nil, fmt.Errorf("cache load: %w", err)
	}
	s.provisioner.EnsureExists(ctx, s.outerID)

	student, err := s.enrollStudent(ctx, name, turno, image)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Persist(ctx); err != nil {
		log.Printf("enroll %s: cache persist failed: %v", name, err)
	}
	return student, nil
}

func (s *Service) enroll(ctx context.Context, name, turno string, image []byte) error {
	_, err := s.enrollStudent(ctx, name, turno, image)
	return err
}

func (s *Service) enrollStudent(ctx context.Context, name, turno string, image []byte) (*roster.Student, error) {
	faces, err := s.matcher.Detect(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}
	token := faces[0].Token
	s.cache.Register(token, name)

	enrolled, err := s.store.Enrolled(ctx, name, token)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if enrolled {
		return nil, ErrDuplicate
	}

	student, err := s.store.CreateStudent(ctx, name, token, turno)
	if err != nil {
		if roster.IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create student: %w", err)
	}

	if err := s.matcher.AddFace(ctx, s.outerID, token); err != nil {
		// the student exists and the token is cached; searching will miss
		// them until a later addface succeeds
		log.Printf("enroll %s: addface failed: %v", name, err)
	}
	return &student, nil
}
