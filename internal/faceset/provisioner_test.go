package faceset

import (
	"context"
	"testing"

	"chamada/internal/facepp"
)

type fakeMatcher struct {
	detailErr error
	createErr error

	detailCalls int
	createCalls int
}

func (m *fakeMatcher) FaceSetDetail(_ context.Context, outerID string) (*facepp.FaceSetDetail, error) {
	m.detailCalls++
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	return &facepp.FaceSetDetail{OuterID: outerID, FaceCount: 3}, nil
}

func (m *fakeMatcher) CreateFaceSet(context.Context, string) error {
	m.createCalls++
	return m.createErr
}

func TestEnsureExists(t *testing.T) {
	notFound := &facepp.APIError{Endpoint: "/faceset/getdetail", Status: 400, Message: "FACESET_NOT_FOUND", Kind: facepp.KindNotFound}
	exists := &facepp.APIError{Endpoint: "/faceset/create", Status: 400, Message: "FACESET_EXIST", Kind: facepp.KindAlreadyExists}
	authFail := &facepp.APIError{Endpoint: "/faceset/getdetail", Status: 401, Message: "AUTHENTICATION_ERROR", Kind: facepp.KindAuth}
	createFail := &facepp.APIError{Endpoint: "/faceset/create", Status: 403, Message: "CONCURRENCY_LIMIT_EXCEEDED", Kind: facepp.KindRateLimited}

	tests := []struct {
		name            string
		matcher         *fakeMatcher
		wantCreateCalls int
	}{
		{"set already present", &fakeMatcher{}, 0},
		{"missing set gets created", &fakeMatcher{detailErr: notFound}, 1},
		{"creation race is swallowed", &fakeMatcher{detailErr: notFound, createErr: exists}, 1},
		{"detail failure does not create", &fakeMatcher{detailErr: authFail}, 0},
		{"create failure is swallowed", &fakeMatcher{detailErr: notFound, createErr: createFail}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvisioner(tt.matcher)
			p.EnsureExists(context.Background(), "ChamadaAlunos")

			if tt.matcher.detailCalls != 1 {
				t.Errorf("detail calls = %d, want 1", tt.matcher.detailCalls)
			}
			if tt.matcher.createCalls != tt.wantCreateCalls {
				t.Errorf("create calls = %d, want %d", tt.matcher.createCalls, tt.wantCreateCalls)
			}
		})
	}
}

func TestEnsureExists_Idempotent(t *testing.T) {
	m := &fakeMatcher{}
	p := NewProvisioner(m)

	for i := 0; i < 3; i++ {
		p.EnsureExists(context.Background(), "ChamadaAlunos")
	}
	if m.createCalls != 0 {
		t.Errorf("create calls = %d, want 0 for an existing set", m.createCalls)
	}
}
