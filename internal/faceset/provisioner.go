// Package faceset lazily provisions the matcher-side identity collection.
package faceset

import (
	"context"
	"log"

	"chamada/internal/facepp"
)

// Matcher is the slice of the Face++ client the provisioner needs.
type Matcher interface {
	FaceSetDetail(ctx context.Context, outerID string) (*facepp.FaceSetDetail, error)
	CreateFaceSet(ctx context.Context, outerID string) error
}

// Provisioner ensures the named FaceSet exists before enroll/search calls.
type Provisioner struct {
	matcher Matcher
}

// NewProvisioner creates a provisioner over a matcher client.
func NewProvisioner(matcher Matcher) *Provisioner {
	return &Provisioner{matcher: matcher}
}

// EnsureExists makes sure the FaceSet named outerID exists. It is
// idempotent and never fails the caller: provisioning races are expected
// under concurrent process start, and the set plausibly already exists
// from a prior run, so anything unexpected is logged and swallowed; the
// caller's own search/addface call will surface a fatal error if the set
// truly is unusable.
func (p *Provisioner) EnsureExists(ctx context.Context, outerID string) {
	_, err := p.matcher.FaceSetDetail(ctx, outerID)
	if err == nil {
		return
	}
	if !facepp.IsKind(err, facepp.KindNotFound) {
		log.Printf("faceset %s: detail check failed: %v", outerID, err)
		return
	}

	if err := p.matcher.CreateFaceSet(ctx, outerID); err != nil {
		if facepp.IsKind(err, facepp.KindAlreadyExists) {
			// another caller won the creation race
			return
		}
		log.Printf("faceset %s: create failed: %v", outerID, err)
		return
	}
	log.Printf("faceset %s created", outerID)
}
