package facepp

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a matcher failure so callers never have to inspect the
// raw error_message string. All substring sniffing lives in this file.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound covers a FaceSet (or face) the matcher does not know.
	KindNotFound
	// KindAlreadyExists covers creation races on an existing FaceSet.
	KindAlreadyExists
	// KindAuth covers rejected credentials.
	KindAuth
	// KindRateLimited covers concurrency/quota rejections.
	KindRateLimited
	// KindInvalid covers malformed requests and unusable image payloads.
	KindInvalid
	// KindUnavailable covers transport failures and non-JSON responses.
	KindUnavailable
)

// APIError is a failure reported by (or while reaching) the matcher.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
	Kind     Kind
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("facepp %s: HTTP %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("facepp %s: %s", e.Endpoint, e.Message)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// classify maps Face++ error_message codes to a Kind. The API reports
// errors as upper-snake codes, sometimes with a parenthesised argument
// name appended (e.g. "MISSING_ARGUMENTS: image_file").
func classify(status int, message string) Kind {
	msg := strings.ToUpper(message)
	switch {
	case strings.Contains(msg, "FACESET_NOT_FOUND"),
		strings.Contains(msg, "INVALID_OUTER_ID"),
		strings.Contains(msg, "INVALID_FACE_TOKEN"):
		return KindNotFound
	case strings.Contains(msg, "FACESET_EXIST"):
		return KindAlreadyExists
	case strings.Contains(msg, "AUTHENTICATION_ERROR"),
		strings.Contains(msg, "AUTHORIZATION_ERROR"):
		return KindAuth
	case strings.Contains(msg, "CONCURRENCY_LIMIT_EXCEEDED"),
		strings.Contains(msg, "TOO MANY REQUESTS"):
		return KindRateLimited
	case strings.Contains(msg, "IMAGE_ERROR"),
		strings.Contains(msg, "INVALID_IMAGE"),
		strings.Contains(msg, "IMAGE_FILE_TOO_LARGE"),
		strings.Contains(msg, "MISSING_ARGUMENTS"),
		strings.Contains(msg, "BAD_ARGUMENTS"):
		return KindInvalid
	case status >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}
