package facepp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return New(srv.URL, "key", "secret", 5*time.Second), srv
}

func TestSearch_ParsesResults(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s, want /search", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not a multipart request: %v", err)
		}
		if got := r.FormValue("outer_id"); got != "ChamadaAlunos" {
			t.Errorf("outer_id = %q", got)
		}
		if got := r.FormValue("api_key"); got != "key" {
			t.Errorf("api_key = %q", got)
		}
		if _, _, err := r.FormFile("image_file"); err != nil {
			t.Errorf("missing image_file part: %v", err)
		}
		w.Write([]byte(`{"results":[{"face_token":"tok-aaa","confidence":93.2}]}`))
	})
	defer srv.Close()

	res, err := client.Search(context.Background(), "ChamadaAlunos", []byte("jpegbytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(res.Results))
	}
	if res.Results[0].Token != "tok-aaa" || res.Results[0].Confidence != 93.2 {
		t.Errorf("best match = %+v", res.Results[0])
	}
}

func TestSearch_EmptyResultsIsNotAnError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})
	defer srv.Close()

	res, err := client.Search(context.Background(), "ChamadaAlunos", []byte("jpeg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("got %d results, want 0", len(res.Results))
	}
}

func TestDo_ErrorBodyOn4xx(t *testing.T) {
	// the matcher puts error_message in 4xx bodies; the body must be read
	// before the status is judged
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_message":"FACESET_NOT_FOUND"}`))
	})
	defer srv.Close()

	_, err := client.FaceSetDetail(context.Background(), "ChamadaAlunos")
	if !IsKind(err, KindNotFound) {
		t.Fatalf("err = %v, want KindNotFound", err)
	}
}

func TestDo_NonJSONBody(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>upstream error</html>"))
	})
	defer srv.Close()

	_, err := client.Detect(context.Background(), []byte("jpeg"))
	if !IsKind(err, KindUnavailable) {
		t.Fatalf("err = %v, want KindUnavailable", err)
	}
}

func TestDo_ConnectionRefused(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	srv.Close() // refuse further connections

	_, err := client.Detect(context.Background(), []byte("jpeg"))
	if !IsKind(err, KindUnavailable) {
		t.Fatalf("err = %v, want KindUnavailable", err)
	}
}

func TestCreateFaceSet_Exists(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostFormValue("outer_id"); got != "ChamadaAlunos" {
			t.Errorf("outer_id = %q", got)
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_message":"FACESET_EXIST"}`))
	})
	defer srv.Close()

	err := client.CreateFaceSet(context.Background(), "ChamadaAlunos")
	if !IsKind(err, KindAlreadyExists) {
		t.Fatalf("err = %v, want KindAlreadyExists", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    Kind
	}{
		{"faceset missing", 400, "FACESET_NOT_FOUND", KindNotFound},
		{"invalid outer id", 400, "INVALID_OUTER_ID: outer_id", KindNotFound},
		{"faceset exists", 400, "FACESET_EXIST", KindAlreadyExists},
		{"bad credentials", 401, "AUTHENTICATION_ERROR", KindAuth},
		{"concurrency limit", 403, "CONCURRENCY_LIMIT_EXCEEDED", KindRateLimited},
		{"missing argument", 400, "MISSING_ARGUMENTS: image_file", KindInvalid},
		{"unreadable image", 400, "IMAGE_ERROR_UNSUPPORTED_FORMAT: image_file", KindInvalid},
		{"server error no message", 500, "", KindUnavailable},
		{"unrecognized code", 400, "SOMETHING_NEW", KindUnknown},
		{"lower case code still matches", 400, "faceset_not_found", KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.status, tt.message); got != tt.want {
				t.Errorf("classify(%d, %q) = %v, want %v", tt.status, tt.message, got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := &APIError{Endpoint: "/search", Kind: KindInvalid}
	if !IsKind(err, KindInvalid) {
		t.Error("IsKind missed a matching APIError")
	}
	if IsKind(err, KindNotFound) {
		t.Error("IsKind matched the wrong kind")
	}
	if IsKind(nil, KindInvalid) {
		t.Error("IsKind matched nil")
	}
}
