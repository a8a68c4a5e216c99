// Package facepp is a thin client for the Face++ v3 detection API. It is
// the only place that understands the matcher's wire format; everything
// above it works with Face values and error Kinds.
package facepp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Face is one detected or matched face.
type Face struct {
	Token      string  `json:"face_token"`
	Confidence float64 `json:"confidence"`
}

// SearchResult holds the matches for one searched frame. Results is empty
// when the frame contained no recognizable face; that is a normal outcome,
// not an error.
type SearchResult struct {
	Results []Face
}

// FaceSetDetail describes an existing FaceSet.
type FaceSetDetail struct {
	OuterID   string
	FaceCount int
}

// Client calls the Face++ HTTP API.
type Client struct {
	endpoint  string
	apiKey    string
	apiSecret string
	http      *http.Client
}

// New creates a client. The timeout bounds every call; the matcher is slow
// on large frames so 20s is the working default.
func New(endpoint, apiKey, apiSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		endpoint:  strings.TrimRight(endpoint, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: timeout},
	}
}

// Detect finds faces in an image and returns their tokens.
func (c *Client) Detect(ctx context.Context, image []byte) ([]Face, error) {
	var out struct {
		Faces []Face `json:"faces"`
	}
	if err := c.postImage(ctx, "/detect", nil, image, &out); err != nil {
		return nil, err
	}
	return out.Faces, nil
}

// Search matches an image against the named FaceSet. The first result, when
// present, carries the best candidate token and its confidence (0-100).
func (c *Client) Search(ctx context.Context, outerID string, image []byte) (*SearchResult, error) {
	var out struct {
		Results []Face `json:"results"`
	}
	fields := url.Values{"outer_id": {outerID}}
	if err := c.postImage(ctx, "/search", fields, image, &out); err != nil {
		return nil, err
	}
	return &SearchResult{Results: out.Results}, nil
}

// FaceSetDetail queries the named FaceSet. A missing set surfaces as an
// APIError with KindNotFound.
func (c *Client) FaceSetDetail(ctx context.Context, outerID string) (*FaceSetDetail, error) {
	var out struct {
		OuterID   string `json:"outer_id"`
		FaceCount int    `json:"face_count"`
	}
	fields := url.Values{"outer_id": {outerID}}
	if err := c.postForm(ctx, "/faceset/getdetail", fields, &out); err != nil {
		return nil, err
	}
	return &FaceSetDetail{OuterID: out.OuterID, FaceCount: out.FaceCount}, nil
}

// CreateFaceSet creates the named FaceSet. Creating a set that already
// exists surfaces as KindAlreadyExists.
func (c *Client) CreateFaceSet(ctx context.Context, outerID string) error {
	fields := url.Values{
		"outer_id":     {outerID},
		"display_name": {outerID},
		"tag":          {"chamada"},
	}
	return c.postForm(ctx, "/faceset/create", fields, &struct{}{})
}

// AddFace adds an enrolled face token to the named FaceSet.
func (c *Client) AddFace(ctx context.Context, outerID, faceToken string) error {
	fields := url.Values{
		"outer_id":    {outerID},
		"face_tokens": {faceToken},
	}
	return c.postForm(ctx, "/faceset/addface", fields, &struct{}{})
}

// postForm sends a urlencoded POST with credentials attached.
func (c *Client) postForm(ctx context.Context, path string, fields url.Values, out any) error {
	form := url.Values{
		"api_key":    {c.apiKey},
		"api_secret": {c.apiSecret},
	}
	for k, vs := range fields {
		form[k] = vs
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, path, out)
}

// postImage sends a multipart POST carrying the frame as image_file.
func (c *Client) postImage(ctx context.Context, path string, fields url.Values, image []byte, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("api_key", c.apiKey)
	_ = w.WriteField("api_secret", c.apiSecret)
	for k, vs := range fields {
		for _, v := range vs {
			_ = w.WriteField(k, v)
		}
	}
	part, err := w.CreateFormFile("image_file", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, path, out)
}

// do executes the request and decodes either the expected payload or the
// matcher's error object. Error bodies arrive on 4xx as well, so the body
// is always decoded before the status is judged.
func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Endpoint: path, Message: err.Error(), Kind: KindUnavailable}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &APIError{Endpoint: path, Status: resp.StatusCode, Message: err.Error(), Kind: KindUnavailable}
	}

	var envelope struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &APIError{
			Endpoint: path,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("unparseable response: %.120s", string(body)),
			Kind:     KindUnavailable,
		}
	}
	if envelope.ErrorMessage != "" || resp.StatusCode != http.StatusOK {
		return &APIError{
			Endpoint: path,
			Status:   resp.StatusCode,
			Message:  envelope.ErrorMessage,
			Kind:     classify(resp.StatusCode, envelope.ErrorMessage),
		}
	}
	return json.Unmarshal(body, out)
}
