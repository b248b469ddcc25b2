// Package client is the record store backed by the application's REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"collab-realtime/backend/internal/record"
	"collab-realtime/backend/internal/session/domain"
)

const ldMimeType = "application/ld+json"

// ErrNoNetworkResponse is wrapped when a request produced no HTTP response at all.
var ErrNoNetworkResponse = errors.New("failure.noNetworkResponse")

// HTTPStore talks to "{baseURL}/{collection}/{id}/collab", authenticating as the connecting principal.
type HTTPStore struct {
	baseURL string
	http    *http.Client
}

// NewHTTPStore returns a store for baseURL. timeout bounds each request; zero means 10s.
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type collabBody struct {
	CollabData map[string]json.RawMessage `json:"collabData"`
}

// Load fetches the record's collab data. A response without collabData is ErrLoadFailed.
func (s *HTTPStore) Load(ctx context.Context, kind domain.ResourceKind, id int64, credential string) (*record.Record, error) {
	var body collabBody
	if err := s.do(ctx, http.MethodGet, kind, id, nil, credential, &body); err != nil {
		return nil, fmt.Errorf("%w: %w", record.ErrLoadFailed, err)
	}
	if len(body.CollabData) == 0 {
		return nil, fmt.Errorf("%w: invalid or empty response for %s", record.ErrLoadFailed, domain.DocumentName(kind, id))
	}
	return &record.Record{Fields: body.CollabData}, nil
}

// Save posts the record's fields as collabData.
func (s *HTTPStore) Save(ctx context.Context, kind domain.ResourceKind, id int64, rec *record.Record, credential string) error {
	payload, err := json.Marshal(collabBody{CollabData: rec.Fields})
	if err != nil {
		return fmt.Errorf("%w: %w", record.ErrSaveFailed, err)
	}
	if err := s.do(ctx, http.MethodPost, kind, id, payload, credential, nil); err != nil {
		return fmt.Errorf("%w: %w", record.ErrSaveFailed, err)
	}
	return nil
}

func (s *HTTPStore) url(kind domain.ResourceKind, id int64) (string, error) {
	spec, ok := kind.Spec()
	if !ok {
		return "", domain.ErrUnknownResourceKind
	}
	return s.baseURL + "/" + spec.Collection + "/" + strconv.FormatInt(id, 10) + "/collab", nil
}

func (s *HTTPStore) do(ctx context.Context, method string, kind domain.ResourceKind, id int64, payload []byte, credential string, out any) error {
	u, err := s.url(kind, id)
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", ldMimeType)
	req.Header.Set("Content-Type", ldMimeType)
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoNetworkResponse, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(errorMessage(resp, raw))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// errorMessage extracts the API's error description: violations, then hydra:description, then message,
// then the status text.
func errorMessage(resp *http.Response, raw []byte) string {
	var body struct {
		Violations  json.RawMessage `json:"violations"`
		Description string          `json:"hydra:description"`
		Message     string          `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if len(body.Violations) > 0 && string(body.Violations) != "null" {
			return string(body.Violations)
		}
		if body.Description != "" {
			return body.Description
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}
