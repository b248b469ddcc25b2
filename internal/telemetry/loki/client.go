// Package loki pushes session lifecycle events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"collab-realtime/backend/internal/telemetry"
)

const jobLabel = "collab-realtime"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values we emit.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Emitter implements telemetry.EventEmitter by pushing each event as one JSON log line.
type Emitter struct {
	baseURL string
	client  *http.Client
}

// NewEmitter returns an Emitter for baseURL (e.g. http://localhost:3100), or nil when baseURL is empty.
func NewEmitter(baseURL string) *Emitter {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	return &Emitter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Emit pushes event labelled by event type and resource kind. Document names are left in the line,
// not the labels, to keep stream cardinality bounded.
func (e *Emitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if e == nil || event == nil {
		return nil
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	labels := map[string]string{"event_type": event.Type}
	if event.ResourceKind != "" {
		labels["resource_kind"] = event.ResourceKind
	}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return e.push(ctx, ts, string(line), labels)
}

// push sends a single log line to Loki. Returns an error if the HTTP request fails or Loki returns non-2xx.
func (e *Emitter) push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = jobLabel
	for k, v := range labels {
		sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
