package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"collab-realtime/backend/internal/document"
	"collab-realtime/backend/internal/record"
	"collab-realtime/backend/internal/security"
	"collab-realtime/backend/internal/session/domain"
	"collab-realtime/backend/internal/session/service"
	"collab-realtime/backend/internal/wire"
)

type harness struct {
	srv      *httptest.Server
	registry *document.Registry
	issuer   *security.Issuer
	handler  *CollabHandler
}

func newHarness(t *testing.T, onCreate document.CreateFunc) *harness {
	t.Helper()
	issuer, err := security.NewTestIssuer()
	require.NoError(t, err)
	verifier, err := security.NewTestVerifier(nil)
	require.NoError(t, err)

	registry := document.NewRegistry(onCreate, nil)
	handler := NewCollabHandler(service.NewResolver(verifier), registry, Options{KeepaliveInterval: time.Hour})
	srv := httptest.NewServer(NewMux(handler, nil))
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})
	return &harness{srv: srv, registry: registry, issuer: issuer, handler: handler}
}

func (h *harness) token(t *testing.T, claims security.Claims, ttl time.Duration) string {
	t.Helper()
	tok, _, err := h.issuer.Issue(claims, ttl)
	require.NoError(t, err)
	return tok
}

func (h *harness) url(name, token string) string {
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/collab/" + name
	if token != "" {
		u += "?authToken=" + token
	}
	return u
}

func (h *harness) dial(t *testing.T, name, token string) *websocket.Conn {
	t.Helper()
	c, resp, err := websocket.DefaultDialer.Dial(h.url(name, token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) wire.Frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	f, err := wire.Decode(data)
	require.NoError(t, err)
	return f
}

var proposalEditor = security.Claims{UserID: 3, EditableProposals: []int64{7}}

func TestHandshake_AcceptsAndSendsFirstSyncStep(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t, "proposal-7", h.token(t, proposalEditor, time.Hour))

	f := readFrame(t, c)
	assert.Equal(t, wire.ContentSync, f.Type)

	doc, ok := h.registry.Get("proposal-7")
	require.True(t, ok)
	assert.Equal(t, 1, doc.ConnectionCount())
}

func TestHandshake_BearerHeader(t *testing.T) {
	h := newHarness(t, nil)
	header := http.Header{"Authorization": {"Bearer " + h.token(t, proposalEditor, time.Hour)}}
	c, resp, err := websocket.DefaultDialer.Dial(h.url("proposal-7", ""), header)
	require.NoError(t, err)
	resp.Body.Close()
	defer c.Close()

	assert.Equal(t, wire.ContentSync, readFrame(t, c).Type)
}

func TestHandshake_Rejections(t *testing.T) {
	h := newHarness(t, nil)
	valid := h.token(t, proposalEditor, time.Hour)

	tests := []struct {
		name     string
		document string
		token    string
		want     int
	}{
		{"missing credential", "proposal-7", "", http.StatusUnauthorized},
		{"garbage credential", "proposal-7", "not-a-jwt", http.StatusUnauthorized},
		{"expired credential", "proposal-7", h.token(t, proposalEditor, -time.Minute), http.StatusUnauthorized},
		{"no separator", "proposal7", valid, http.StatusBadRequest},
		{"non numeric id", "proposal-seven", valid, http.StatusBadRequest},
		{"unknown kind", "widget-7", valid, http.StatusBadRequest},
		{"other kind", "project-7", valid, http.StatusForbidden},
		{"other id", "proposal-8", valid, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(h.url(tc.document, tc.token), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
	assert.Zero(t, h.registry.Len())
}

func TestHandshake_LoadFailureIsBadGateway(t *testing.T) {
	h := newHarness(t, func(context.Context, *document.Document, domain.Context) error {
		return record.ErrLoadFailed
	})
	_, resp, err := websocket.DefaultDialer.Dial(h.url("proposal-7", h.token(t, proposalEditor, time.Hour)), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Zero(t, h.registry.Len())
}

func TestHandshake_UpdatesReachOtherPeers(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.token(t, proposalEditor, time.Hour)
	a := h.dial(t, "proposal-7", tok)
	readFrame(t, a)
	b := h.dial(t, "proposal-7", tok)
	readFrame(t, b)

	value, err := document.FromJSON([]byte(`"hello"`))
	require.NoError(t, err)
	upd, err := document.EncodeUpdate([]document.Entry{{Field: "comment", Value: value, Clock: 1, Origin: "client-a"}})
	require.NoError(t, err)
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, wire.EncodeContentSync(upd)))

	f := readFrame(t, b)
	require.Equal(t, wire.ContentSync, f.Type)
	entries, err := document.DecodeEntries(f.Payload)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "comment", entries[0].Field)
}

func TestHandshake_ClosingLastPeerReleasesDocument(t *testing.T) {
	h := newHarness(t, nil)
	c := h.dial(t, "proposal-7", h.token(t, proposalEditor, time.Hour))
	readFrame(t, c)
	require.Equal(t, 1, h.registry.Len())

	require.NoError(t, c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	c.Close()

	assert.Eventually(t, func() bool { return h.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, h.handler.Wait(ctx))
}

type staticProber bool

func (p staticProber) Serving() bool { return bool(p) }

func TestHealthz(t *testing.T) {
	for _, tc := range []struct {
		name   string
		prober Prober
		want   int
	}{
		{"no prober", nil, http.StatusOK},
		{"serving", staticProber(true), http.StatusOK},
		{"not serving", staticProber(false), http.StatusServiceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewMux(http.NotFoundHandler(), tc.prober).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestGRPCServer_Health(t *testing.T) {
	hs := health.NewServer()
	s := NewGRPCServer(hs)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidDocumentName))
	assert.Equal(t, http.StatusUnauthorized, statusFor(domain.ErrCredentialExpired))
	assert.Equal(t, http.StatusForbidden, statusFor(domain.ErrUnauthorized))
	assert.Equal(t, http.StatusBadGateway, statusFor(record.ErrLoadFailed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(context.Canceled))
}
