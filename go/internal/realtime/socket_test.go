package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/clients"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer is a minimal push endpoint. It rejects rejectToken with 401,
// answers 503 while down, and records every frame the client sends.
type pushServer struct {
	*httptest.Server

	upgrader    websocket.Upgrader
	rejectToken string
	down        atomic.Bool
	attempts    atomic.Int32
	rejected    atomic.Int32

	mu      sync.Mutex
	conns   []*websocket.Conn
	headers []string

	auth      chan events.Frame
	received  chan events.Frame
	connected chan struct{}
}

func newPushServer(t *testing.T, rejectToken string) *pushServer {
	t.Helper()
	ps := &pushServer{
		rejectToken: rejectToken,
		auth:        make(chan events.Frame, 16),
		received:    make(chan events.Frame, 64),
		connected:   make(chan struct{}, 16),
	}
	ps.Server = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushServer) handle(w http.ResponseWriter, r *http.Request) {
	ps.attempts.Add(1)
	if ps.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	header := r.Header.Get(clients.AuthorizationHeader)
	if ps.rejectToken != "" && header == "Bearer "+ps.rejectToken {
		ps.rejected.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := ps.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var auth events.Frame
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	ps.mu.Lock()
	ps.conns = append(ps.conns, conn)
	ps.headers = append(ps.headers, header)
	ps.mu.Unlock()
	ps.auth <- auth
	ps.connected <- struct{}{}

	for {
		var frame events.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		ps.received <- frame
	}
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http")
}

func (ps *pushServer) authHeaders() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]string{}, ps.headers...)
}

func (ps *pushServer) connections() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.conns)
}

func (ps *pushServer) push(t *testing.T, frame string) {
	t.Helper()
	ps.mu.Lock()
	require.NotEmpty(t, ps.conns)
	conn := ps.conns[len(ps.conns)-1]
	ps.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// drop closes every server-side connection.
func (ps *pushServer) drop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, conn := range ps.conns {
		conn.Close()
	}
}

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	fresh      string
	refreshErr error
	refreshes  atomic.Int32
}

func (f *fakeTokens) AccessToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != ""
}

func (f *fakeTokens) Refresh(_ context.Context, _ string) (string, error) {
	f.refreshes.Add(1)
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = f.fresh
	return f.fresh, nil
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestBackoff(t *testing.T) {
	s := NewSocket(DefaultSocketConfig("ws://unused"), &fakeTokens{}, clockwork.NewFakeClock(), SocketHandlers{}, nil, zerolog.Nop())

	var got []time.Duration
	for attempt := 1; attempt <= 6; attempt++ {
		got = append(got, s.backoff(attempt))
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}, got)
}

func TestSocketAuthenticatesAndDeliversFrames(t *testing.T) {
	ps := newPushServer(t, "")
	frames := make(chan events.Frame, 8)
	connected := make(chan struct{}, 1)

	s := NewSocket(DefaultSocketConfig(ps.url()), &fakeTokens{token: "tok"}, clockwork.NewFakeClock(), SocketHandlers{
		OnConnect: func() { connected <- struct{}{} },
		OnFrame:   func(f events.Frame) { frames <- f },
	}, nil, zerolog.Nop())
	s.Open()
	t.Cleanup(s.Close)

	auth := receive(t, ps.auth)
	assert.Equal(t, events.ControlAuth, auth.Type)
	var payload events.AuthPayload
	require.NoError(t, json.Unmarshal(auth.Data, &payload))
	assert.Equal(t, "tok", payload.Token)
	assert.Equal(t, []string{"Bearer tok"}, ps.authHeaders())

	receive(t, connected)
	ps.push(t, `not json`)
	ps.push(t, `{"type":"announcement","data":{"eventId":"evt-1","title":"Lunch"}}`)

	frame := receive(t, frames)
	assert.Equal(t, "announcement", frame.Type)
	assert.JSONEq(t, `{"eventId":"evt-1","title":"Lunch"}`, string(frame.Data))
}

func TestSocketSendRequiresConnection(t *testing.T) {
	s := NewSocket(DefaultSocketConfig("ws://unused"), &fakeTokens{token: "tok"}, clockwork.NewFakeClock(), SocketHandlers{}, nil, zerolog.Nop())
	assert.ErrorIs(t, s.Send(events.Frame{Type: events.ControlJoinEvent}), ErrNotConnected)
}

func TestSocketRefreshesOnceOnRejectedHandshake(t *testing.T) {
	ps := newPushServer(t, "stale")
	tokens := &fakeTokens{token: "stale", fresh: "fresh"}

	s := NewSocket(DefaultSocketConfig(ps.url()), tokens, clockwork.NewFakeClock(), SocketHandlers{}, nil, zerolog.Nop())
	s.Open()
	t.Cleanup(s.Close)

	auth := receive(t, ps.auth)
	var payload events.AuthPayload
	require.NoError(t, json.Unmarshal(auth.Data, &payload))
	assert.Equal(t, "fresh", payload.Token)
	assert.Equal(t, []string{"Bearer fresh"}, ps.authHeaders())
	assert.Equal(t, int32(1), ps.rejected.Load())
	assert.Equal(t, int32(1), tokens.refreshes.Load())
}

func TestSocketStopsWhenRefreshFails(t *testing.T) {
	ps := newPushServer(t, "stale")
	tokens := &fakeTokens{token: "stale", refreshErr: &clients.TokenRefreshError{Err: assert.AnError}}
	errs := make(chan error, 1)

	s := NewSocket(DefaultSocketConfig(ps.url()), tokens, clockwork.NewFakeClock(), SocketHandlers{
		OnError: func(err error) { errs <- err },
	}, nil, zerolog.Nop())
	s.Open()

	err := receive(t, errs)
	assert.ErrorIs(t, err, clients.ErrAuthenticationLost)
	receive(t, s.Done())
	assert.Equal(t, int32(1), ps.attempts.Load())
}

func TestSocketCloseDuringBackoffStopsLoop(t *testing.T) {
	ps := newPushServer(t, "")
	ps.down.Store(true)
	clock := clockwork.NewFakeClock()

	s := NewSocket(DefaultSocketConfig(ps.url()), &fakeTokens{token: "tok"}, clock, SocketHandlers{
		OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
	}, nil, zerolog.Nop())
	s.Open()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	s.Close()
	receive(t, s.Done())
	assert.Equal(t, int32(1), ps.attempts.Load())
}
