package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/clients"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotAuthenticated is returned by Connect when there is no access token.
var ErrNotAuthenticated = errors.New("not authenticated")

// State is the externally observed connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventHandler receives every decoded inbound push.
type EventHandler func(ev events.Event)

// StateListener observes state transitions.
type StateListener func(state State, err error)

// ConnectionManager owns the single push socket of a session.
type ConnectionManager struct {
	mu      sync.Mutex
	state   State
	lastErr error
	socket  *Socket

	config  SocketConfig
	tokens  clients.TokenSource
	clock   clockwork.Clock
	handler EventHandler
	metrics *metrics.Metrics
	logger  zerolog.Logger

	listenersMu sync.Mutex
	listeners   []StateListener
	onConnected []func()
}

func NewConnectionManager(config SocketConfig, tokens clients.TokenSource, clock clockwork.Clock, handler EventHandler, m *metrics.Metrics) *ConnectionManager {
	return &ConnectionManager{
		state:   StateIdle,
		config:  config,
		tokens:  tokens,
		clock:   clock,
		handler: handler,
		metrics: m,
		logger:  log.Logger,
	}
}

func (cm *ConnectionManager) SetLogger(logger zerolog.Logger) {
	cm.logger = logger
}

// OnStateChange registers a listener for every transition.
func (cm *ConnectionManager) OnStateChange(fn StateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.listeners = append(cm.listeners, fn)
}

// OnConnected registers fn to run each time the socket (re)connects.
func (cm *ConnectionManager) OnConnected(fn func()) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.onConnected = append(cm.onConnected, fn)
}

// Connect opens the push socket. It is a no-op while a socket is live,
// including one waiting out a reconnect backoff, and fails with
// ErrNotAuthenticated without any network attempt when no access token is
// stored.
func (cm *ConnectionManager) Connect() error {
	cm.mu.Lock()
	if cm.socket != nil || cm.state == StateConnecting || cm.state == StateConnected {
		cm.mu.Unlock()
		return nil
	}

	if _, ok := cm.tokens.AccessToken(); !ok {
		cm.mu.Unlock()
		cm.logger.Warn().Msg("push connect skipped: not authenticated")
		return ErrNotAuthenticated
	}

	var socket *Socket
	socket = NewSocket(cm.config, cm.tokens, cm.clock, SocketHandlers{
		OnConnect:    func() { cm.socketConnected(socket) },
		OnDisconnect: func(err error) { cm.socketDisconnected(socket, err) },
		OnError:      func(err error) { cm.socketErrored(socket, err) },
		OnFrame:      func(frame events.Frame) { cm.socketFrame(socket, frame) },
	}, cm.metrics, cm.logger)
	cm.socket = socket
	cm.setStateLocked(StateConnecting, nil)
	cm.mu.Unlock()

	cm.logger.Info().Str("socket_id", socket.ID).Str("url", cm.config.URL).Msg("connecting push socket")
	cm.notify(StateConnecting, nil)
	socket.Open()
	return nil
}

// Disconnect tears down the socket and releases it.
func (cm *ConnectionManager) Disconnect() {
	cm.mu.Lock()
	socket := cm.socket
	cm.socket = nil
	changed := cm.state != StateDisconnected && cm.state != StateIdle
	if socket == nil && !changed {
		cm.mu.Unlock()
		return
	}
	cm.setStateLocked(StateDisconnected, nil)
	cm.mu.Unlock()

	if socket != nil {
		socket.Close()
		cm.logger.Info().Str("socket_id", socket.ID).Msg("push socket closed")
	}
	cm.notify(StateDisconnected, nil)
}

// Reconnect is Disconnect followed by Connect. It is the only way out of
// StateErrored.
func (cm *ConnectionManager) Reconnect() error {
	cm.Disconnect()
	return cm.Connect()
}

// State returns the current state and the last error, if any.
func (cm *ConnectionManager) State() (State, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state, cm.lastErr
}

// Connected reports whether frames can be sent right now.
func (cm *ConnectionManager) Connected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.state == StateConnected && cm.socket != nil
}

// Emit sends a control message of msgType with data as its payload.
func (cm *ConnectionManager) Emit(msgType string, data any) error {
	cm.mu.Lock()
	socket := cm.socket
	connected := cm.state == StateConnected
	cm.mu.Unlock()

	if socket == nil || !connected {
		return ErrNotConnected
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return socket.Send(events.Frame{Type: msgType, Data: payload})
}

func (cm *ConnectionManager) socketConnected(socket *Socket) {
	if !cm.transition(socket, StateConnected, nil) {
		return
	}
	cm.logger.Info().Str("socket_id", socket.ID).Msg("push socket connected")

	cm.listenersMu.Lock()
	hooks := append([]func(){}, cm.onConnected...)
	cm.listenersMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (cm *ConnectionManager) socketDisconnected(socket *Socket, err error) {
	cm.transition(socket, StateDisconnected, err)
}

func (cm *ConnectionManager) socketErrored(socket *Socket, err error) {
	if cm.transition(socket, StateErrored, err) {
		cm.logger.Error().Err(err).Str("socket_id", socket.ID).Msg("push connection errored, manual reconnect required")
	}
}

// transition applies a state change reported by socket, ignoring signals
// from a socket that has since been replaced.
func (cm *ConnectionManager) transition(socket *Socket, state State, err error) bool {
	cm.mu.Lock()
	if cm.socket != socket {
		cm.mu.Unlock()
		return false
	}
	if state == StateErrored {
		cm.socket = nil
	}
	cm.setStateLocked(state, err)
	cm.mu.Unlock()

	cm.notify(state, err)
	return true
}

func (cm *ConnectionManager) setStateLocked(state State, err error) {
	cm.state = state
	cm.lastErr = err
	cm.metrics.SetConnectionState(int(state))
}

func (cm *ConnectionManager) notify(state State, err error) {
	cm.listenersMu.Lock()
	listeners := append([]StateListener{}, cm.listeners...)
	cm.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(state, err)
	}
}

// socketFrame drops frames from a socket that is no longer the current one.
func (cm *ConnectionManager) socketFrame(socket *Socket, frame events.Frame) {
	cm.mu.Lock()
	current := cm.socket == socket
	cm.mu.Unlock()
	if !current {
		return
	}
	cm.handleFrame(frame)
}

func (cm *ConnectionManager) handleFrame(frame events.Frame) {
	topic := events.Topic(frame.Type)
	if !events.Known(topic) {
		cm.logger.Debug().Str("type", frame.Type).Msg("ignoring unknown push frame")
		return
	}
	cm.metrics.PushFrame(frame.Type)

	ev, err := events.Decode(frame)
	if err != nil {
		cm.logger.Warn().Err(err).Str("type", frame.Type).Msg("failed to decode push frame")
		return
	}

	cm.logger.Debug().
		Str("topic", string(ev.Topic)).
		Str("event_id", ev.EventID).
		Str("key", ev.Key).
		Msg("push received")

	if cm.handler != nil {
		cm.handler(ev)
	}
}
