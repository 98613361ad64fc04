package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/clients"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected   = errors.New("push socket not connected")
	ErrSendBufferFull = errors.New("push socket send buffer full")
)

// SocketConfig holds configuration for the push socket
type SocketConfig struct {
	URL                   string
	MaxReconnectAttempts  int
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	HandshakeTimeout      time.Duration
	WriteTimeout          time.Duration
	ReadTimeout           time.Duration
	PingInterval          time.Duration
	MaxMessageSize        int64
	SendBufferSize        int
}

// DefaultSocketConfig returns default push socket configuration
func DefaultSocketConfig(url string) SocketConfig {
	return SocketConfig{
		URL:                   url,
		MaxReconnectAttempts:  5,
		InitialReconnectDelay: 1 * time.Second,
		MaxReconnectDelay:     5 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ReadTimeout:           60 * time.Second,
		PingInterval:          30 * time.Second,
		MaxMessageSize:        64 * 1024,
		SendBufferSize:        64,
	}
}

// SocketHandlers receive the socket's lifecycle signals. All of them run on
// the socket's own goroutine.
type SocketHandlers struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)
	OnFrame      func(frame events.Frame)
}

// Socket is one authenticated push connection with its own bounded
// auto-reconnect. Once it gives up it reports OnError and stops for good.
type Socket struct {
	ID string

	config   SocketConfig
	dialer   *websocket.Dialer
	tokens   clients.TokenSource
	clock    clockwork.Clock
	handlers SocketHandlers
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSocket(config SocketConfig, tokens clients.TokenSource, clock clockwork.Clock, handlers SocketHandlers, m *metrics.Metrics, logger zerolog.Logger) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Socket{
		ID:     id,
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		tokens:   tokens,
		clock:    clock,
		handlers: handlers,
		metrics:  m,
		logger:   logger.With().Str("socket_id", id).Logger(),
		send:     make(chan []byte, config.SendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Open starts the connect/reconnect loop in the background.
func (s *Socket) Open() {
	go s.run()
}

// Done is closed once the socket has stopped for good.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Close stops reconnecting. A live connection flushes frames already queued
// by Send, sends a close frame and shuts down. Close does not wait, so it is
// safe to call from a handler.
func (s *Socket) Close() {
	s.cancel()
}

// Send queues a frame for the write pump.
func (s *Socket) Send(frame events.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", frame.Type, err)
	}

	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	select {
	case s.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *Socket) run() {
	defer close(s.done)

	attempt := 0
	var lastErr error
	for {
		if attempt > 0 {
			if attempt > s.config.MaxReconnectAttempts {
				s.logger.Error().
					Err(lastErr).
					Int("attempts", s.config.MaxReconnectAttempts).
					Msg("giving up on push socket")
				s.emitError(fmt.Errorf("gave up after %d reconnect attempts: %w", s.config.MaxReconnectAttempts, lastErr))
				return
			}

			delay := s.backoff(attempt)
			s.metrics.ReconnectAttempt()
			s.logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("reconnecting push socket")

			select {
			case <-s.clock.After(delay):
			case <-s.ctx.Done():
				return
			}
		}

		conn, err := s.dial()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, clients.ErrAuthenticationLost) {
				s.emitError(err)
				return
			}
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("push socket dial failed")
			lastErr = err
			attempt++
			continue
		}

		attempt = 0
		s.setConn(conn)
		if s.ctx.Err() != nil {
			s.setConn(nil)
			conn.Close()
			return
		}
		if s.handlers.OnConnect != nil {
			s.handlers.OnConnect()
		}

		err = s.serve(conn)
		s.setConn(nil)
		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warn().Err(err).Msg("push socket disconnected")
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(err)
		}
		lastErr = err
		attempt = 1
	}
}

// backoff doubles from the initial delay up to the cap: 1s, 2s, 4s, 5s, 5s.
func (s *Socket) backoff(attempt int) time.Duration {
	delay := s.config.InitialReconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.config.MaxReconnectDelay {
			return s.config.MaxReconnectDelay
		}
	}
	if delay > s.config.MaxReconnectDelay {
		return s.config.MaxReconnectDelay
	}
	return delay
}

func (s *Socket) dial() (*websocket.Conn, error) {
	token, ok := s.tokens.AccessToken()
	if !ok {
		return nil, clients.ErrAuthenticationLost
	}

	conn, resp, err := s.dialWith(token)
	if err != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
		s.logger.Debug().Msg("push handshake rejected, refreshing token")
		fresh, refreshErr := s.tokens.Refresh(s.ctx, token)
		if refreshErr != nil {
			return nil, refreshErr
		}
		token = fresh
		conn, _, err = s.dialWith(token)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.config.URL, err)
	}

	if err := s.authenticate(conn, token); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Socket) dialWith(token string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set(clients.AuthorizationHeader, "Bearer "+token)
	return s.dialer.DialContext(s.ctx, s.config.URL, header)
}

// authenticate sends the auth frame before the write pump starts.
func (s *Socket) authenticate(conn *websocket.Conn, token string) error {
	data, err := json.Marshal(events.AuthPayload{Token: token})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(events.Frame{Type: events.ControlAuth, Data: data})
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}
	return nil
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *Socket) emitError(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

// serve runs the pumps for one connection and returns the read error that ended it.
func (s *Socket) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.writePump(conn, stop)
	}()

	err := s.readPump(conn)
	close(stop)
	conn.Close()
	<-pumpDone
	return err
}

// writePump handles sending messages to the WebSocket connection
func (s *Socket) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-s.ctx.Done():
			s.flush(conn)
			return

		case message := <-s.send:
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Error().Err(err).Msg("failed to write message to push socket")
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Error().Err(err).Msg("failed to send ping")
				conn.Close()
				return
			}
		}
	}
}

// flush writes whatever is still queued, then closes the connection cleanly.
func (s *Socket) flush(conn *websocket.Conn) {
	defer conn.Close()

	deadline := time.Now().Add(s.config.WriteTimeout)
	conn.SetWriteDeadline(deadline)
	for {
		select {
		case message := <-s.send:
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
			return
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (s *Socket) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(s.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("unexpected push socket close")
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		var frame events.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed push frame")
			continue
		}
		if s.handlers.OnFrame != nil {
			s.handlers.OnFrame(frame)
		}
	}
}
