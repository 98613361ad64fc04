package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/clients"
	"github.com/mcdev12/matchday/go/clients/tournament_client"
	"github.com/mcdev12/matchday/go/internal/config"
	"github.com/mcdev12/matchday/go/internal/dispatch"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/match"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/mcdev12/matchday/go/internal/models"
	"github.com/mcdev12/matchday/go/internal/realtime"
	"github.com/mcdev12/matchday/go/internal/relay"
	"github.com/mcdev12/matchday/go/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoSession is returned by Login when the session has no access token.
var ErrNoSession = errors.New("session has no access token")

// Options injects collaborators; zero values get production defaults.
type Options struct {
	Clock     clockwork.Clock
	Store     session.Store
	Registry  *prometheus.Registry
	Publisher relay.Publisher
	Logger    *zerolog.Logger
}

// App wires the session, request layer, push connection, rooms, dispatcher
// and match board of one signed-in participant.
type App struct {
	config   config.Config
	clock    clockwork.Clock
	store    session.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	refresher  *clients.Refresher
	api        *tournament_client.TournamentClient
	dispatcher *dispatch.Dispatcher
	conn       *realtime.ConnectionManager
	rooms      *realtime.Rooms
	relay      *relay.Relay

	mu          sync.Mutex
	board       *match.Board
	boardUser   string
	followed    map[string]bool
	sessionLost []func()
	onMatch     []match.UpdateListener
}

func NewApp(cfg config.Config, opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	if opts.Registry == nil {
		opts.Registry = metrics.NewRegistry()
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	m := metrics.New(opts.Registry)
	a := &App{
		config:   cfg,
		clock:    opts.Clock,
		store:    opts.Store,
		registry: opts.Registry,
		metrics:  m,
		logger:   logger,
		followed: make(map[string]bool),
	}

	a.refresher = clients.NewRefresher(cfg.APIBaseURL, a.store, m)
	a.refresher.SetLogger(logger)
	a.refresher.OnAuthLost(a.handleAuthLost)

	a.api = tournament_client.NewTournamentClient(cfg.APIBaseURL, a.refresher)
	a.api.SetLogger(logger)

	a.dispatcher = dispatch.NewDispatcher(dispatch.Config{
		Delay:     cfg.Realtime.DebounceDelay,
		Immediate: []events.Topic{events.TopicMatchResultReported},
	}, a.clock, m)
	a.dispatcher.SetLogger(logger)

	socketConfig := realtime.DefaultSocketConfig(cfg.PushURL)
	socketConfig.MaxReconnectAttempts = cfg.Realtime.MaxReconnectAttempts
	socketConfig.InitialReconnectDelay = cfg.Realtime.InitialReconnectDelay
	socketConfig.MaxReconnectDelay = cfg.Realtime.MaxReconnectDelay

	a.conn = realtime.NewConnectionManager(socketConfig, a.refresher, a.clock, a.dispatcher.Publish, m)
	a.conn.SetLogger(logger)

	a.rooms = realtime.NewRooms(a.conn, realtime.RoomsConfig{RefCounted: cfg.Realtime.RefCountedRooms}, m)
	a.rooms.SetLogger(logger)
	a.conn.OnConnected(a.rooms.Rejoin)
	a.conn.OnConnected(a.joinFollowed)

	if opts.Publisher != nil {
		a.relay = relay.New(opts.Publisher, cfg.Relay.SubjectPrefix, a.clock, m)
		a.relay.SetLogger(logger)
		a.relay.Attach(a.dispatcher)
	}

	if s, ok := a.store.Get(); ok {
		a.useBoard(s.UserID)
	}
	return a
}

// Login stores s and opens the push connection.
func (a *App) Login(s session.Session) error {
	if !s.Valid() {
		return ErrNoSession
	}
	a.store.Set(s)
	a.useBoard(s.UserID)
	a.logger.Info().Str("user_id", s.UserID).Msg("signed in")
	return a.conn.Connect()
}

// Logout leaves every room, closes the push connection and clears the session.
func (a *App) Logout() {
	a.mu.Lock()
	followed := a.followed
	a.followed = make(map[string]bool)
	board := a.board
	a.mu.Unlock()

	a.rooms.LeaveAll()
	if board != nil {
		for eventID := range followed {
			board.Untrack(eventID)
		}
	}

	a.conn.Disconnect()
	a.store.Clear()
	a.logger.Info().Msg("signed out")
}

// Start connects with the stored session, follows the configured events and
// blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info().
		Str("api", a.config.APIBaseURL).
		Str("push", a.config.PushURL).
		Msg("starting matchday companion")

	if err := a.conn.Connect(); err != nil {
		return fmt.Errorf("connect push socket: %w", err)
	}
	for _, eventID := range a.config.EventIDs {
		if _, err := a.Follow(ctx, eventID); err != nil {
			a.logger.Warn().Err(err).Str("event_id", eventID).Msg("failed to follow event")
		}
	}

	<-ctx.Done()
	a.logger.Info().Msg("matchday companion shutting down")
	a.Stop()
	return nil
}

// Stop releases the push connection and all subscriptions. In-flight
// requests are left to finish.
func (a *App) Stop() {
	a.conn.Disconnect()
	a.mu.Lock()
	board := a.board
	a.mu.Unlock()
	if board != nil {
		board.Close()
	}
	if a.relay != nil {
		a.relay.Close()
	}
	a.dispatcher.Close()
}

// Follow joins eventID's room and starts tracking the local player's current
// match. The room is joined once the connection is up if it is not yet.
func (a *App) Follow(ctx context.Context, eventID string) (*match.Tracker, error) {
	board := a.Board()
	if board == nil {
		return nil, ErrNoSession
	}

	tracker, err := board.Track(ctx, eventID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.followed[eventID] {
		return tracker, nil
	}
	a.followed[eventID] = true
	if a.conn.Connected() {
		if err := a.rooms.JoinEvent(eventID); err != nil {
			a.logger.Warn().Err(err).Str("event_id", eventID).Msg("failed to join event room")
		}
	}
	return tracker, nil
}

// Unfollow leaves eventID's room and stops tracking its match.
func (a *App) Unfollow(eventID string) error {
	a.mu.Lock()
	if !a.followed[eventID] {
		a.mu.Unlock()
		return nil
	}
	delete(a.followed, eventID)
	board := a.board
	a.mu.Unlock()

	if board != nil {
		board.Untrack(eventID)
	}
	return a.rooms.LeaveEvent(eventID)
}

// OnSessionLost registers fn to run when the session can no longer be refreshed.
func (a *App) OnSessionLost(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionLost = append(a.sessionLost, fn)
}

// OnMatchUpdate registers fn for changes to any followed match. It survives
// sign-ins as a different user.
func (a *App) OnMatchUpdate(fn match.UpdateListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onMatch = append(a.onMatch, fn)
}

func (a *App) Board() *match.Board {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.board
}

func (a *App) Connection() *realtime.ConnectionManager { return a.conn }

func (a *App) Rooms() *realtime.Rooms { return a.rooms }

func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

func (a *App) Registry() *prometheus.Registry { return a.registry }

// useBoard makes sure the board belongs to userID.
func (a *App) useBoard(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.board != nil && a.boardUser == userID {
		return
	}
	if a.board != nil {
		a.board.Close()
	}
	a.board = match.NewBoard(userID, a.api, a.clock, a.metrics)
	a.board.SetLogger(a.logger)
	a.board.Attach(a.dispatcher)
	a.board.OnUpdate(a.matchUpdated)
	a.boardUser = userID
}

func (a *App) matchUpdated(eventID string, m models.Match, state match.State) {
	a.mu.Lock()
	listeners := append([]match.UpdateListener{}, a.onMatch...)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(eventID, m, state)
	}
}

// joinFollowed joins rooms followed while the connection was down.
func (a *App) joinFollowed() {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := make(map[string]bool)
	for _, eventID := range a.rooms.Joined() {
		joined[eventID] = true
	}
	for eventID := range a.followed {
		if joined[eventID] {
			continue
		}
		if err := a.rooms.JoinEvent(eventID); err != nil {
			a.logger.Warn().Err(err).Str("event_id", eventID).Msg("failed to join event room")
		}
	}
}

func (a *App) handleAuthLost() {
	a.logger.Warn().Msg("session lost, sign in again")
	a.conn.Disconnect()

	a.mu.Lock()
	hooks := append([]func(){}, a.sessionLost...)
	a.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
