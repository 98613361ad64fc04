package realtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SubscriptionWarning is logged when a room call is made without a live connection.
type SubscriptionWarning struct {
	Action  string
	EventID string
}

func (w *SubscriptionWarning) Error() string {
	return fmt.Sprintf("%s %s skipped: no active push connection", w.Action, w.EventID)
}

// Emitter sends control messages over the push connection.
type Emitter interface {
	Emit(msgType string, data any) error
	Connected() bool
}

// RoomsConfig controls join/leave accounting.
type RoomsConfig struct {
	// RefCounted sends join-event only for the first holder of a tournament
	// and leave-event only for the last one. When false every call is sent
	// and callers keep joins and leaves balanced.
	RefCounted bool
}

// Rooms scopes push delivery to the tournaments the user is looking at.
type Rooms struct {
	mu     sync.Mutex
	joined map[string]int

	conn    Emitter
	config  RoomsConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewRooms(conn Emitter, config RoomsConfig, m *metrics.Metrics) *Rooms {
	return &Rooms{
		joined:  make(map[string]int),
		conn:    conn,
		config:  config,
		metrics: m,
		logger:  log.Logger,
	}
}

func (r *Rooms) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// JoinEvent asks the server to deliver eventID's pushes. Without a
// connection it only logs a SubscriptionWarning.
func (r *Rooms) JoinEvent(eventID string) error {
	if !r.conn.Connected() {
		r.warn(events.ControlJoinEvent, eventID)
		return nil
	}

	r.mu.Lock()
	r.joined[eventID]++
	count := r.joined[eventID]
	r.mu.Unlock()

	if r.config.RefCounted && count > 1 {
		return nil
	}

	if err := r.conn.Emit(events.ControlJoinEvent, events.RoomPayload{EventID: eventID}); err != nil {
		r.release(eventID)
		return fmt.Errorf("join event %s: %w", eventID, err)
	}

	r.logger.Info().Str("event_id", eventID).Int("holders", count).Msg("joined event room")
	return nil
}

// LeaveEvent stops eventID's pushes. Bookkeeping is updated even when the
// connection is down so the room is not rejoined on reconnect.
func (r *Rooms) LeaveEvent(eventID string) error {
	remaining, held := r.release(eventID)

	if !r.conn.Connected() {
		r.warn(events.ControlLeaveEvent, eventID)
		return nil
	}

	if r.config.RefCounted && (!held || remaining > 0) {
		return nil
	}

	if err := r.conn.Emit(events.ControlLeaveEvent, events.RoomPayload{EventID: eventID}); err != nil {
		return fmt.Errorf("leave event %s: %w", eventID, err)
	}

	r.logger.Info().Str("event_id", eventID).Msg("left event room")
	return nil
}

// Watch joins eventID and returns the matching release.
func (r *Rooms) Watch(eventID string) (release func()) {
	if err := r.JoinEvent(eventID); err != nil {
		r.logger.Warn().Err(err).Str("event_id", eventID).Msg("failed to join event room")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := r.LeaveEvent(eventID); err != nil {
				r.logger.Warn().Err(err).Str("event_id", eventID).Msg("failed to leave event room")
			}
		})
	}
}

// Rejoin re-sends join-event for every joined tournament. The server forgets
// rooms with the socket, so this runs after each reconnect. Without ref
// counting each holder's join is replayed, keeping later leaves paired.
func (r *Rooms) Rejoin() {
	for _, h := range r.holds() {
		for i := 0; i < r.wireCount(h.count); i++ {
			if err := r.conn.Emit(events.ControlJoinEvent, events.RoomPayload{EventID: h.eventID}); err != nil {
				r.logger.Warn().Err(err).Str("event_id", h.eventID).Msg("failed to rejoin event room")
				break
			}
		}
		r.logger.Debug().Str("event_id", h.eventID).Int("holders", h.count).Msg("rejoined event room")
	}
}

// LeaveAll releases every holder of every joined tournament.
func (r *Rooms) LeaveAll() {
	r.mu.Lock()
	holds := r.holdsLocked()
	r.joined = make(map[string]int)
	r.mu.Unlock()

	connected := r.conn.Connected()
	for _, h := range holds {
		if !connected {
			r.warn(events.ControlLeaveEvent, h.eventID)
			continue
		}
		for i := 0; i < r.wireCount(h.count); i++ {
			if err := r.conn.Emit(events.ControlLeaveEvent, events.RoomPayload{EventID: h.eventID}); err != nil {
				r.logger.Warn().Err(err).Str("event_id", h.eventID).Msg("failed to leave event room")
				break
			}
		}
	}
}

type hold struct {
	eventID string
	count   int
}

// holds snapshots the joined tournaments, sorted by id.
func (r *Rooms) holds() []hold {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holdsLocked()
}

func (r *Rooms) holdsLocked() []hold {
	out := make([]hold, 0, len(r.joined))
	for id, count := range r.joined {
		out = append(out, hold{eventID: id, count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].eventID < out[j].eventID })
	return out
}

// wireCount is how many control frames stand for count holders.
func (r *Rooms) wireCount(count int) int {
	if r.config.RefCounted {
		return 1
	}
	return count
}

// Joined returns the tournaments currently held, sorted.
func (r *Rooms) Joined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.joined))
	for id := range r.joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Rooms) release(eventID string) (remaining int, held bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, ok := r.joined[eventID]
	if !ok {
		return 0, false
	}
	count--
	if count <= 0 {
		delete(r.joined, eventID)
		return 0, true
	}
	r.joined[eventID] = count
	return count, true
}

func (r *Rooms) warn(action, eventID string) {
	r.metrics.SubscriptionWarning(action)
	r.logger.Warn().
		Err(&SubscriptionWarning{Action: action, EventID: eventID}).
		Str("event_id", eventID).
		Msg("room subscription skipped")
}
