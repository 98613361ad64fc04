package match

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/internal/dispatch"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/mcdev12/matchday/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const fetchTimeout = 10 * time.Second

// Subscriber is the dispatcher surface the board listens on.
type Subscriber interface {
	Subscribe(topic events.Topic, callback dispatch.Callback, opts ...dispatch.SubscribeOption) (unsubscribe func())
}

// UpdateListener observes every change to the current match of an event.
type UpdateListener func(eventID string, match models.Match, state State)

// Board keeps a Tracker for the local player's current match in each
// followed event and refreshes it from push hints.
type Board struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	unsubs   []func()
	wg       sync.WaitGroup

	userID    string
	api       MatchAPI
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	listeners []UpdateListener
}

func NewBoard(userID string, api MatchAPI, clock clockwork.Clock, m *metrics.Metrics) *Board {
	return &Board{
		trackers: make(map[string]*Tracker),
		userID:   userID,
		api:      api,
		clock:    clock,
		metrics:  m,
		logger:   log.Logger,
	}
}

func (b *Board) SetLogger(logger zerolog.Logger) {
	b.logger = logger
}

// OnUpdate registers fn for changes to any tracked match.
func (b *Board) OnUpdate(fn UpdateListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Attach subscribes the board to the pushes that can change a match.
func (b *Board) Attach(sub Subscriber) {
	unsubs := []func(){
		sub.Subscribe(events.TopicMatchResultReported, b.handleResultReported),
		sub.Subscribe(events.TopicPairingsPosted, b.handleRoundChange),
		sub.Subscribe(events.TopicRoundStarted, b.handleRoundChange),
	}

	b.mu.Lock()
	b.unsubs = append(b.unsubs, unsubs...)
	b.mu.Unlock()
}

// Track fetches the current match for eventID and starts following it.
func (b *Board) Track(ctx context.Context, eventID string) (*Tracker, error) {
	match, err := b.api.GetCurrentMatch(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("fetch current match for event %s: %w", eventID, err)
	}
	return b.install(eventID, match), nil
}

// Untrack stops following eventID.
func (b *Board) Untrack(eventID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.trackers, eventID)
}

// Current returns the tracker for eventID, if any.
func (b *Board) Current(eventID string) (*Tracker, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.trackers[eventID]
	return t, ok
}

// Wait blocks until every push-triggered refetch has finished.
func (b *Board) Wait() {
	b.wg.Wait()
}

// Close unsubscribes from the dispatcher. Refetches already running finish
// on their own.
func (b *Board) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (b *Board) install(eventID string, match models.Match) *Tracker {
	t := NewTracker(match, b.userID, b.api, b.clock, b.metrics)
	t.SetLogger(b.logger.With().Str("event_id", eventID).Logger())
	t.OnChange(func(m models.Match, state State) { b.notify(eventID, m, state) })

	b.mu.Lock()
	b.trackers[eventID] = t
	b.mu.Unlock()

	b.logger.Info().
		Str("event_id", eventID).
		Str("match_id", match.ID).
		Int("round", match.RoundNumber).
		Msg("tracking match")
	b.notify(eventID, t.Match(), t.State())
	return t
}

func (b *Board) handleResultReported(ev events.Event) {
	var payload events.MatchResultReportedPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		b.logger.Warn().Err(err).Msg("failed to parse match-result-reported payload")
		return
	}

	t, ok := b.Current(ev.EventID)
	if !ok || t.ID() != payload.MatchID {
		b.logger.Debug().
			Str("event_id", ev.EventID).
			Str("match_id", payload.MatchID).
			Msg("ignoring result push for untracked match")
		return
	}

	b.refetch(func(ctx context.Context) {
		match, err := b.api.GetMatch(ctx, payload.MatchID)
		if err != nil {
			b.logger.Warn().Err(err).Str("match_id", payload.MatchID).Msg("failed to refetch match")
			return
		}
		t.Apply(match)
	})
}

func (b *Board) handleRoundChange(ev events.Event) {
	t, ok := b.Current(ev.EventID)
	if !ok {
		return
	}

	b.refetch(func(ctx context.Context) {
		match, err := b.api.GetCurrentMatch(ctx, ev.EventID)
		if err != nil {
			b.logger.Warn().Err(err).Str("event_id", ev.EventID).Msg("failed to refetch current match")
			return
		}

		current, still := b.Current(ev.EventID)
		if !still || current != t {
			return
		}
		if match.ID != t.ID() {
			b.install(ev.EventID, match)
			return
		}
		t.Apply(match)
	})
}

func (b *Board) refetch(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (b *Board) notify(eventID string, match models.Match, state State) {
	b.mu.Lock()
	listeners := append([]UpdateListener{}, b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(eventID, match, state)
	}
}
