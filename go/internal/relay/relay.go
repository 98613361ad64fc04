package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/internal/dispatch"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultSubjectPrefix roots every relayed subject.
	DefaultSubjectPrefix = "matchday.events"

	natsMaxReconnects = -1
	natsReconnectWait = 2 * time.Second

	// globalToken replaces an empty event id, which is not a valid subject token.
	globalToken = "global"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscriber is the dispatcher surface the relay listens on.
type Subscriber interface {
	Subscribe(topic events.Topic, callback dispatch.Callback, opts ...dispatch.SubscribeOption) (unsubscribe func())
}

// Envelope is the message body published for each delivered event.
type Envelope struct {
	ID        string          `json:"id"`
	Topic     events.Topic    `json:"topic"`
	EventID   string          `json:"eventId"`
	Key       string          `json:"key,omitempty"`
	RelayedAt time.Time       `json:"relayedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// Relay republishes dispatched events on NATS so overlays and other local
// processes can follow the event without their own push connection.
type Relay struct {
	publisher Publisher
	prefix    string
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu     sync.Mutex
	unsubs []func()
}

func New(publisher Publisher, prefix string, clock clockwork.Clock, m *metrics.Metrics) *Relay {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Relay{
		publisher: publisher,
		prefix:    prefix,
		clock:     clock,
		metrics:   m,
		logger:    log.Logger,
	}
}

func (r *Relay) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// Attach subscribes to every topic. Debounced topics are relayed after
// coalescing, the same way UI consumers see them.
func (r *Relay) Attach(sub Subscriber) {
	unsubs := make([]func(), 0, len(events.AllTopics))
	for _, topic := range events.AllTopics {
		unsubs = append(unsubs, sub.Subscribe(topic, r.forward))
	}

	r.mu.Lock()
	r.unsubs = append(r.unsubs, unsubs...)
	r.mu.Unlock()
}

// Close unsubscribes from the dispatcher. The NATS connection is owned by the caller.
func (r *Relay) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// Subject returns the subject ev is published on: <prefix>.<eventId>.<topic>.
func (r *Relay) Subject(ev events.Event) string {
	eventID := sanitizeToken(ev.EventID)
	if eventID == "" {
		eventID = globalToken
	}
	return fmt.Sprintf("%s.%s.%s", r.prefix, eventID, ev.Topic)
}

func (r *Relay) forward(ev events.Event) {
	payload := ev.Data
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	data, err := json.Marshal(Envelope{
		ID:        uuid.New().String(),
		Topic:     ev.Topic,
		EventID:   ev.EventID,
		Key:       ev.Key,
		RelayedAt: r.clock.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		r.metrics.RelayFailed()
		r.logger.Error().Err(err).Str("topic", string(ev.Topic)).Msg("failed to marshal relay envelope")
		return
	}

	subject := r.Subject(ev)
	if err := r.publisher.Publish(subject, data); err != nil {
		r.metrics.RelayFailed()
		r.logger.Warn().Err(err).Str("subject", subject).Msg("failed to relay event")
		return
	}
	r.logger.Debug().Str("subject", subject).Int("size", len(data)).Msg("relayed event")
}

// sanitizeToken strips characters NATS treats as subject separators or wildcards.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Connect dials NATS with unlimited reconnects.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("matchday-relay"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}
