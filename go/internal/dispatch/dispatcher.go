package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDelay is the quiet period before a debounced topic is delivered.
const DefaultDelay = 300 * time.Millisecond

// Callback receives a delivered event. It runs on the dispatcher's timer
// goroutine (debounced topics) or on the publisher's goroutine (immediate topics).
type Callback func(ev events.Event)

// Config controls which topics coalesce and for how long.
type Config struct {
	Delay       time.Duration
	TopicDelays map[events.Topic]time.Duration
	Immediate   []events.Topic
}

// DefaultConfig debounces every topic by 300ms except match-result-reported.
func DefaultConfig() Config {
	return Config{
		Delay:     DefaultDelay,
		Immediate: []events.Topic{events.TopicMatchResultReported},
	}
}

// Dispatcher fans raw push events out to subscribers. Each push is a refresh
// hint, so debounced deliveries carry only the most recent payload per
// (subscription, event, key).
type Dispatcher struct {
	mu        sync.Mutex
	subs      map[events.Topic]map[uint64]*subscription
	nextID    uint64
	seq       uint64
	closed    bool
	immediate map[events.Topic]bool

	config  Config
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type subscription struct {
	id       uint64
	topic    events.Topic
	key      string
	eventID  string
	callback Callback
	pending  map[string]*pendingDelivery
	removed  atomic.Bool
}

type pendingDelivery struct {
	timer clockwork.Timer
	seq   uint64
	event events.Event
}

// SubscribeOption narrows a subscription.
type SubscribeOption func(*subscription)

// WithKey restricts delivery to events carrying key, e.g. one round number.
func WithKey(key string) SubscribeOption {
	return func(s *subscription) { s.key = key }
}

// WithEventID restricts delivery to one tournament.
func WithEventID(eventID string) SubscribeOption {
	return func(s *subscription) { s.eventID = eventID }
}

func NewDispatcher(config Config, clock clockwork.Clock, m *metrics.Metrics) *Dispatcher {
	if config.Delay <= 0 {
		config.Delay = DefaultDelay
	}
	immediate := make(map[events.Topic]bool, len(config.Immediate))
	for _, topic := range config.Immediate {
		immediate[topic] = true
	}
	return &Dispatcher{
		subs:      make(map[events.Topic]map[uint64]*subscription),
		immediate: immediate,
		config:    config,
		clock:     clock,
		metrics:   m,
		logger:    log.Logger,
	}
}

func (d *Dispatcher) SetLogger(logger zerolog.Logger) {
	d.logger = logger
}

// Subscribe registers callback for topic. The returned function releases the
// subscription and cancels its pending timers; it is safe to call more than once.
// Once it returns, no delivery starts for the subscription.
func (d *Dispatcher) Subscribe(topic events.Topic, callback Callback, opts ...SubscribeOption) (unsubscribe func()) {
	sub := &subscription{
		topic:    topic,
		callback: callback,
		pending:  make(map[string]*pendingDelivery),
	}
	for _, opt := range opts {
		opt(sub)
	}

	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	if d.subs[topic] == nil {
		d.subs[topic] = make(map[uint64]*subscription)
	}
	d.subs[topic][sub.id] = sub
	d.mu.Unlock()

	d.logger.Debug().
		Str("topic", string(topic)).
		Str("key", sub.key).
		Msg("subscribed")

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(sub) })
	}
}

func (d *Dispatcher) remove(sub *subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub.removed.Store(true)
	for key, p := range sub.pending {
		p.timer.Stop()
		delete(sub.pending, key)
	}
	if topicSubs, ok := d.subs[sub.topic]; ok {
		delete(topicSubs, sub.id)
		if len(topicSubs) == 0 {
			delete(d.subs, sub.topic)
		}
	}
}

// Publish routes ev to every matching subscription. It never blocks on timers.
func (d *Dispatcher) Publish(ev events.Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	var targets []*subscription
	for _, sub := range d.subs[ev.Topic] {
		if sub.matches(ev) {
			targets = append(targets, sub)
		}
	}

	if d.immediate[ev.Topic] {
		d.mu.Unlock()
		for _, sub := range targets {
			d.deliver(sub, ev, "immediate")
		}
		return
	}

	delay := d.delayFor(ev.Topic)
	for _, sub := range targets {
		d.schedule(sub, ev, delay)
	}
	d.mu.Unlock()
}

// schedule restarts the (subscription, event, key) timer; callers hold d.mu.
func (d *Dispatcher) schedule(sub *subscription, ev events.Event, delay time.Duration) {
	d.seq++
	seq := d.seq

	key := pendingKey(ev)
	if p, ok := sub.pending[key]; ok {
		p.timer.Stop()
		d.metrics.Coalesced(string(ev.Topic))
	}

	sub.pending[key] = &pendingDelivery{
		seq:   seq,
		event: ev,
		timer: d.clock.AfterFunc(delay, func() { d.fire(sub, key, seq) }),
	}
}

func (d *Dispatcher) fire(sub *subscription, key string, seq uint64) {
	d.mu.Lock()
	p, ok := sub.pending[key]
	if !ok || p.seq != seq || sub.removed.Load() {
		d.mu.Unlock()
		return
	}
	delete(sub.pending, key)
	d.mu.Unlock()

	d.deliver(sub, p.event, "debounced")
}

// deliver runs the callback unless the subscription was released. A release
// racing a callback that already started does not interrupt it.
func (d *Dispatcher) deliver(sub *subscription, ev events.Event, mode string) {
	if sub.removed.Load() {
		return
	}
	d.metrics.Delivered(string(ev.Topic), mode)
	sub.callback(ev)
}

// pendingKey scopes coalescing to one tournament, so hints from different
// events never replace each other.
func pendingKey(ev events.Event) string {
	return ev.EventID + "/" + ev.Key
}

func (d *Dispatcher) delayFor(topic events.Topic) time.Duration {
	if delay, ok := d.config.TopicDelays[topic]; ok && delay > 0 {
		return delay
	}
	return d.config.Delay
}

// Pending returns the number of deliveries waiting on a timer.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, topicSubs := range d.subs {
		for _, sub := range topicSubs {
			n += len(sub.pending)
		}
	}
	return n
}

// Close cancels every pending delivery and drops later publishes.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for _, topicSubs := range d.subs {
		for _, sub := range topicSubs {
			for key, p := range sub.pending {
				p.timer.Stop()
				delete(sub.pending, key)
			}
		}
	}
}

func (s *subscription) matches(ev events.Event) bool {
	if s.key != "" && s.key != ev.Key {
		return false
	}
	if s.eventID != "" && s.eventID != ev.EventID {
		return false
	}
	return true
}
