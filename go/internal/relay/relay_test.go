package relay

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/internal/dispatch"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func newTestRelay(t *testing.T, publisher Publisher) (*Relay, *dispatch.Dispatcher, *clockwork.FakeClock, *metrics.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC))
	m := metrics.New(prometheus.NewRegistry())

	d := dispatch.NewDispatcher(dispatch.Config{Delay: dispatch.DefaultDelay, Immediate: events.AllTopics}, clock, m)
	d.SetLogger(zerolog.Nop())
	t.Cleanup(d.Close)

	r := New(publisher, "", clock, m)
	r.SetLogger(zerolog.Nop())
	r.Attach(d)
	t.Cleanup(r.Close)
	return r, d, clock, m
}

func TestRelayPublishesEnvelope(t *testing.T) {
	pub := &mockPublisher{}
	var body []byte
	pub.On("Publish", "matchday.events.evt-1.round-started", mock.Anything).
		Run(func(args mock.Arguments) { body = args.Get(1).([]byte) }).
		Return(nil).Once()

	_, d, clock, _ := newTestRelay(t, pub)
	d.Publish(events.Event{
		Topic:   events.TopicRoundStarted,
		EventID: "evt-1",
		Key:     "3",
		Data:    json.RawMessage(`{"eventId":"evt-1","roundNumber":3}`),
	})

	pub.AssertExpectations(t)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, events.TopicRoundStarted, env.Topic)
	assert.Equal(t, "evt-1", env.EventID)
	assert.Equal(t, "3", env.Key)
	assert.True(t, clock.Now().Equal(env.RelayedAt))
	assert.JSONEq(t, `{"eventId":"evt-1","roundNumber":3}`, string(env.Payload))
}

func TestRelayCountsPublishFailures(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats: connection closed"))

	_, d, _, m := newTestRelay(t, pub)
	d.Publish(events.Event{Topic: events.TopicAnnouncement, EventID: "evt-1", Data: json.RawMessage(`{}`)})
	d.Publish(events.Event{Topic: events.TopicStandingsUpdated, EventID: "evt-1", Data: json.RawMessage(`{}`)})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RelayPublishFailures))
	pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestRelayCloseStopsForwarding(t *testing.T) {
	pub := &mockPublisher{}
	r, d, _, _ := newTestRelay(t, pub)

	r.Close()
	d.Publish(events.Event{Topic: events.TopicAnnouncement, EventID: "evt-1"})

	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestSubject(t *testing.T) {
	r := New(&mockPublisher{}, "overlay", clockwork.NewFakeClock(), nil)

	tests := []struct {
		name    string
		eventID string
		want    string
	}{
		{"plain id", "evt-1", "overlay.evt-1.timer-update"},
		{"empty id", "", "overlay.global.timer-update"},
		{"separators replaced", "a.b*c>d", "overlay.a_b_c_d.timer-update"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Subject(events.Event{Topic: events.TopicTimerUpdate, EventID: tt.eventID})
			assert.Equal(t, tt.want, got)
		})
	}
}
