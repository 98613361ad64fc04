package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundScopedTopicIsKeyed(t *testing.T) {
	ev, err := Decode(Frame{
		Type: string(TopicRoundStarted),
		Data: json.RawMessage(`{"eventId":"ev-1","roundNumber":4,"timestamp":"2026-10-14T10:00:00Z"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, TopicRoundStarted, ev.Topic)
	assert.Equal(t, "ev-1", ev.EventID)
	assert.Equal(t, "4", ev.Key)
}

func TestDecode_UnkeyedTopic(t *testing.T) {
	ev, err := Decode(Frame{
		Type: string(TopicStandingsUpdated),
		Data: json.RawMessage(`{"eventId":"ev-1","timestamp":"2026-10-14T10:00:00Z"}`),
	})

	require.NoError(t, err)
	assert.Empty(t, ev.Key)
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode(Frame{Type: string(TopicAnnouncement), Data: json.RawMessage(`{"eventId":`)})
	assert.Error(t, err)
}

func TestParsePayload(t *testing.T) {
	ev := Event{
		Topic: TopicMatchResultReported,
		Data:  json.RawMessage(`{"eventId":"ev-1","matchId":"m-7","tableNumber":3,"timestamp":"2026-10-14T10:00:00Z"}`),
	}

	payload, err := ParsePayload(ev)
	require.NoError(t, err)

	reported, ok := payload.(*MatchResultReportedPayload)
	require.True(t, ok)
	assert.Equal(t, "m-7", reported.MatchID)
	assert.Equal(t, 3, reported.TableNumber)

	_, err = ParsePayload(Event{Topic: "nope", Data: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestKnown(t *testing.T) {
	for _, topic := range AllTopics {
		assert.True(t, Known(topic))
	}
	assert.False(t, Known("draft-started"))
}
