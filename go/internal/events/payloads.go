package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Topic names a push channel.
type Topic string

const (
	TopicPairingsPosted      Topic = "pairings-posted"
	TopicStandingsUpdated    Topic = "standings-updated"
	TopicRoundStarted        Topic = "round-started"
	TopicRoundEnded          Topic = "round-ended"
	TopicMatchResultReported Topic = "match-result-reported"
	TopicTournamentCompleted Topic = "tournament-completed"
	TopicTimerUpdate         Topic = "timer-update"
	TopicAnnouncement        Topic = "announcement"
)

// Control messages sent by the client.
const (
	ControlAuth       = "auth"
	ControlJoinEvent  = "join-event"
	ControlLeaveEvent = "leave-event"
)

// AllTopics lists every inbound topic.
var AllTopics = []Topic{
	TopicPairingsPosted,
	TopicStandingsUpdated,
	TopicRoundStarted,
	TopicRoundEnded,
	TopicMatchResultReported,
	TopicTournamentCompleted,
	TopicTimerUpdate,
	TopicAnnouncement,
}

// Frame is the wire envelope for both directions of the push socket.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RoomPayload is the body of join-event and leave-event.
type RoomPayload struct {
	EventID string `json:"eventId"`
}

// AuthPayload is the first frame sent after the socket opens.
type AuthPayload struct {
	Token string `json:"token"`
}

type PairingsPostedPayload struct {
	EventID     string    `json:"eventId"`
	RoundNumber int       `json:"roundNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

type StandingsUpdatedPayload struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

type RoundStartedPayload struct {
	EventID     string    `json:"eventId"`
	RoundNumber int       `json:"roundNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

type RoundEndedPayload struct {
	EventID     string    `json:"eventId"`
	RoundNumber int       `json:"roundNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

type MatchResultReportedPayload struct {
	EventID     string    `json:"eventId"`
	MatchID     string    `json:"matchId"`
	TableNumber int       `json:"tableNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

type TournamentCompletedPayload struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

type TimerUpdatePayload struct {
	EventID          string `json:"eventId"`
	RoundNumber      int    `json:"roundNumber"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

type AnnouncementPayload struct {
	EventID   string    `json:"eventId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one decoded push: its topic, debounce key and raw payload.
type Event struct {
	Topic   Topic
	EventID string
	Key     string
	Data    json.RawMessage
}

// header holds the fields used for routing; every payload is a superset.
type header struct {
	EventID     string `json:"eventId"`
	RoundNumber *int   `json:"roundNumber"`
}

// Decode turns a frame into an Event. Round-scoped topics are keyed by
// round number so unrelated rounds do not coalesce.
func Decode(frame Frame) (Event, error) {
	ev := Event{Topic: Topic(frame.Type), Data: frame.Data}

	var h header
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &h); err != nil {
			return Event{}, fmt.Errorf("unmarshal %s payload: %w", frame.Type, err)
		}
	}
	ev.EventID = h.EventID
	if h.RoundNumber != nil {
		ev.Key = strconv.Itoa(*h.RoundNumber)
	}
	return ev, nil
}

// Known reports whether t is an inbound topic this client understands.
func Known(t Topic) bool {
	for _, known := range AllTopics {
		if known == t {
			return true
		}
	}
	return false
}

// ParsePayload parses event data into the appropriate payload struct
func ParsePayload(ev Event) (any, error) {
	var target any
	switch ev.Topic {
	case TopicPairingsPosted:
		target = &PairingsPostedPayload{}
	case TopicStandingsUpdated:
		target = &StandingsUpdatedPayload{}
	case TopicRoundStarted:
		target = &RoundStartedPayload{}
	case TopicRoundEnded:
		target = &RoundEndedPayload{}
	case TopicMatchResultReported:
		target = &MatchResultReportedPayload{}
	case TopicTournamentCompleted:
		target = &TournamentCompletedPayload{}
	case TopicTimerUpdate:
		target = &TimerUpdatePayload{}
	case TopicAnnouncement:
		target = &AnnouncementPayload{}
	default:
		return nil, fmt.Errorf("unknown topic: %s", ev.Topic)
	}

	if err := json.Unmarshal(ev.Data, target); err != nil {
		return nil, err
	}
	return target, nil
}
