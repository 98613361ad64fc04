package companion

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/mcdev12/matchday/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Status is a point-in-time view of the companion for overlays and health checks.
type Status struct {
	Connection string        `json:"connection"`
	LastError  string        `json:"lastError,omitempty"`
	Rooms      []string      `json:"rooms"`
	Matches    []MatchStatus `json:"matches"`
}

type MatchStatus struct {
	EventID string       `json:"eventId"`
	State   string       `json:"state"`
	Match   models.Match `json:"match"`
}

// Status collects the current connection, rooms and tracked matches.
func (a *App) Status() Status {
	state, err := a.conn.State()
	status := Status{
		Connection: state.String(),
		Rooms:      a.rooms.Joined(),
		Matches:    []MatchStatus{},
	}
	if err != nil {
		status.LastError = err.Error()
	}

	a.mu.Lock()
	followed := make([]string, 0, len(a.followed))
	for eventID := range a.followed {
		followed = append(followed, eventID)
	}
	board := a.board
	a.mu.Unlock()
	sort.Strings(followed)

	if board == nil {
		return status
	}
	for _, eventID := range followed {
		tracker, ok := board.Current(eventID)
		if !ok {
			continue
		}
		status.Matches = append(status.Matches, MatchStatus{
			EventID: eventID,
			State:   tracker.State().String(),
			Match:   tracker.Match(),
		})
	}
	return status
}

// StatusHandler serves Status as JSON.
func StatusHandler(a *App) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.Status()); err != nil {
			log.Error().Err(err).Msg("failed to write status response")
		}
	})
}
