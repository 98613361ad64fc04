package tournament_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mcdev12/matchday/go/internal/models"
)

// ReportRequest submits the caller's view of a finished match.
type ReportRequest struct {
	MatchID       string             `json:"matchId"`
	Result        models.MatchResult `json:"result"`
	GamesSelf     int                `json:"gamesSelf"`
	GamesOpponent int                `json:"gamesOpponent"`
}

// ConfirmRequest accepts (Confirm true) or disputes the opponent's report.
// A dispute may carry the caller's counter-result.
type ConfirmRequest struct {
	MatchID       string              `json:"matchId"`
	Confirm       bool                `json:"confirm"`
	Result        *models.MatchResult `json:"result,omitempty"`
	GamesSelf     *int                `json:"gamesSelf,omitempty"`
	GamesOpponent *int                `json:"gamesOpponent,omitempty"`
}

// Ack is the backend's acknowledgement of a report or confirm call.
type Ack struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Match   *models.Match `json:"match,omitempty"`
}

type matchResponse struct {
	Match models.Match `json:"match"`
}

func (c *TournamentClient) GetMatch(ctx context.Context, matchID string) (models.Match, error) {
	body, err := c.Get(ctx, fmt.Sprintf(MatchEndpoint, url.PathEscape(matchID)))
	if err != nil {
		return models.Match{}, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}
	return decodeMatch(body)
}

// GetCurrentMatch returns the local player's match in the event's current round.
func (c *TournamentClient) GetCurrentMatch(ctx context.Context, eventID string) (models.Match, error) {
	body, err := c.Get(ctx, fmt.Sprintf(CurrentMatchEndpoint, url.PathEscape(eventID)))
	if err != nil {
		return models.Match{}, fmt.Errorf("failed to get current match for event %s: %w", eventID, err)
	}
	return decodeMatch(body)
}

func (c *TournamentClient) ReportMatch(ctx context.Context, req ReportRequest) (Ack, error) {
	body, err := c.Post(ctx, fmt.Sprintf(ReportEndpoint, url.PathEscape(req.MatchID)), req)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to report match %s: %w", req.MatchID, err)
	}
	return decodeAck(body)
}

func (c *TournamentClient) ConfirmMatch(ctx context.Context, req ConfirmRequest) (Ack, error) {
	body, err := c.Post(ctx, fmt.Sprintf(ConfirmEndpoint, url.PathEscape(req.MatchID)), req)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to confirm match %s: %w", req.MatchID, err)
	}
	return decodeAck(body)
}

func decodeMatch(body []byte) (models.Match, error) {
	var response matchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return models.Match{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return response.Match, nil
}

func decodeAck(body []byte) (Ack, error) {
	var ack Ack
	if len(body) == 0 {
		return Ack{Success: true}, nil
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return Ack{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return ack, nil
}
