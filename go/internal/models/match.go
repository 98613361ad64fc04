package models

import "time"

// MatchResult is a reported outcome, always from the local player's point of view.
type MatchResult string

const (
	MatchResultSelfWin     MatchResult = "SELF_WIN"
	MatchResultOpponentWin MatchResult = "OPPONENT_WIN"
	MatchResultDraw        MatchResult = "DRAW"
)

// Valid reports whether r is one of the known results.
func (r MatchResult) Valid() bool {
	switch r {
	case MatchResultSelfWin, MatchResultOpponentWin, MatchResultDraw:
		return true
	default:
		return false
	}
}

// MatchFormat defines how many games decide a match.
type MatchFormat string

const (
	MatchFormatBestOfOne   MatchFormat = "BO1"
	MatchFormatBestOfThree MatchFormat = "BO3"
)

// Match mirrors one pairing as the server reports it to the local player.
// Matches are created at pairing time and only change through report/confirm
// calls and push-triggered refetches.
type Match struct {
	ID               string       `json:"id"`
	EventID          string       `json:"eventId"`
	RoundNumber      int          `json:"roundNumber"`
	TableNumber      int          `json:"tableNumber"`
	Format           MatchFormat  `json:"format"`
	OpponentRef      *string      `json:"opponentRef"`
	ReportedBy       *string      `json:"reportedBy"`
	ConfirmedBy      *string      `json:"confirmedBy"`
	Result           *MatchResult `json:"result"`
	GamesWonSelf     int          `json:"gamesWonSelf"`
	GamesWonOpponent int          `json:"gamesWonOpponent"`
	IsByeMatch       bool         `json:"isByeMatch"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Reported reports whether any party has submitted a result.
func (m Match) Reported() bool {
	return m.ReportedBy != nil && m.Result != nil
}

// Confirmed reports whether the result is final.
func (m Match) Confirmed() bool {
	return m.IsByeMatch || m.ConfirmedBy != nil
}

// ReportedByUser reports whether userID submitted the current result.
func (m Match) ReportedByUser(userID string) bool {
	return m.ReportedBy != nil && *m.ReportedBy == userID
}

// Submission is one party's reported result, kept for external arbitration.
type Submission struct {
	ReportedBy       string      `json:"reportedBy"`
	Result           MatchResult `json:"result"`
	GamesWonSelf     int         `json:"gamesWonSelf"`
	GamesWonOpponent int         `json:"gamesWonOpponent"`
	Disputed         bool        `json:"disputed"`
	RecordedAt       time.Time   `json:"recordedAt"`
}

// Submission returns the current report of m, if any.
func (m Match) Submission() (Submission, bool) {
	if !m.Reported() {
		return Submission{}, false
	}
	return Submission{
		ReportedBy:       *m.ReportedBy,
		Result:           *m.Result,
		GamesWonSelf:     m.GamesWonSelf,
		GamesWonOpponent: m.GamesWonOpponent,
		RecordedAt:       m.UpdatedAt,
	}, true
}

// SameReport reports whether a and b carry the same submitted result.
func SameReport(a, b Submission) bool {
	return a.ReportedBy == b.ReportedBy &&
		a.Result == b.Result &&
		a.GamesWonSelf == b.GamesWonSelf &&
		a.GamesWonOpponent == b.GamesWonOpponent
}
