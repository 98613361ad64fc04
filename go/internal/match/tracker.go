package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/clients/tournament_client"
	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/mcdev12/matchday/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the consensus state of one match as seen by the local player.
type State int

const (
	StateNoResult State = iota
	StateSelfReported
	StateOpponentReported
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateNoResult:
		return "no_result"
	case StateSelfReported:
		return "self_reported"
	case StateOpponentReported:
		return "opponent_reported"
	case StateConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MatchAPI is the subset of the tournament backend the trackers use.
type MatchAPI interface {
	GetMatch(ctx context.Context, matchID string) (models.Match, error)
	GetCurrentMatch(ctx context.Context, eventID string) (models.Match, error)
	ReportMatch(ctx context.Context, req tournament_client.ReportRequest) (tournament_client.Ack, error)
	ConfirmMatch(ctx context.Context, req tournament_client.ConfirmRequest) (tournament_client.Ack, error)
}

// Counter is the result a disputing player believes is correct.
type Counter struct {
	Result        models.MatchResult
	GamesSelf     int
	GamesOpponent int
}

// ChangeListener observes every change to a tracked match.
type ChangeListener func(match models.Match, state State)

// Tracker runs the report/accept/dispute protocol for one match.
type Tracker struct {
	mu       sync.Mutex
	match    models.Match
	disputed *models.Submission
	history  []models.Submission
	inFlight bool
	// pendingEcho is set while a successful report is not yet visible in
	// server snapshots.
	pendingEcho bool

	userID    string
	api       MatchAPI
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	listeners []ChangeListener
}

func NewTracker(match models.Match, userID string, api MatchAPI, clock clockwork.Clock, m *metrics.Metrics) *Tracker {
	t := &Tracker{
		match:   match,
		userID:  userID,
		api:     api,
		clock:   clock,
		metrics: m,
		logger:  log.Logger.With().Str("match_id", match.ID).Logger(),
	}
	if sub, ok := match.Submission(); ok {
		t.history = append(t.history, sub)
	}
	return t
}

func (t *Tracker) SetLogger(logger zerolog.Logger) {
	t.logger = logger.With().Str("match_id", t.match.ID).Logger()
}

// OnChange registers fn to run after every applied change.
func (t *Tracker) OnChange(fn ChangeListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// ID returns the tracked match id.
func (t *Tracker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.match.ID
}

// Match returns the current snapshot.
func (t *Tracker) Match() models.Match {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.match
}

// State returns the current consensus state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// History returns every distinct submission seen for this match, oldest
// first. Disputed reports stay in the list.
func (t *Tracker) History() []models.Submission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Submission{}, t.history...)
}

func (t *Tracker) stateLocked() State {
	if t.match.Confirmed() {
		return StateConfirmed
	}
	sub, ok := t.match.Submission()
	if !ok {
		return StateNoResult
	}
	if t.disputed != nil && models.SameReport(*t.disputed, sub) {
		return StateNoResult
	}
	if t.match.ReportedByUser(t.userID) {
		return StateSelfReported
	}
	return StateOpponentReported
}

// Report submits the local player's result. It is only legal from
// StateNoResult, and the score is validated before anything is sent.
func (t *Tracker) Report(ctx context.Context, result models.MatchResult, gamesSelf, gamesOpponent int) error {
	t.mu.Lock()
	state := t.stateLocked()
	if state != StateNoResult {
		t.mu.Unlock()
		t.illegal("report", state)
		return nil
	}
	if t.inFlight {
		t.mu.Unlock()
		return nil
	}
	match := t.match

	if err := ValidateScore(match.Format, result, gamesSelf, gamesOpponent); err != nil {
		t.mu.Unlock()
		t.metrics.ValidationRejected(string(match.Format))
		return err
	}
	t.inFlight = true
	t.mu.Unlock()

	ack, err := t.api.ReportMatch(ctx, tournament_client.ReportRequest{
		MatchID:       match.ID,
		Result:        result,
		GamesSelf:     gamesSelf,
		GamesOpponent: gamesOpponent,
	})
	if err == nil && !ack.Success {
		err = fmt.Errorf("%w: %s", ErrRejected, ack.Message)
	}
	if err != nil {
		t.finish()
		t.logger.Warn().Err(err).Str("result", string(result)).Msg("failed to report match result")
		return fmt.Errorf("report match %s: %w", match.ID, err)
	}

	t.mu.Lock()
	t.inFlight = false
	if ack.Match != nil {
		t.mergeLocked(*ack.Match)
	}
	if !t.match.ReportedByUser(t.userID) {
		// Server echo has not caught up; hold the submitted result locally.
		userID := t.userID
		t.match.ReportedBy = &userID
		t.match.Result = &result
		t.match.GamesWonSelf = gamesSelf
		t.match.GamesWonOpponent = gamesOpponent
		t.pendingEcho = true
	}
	t.recordLocked()
	t.mu.Unlock()

	t.logger.Info().
		Str("result", string(result)).
		Int("games_self", gamesSelf).
		Int("games_opponent", gamesOpponent).
		Msg("match result reported")
	t.changed()
	return nil
}

// Accept confirms the opponent's report. It is only legal from
// StateOpponentReported; taps while a call is in flight are ignored.
func (t *Tracker) Accept(ctx context.Context) error {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		t.logger.Debug().Msg("accept already in flight")
		return nil
	}
	state := t.stateLocked()
	if state != StateOpponentReported {
		t.mu.Unlock()
		t.illegal("accept", state)
		return nil
	}
	t.inFlight = true
	matchID := t.match.ID
	t.mu.Unlock()

	ack, err := t.api.ConfirmMatch(ctx, tournament_client.ConfirmRequest{MatchID: matchID, Confirm: true})
	if err == nil && !ack.Success {
		err = fmt.Errorf("%w: %s", ErrRejected, ack.Message)
	}
	if err != nil {
		t.finish()
		t.logger.Warn().Err(err).Msg("failed to accept match result")
		return fmt.Errorf("accept match %s: %w", matchID, err)
	}

	t.mu.Lock()
	t.inFlight = false
	if ack.Match != nil {
		t.mergeLocked(*ack.Match)
	}
	if !t.match.Confirmed() {
		userID := t.userID
		t.match.ConfirmedBy = &userID
	}
	t.mu.Unlock()

	t.logger.Info().Msg("match result accepted")
	t.changed()
	return nil
}

// Dispute rejects the opponent's report, optionally with the result the
// local player believes is correct. The opponent's submission is kept in
// History and the match returns to StateNoResult until someone resubmits.
func (t *Tracker) Dispute(ctx context.Context, counter *Counter) error {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		t.logger.Debug().Msg("dispute already in flight")
		return nil
	}
	state := t.stateLocked()
	if state != StateOpponentReported {
		t.mu.Unlock()
		t.illegal("dispute", state)
		return nil
	}
	match := t.match

	req := tournament_client.ConfirmRequest{MatchID: match.ID, Confirm: false}
	if counter != nil {
		if err := ValidateScore(match.Format, counter.Result, counter.GamesSelf, counter.GamesOpponent); err != nil {
			t.mu.Unlock()
			t.metrics.ValidationRejected(string(match.Format))
			return err
		}
		result, self, opp := counter.Result, counter.GamesSelf, counter.GamesOpponent
		req.Result = &result
		req.GamesSelf = &self
		req.GamesOpponent = &opp
	}
	t.inFlight = true
	t.mu.Unlock()

	ack, err := t.api.ConfirmMatch(ctx, req)
	if err == nil && !ack.Success {
		err = fmt.Errorf("%w: %s", ErrRejected, ack.Message)
	}
	if err != nil {
		t.finish()
		t.logger.Warn().Err(err).Msg("failed to dispute match result")
		return fmt.Errorf("dispute match %s: %w", match.ID, err)
	}

	t.mu.Lock()
	t.inFlight = false
	if sub, ok := match.Submission(); ok {
		sub.Disputed = true
		t.disputed = &sub
		t.markDisputedLocked(sub)
	}
	if ack.Match != nil {
		t.mergeLocked(*ack.Match)
	}
	t.mu.Unlock()

	t.logger.Info().Bool("counter", counter != nil).Msg("match result disputed")
	t.changed()
	return nil
}

// Apply merges a server snapshot of the same match. A confirmation is never
// reverted, a local report still waiting for its server echo is kept, and a
// disputed report stays hidden until the server shows a different one. It
// reports whether the snapshot was used.
func (t *Tracker) Apply(m models.Match) bool {
	t.mu.Lock()
	if m.ID != t.match.ID {
		t.mu.Unlock()
		return false
	}
	if !m.UpdatedAt.IsZero() && m.UpdatedAt.Before(t.match.UpdatedAt) {
		t.mu.Unlock()
		t.logger.Debug().Time("updated_at", m.UpdatedAt).Msg("ignoring stale match snapshot")
		return false
	}
	before := t.stateLocked()
	t.mergeLocked(m)
	after := t.stateLocked()
	t.mu.Unlock()

	if before != after {
		t.logger.Info().Str("from", before.String()).Str("to", after.String()).Msg("match state changed")
	}
	t.changed()
	return true
}

func (t *Tracker) mergeLocked(m models.Match) {
	prev := t.match
	t.match = m

	if t.pendingEcho {
		if !m.Reported() {
			t.match.ReportedBy = prev.ReportedBy
			t.match.Result = prev.Result
			t.match.GamesWonSelf = prev.GamesWonSelf
			t.match.GamesWonOpponent = prev.GamesWonOpponent
		} else {
			t.pendingEcho = false
		}
	}
	if prev.Confirmed() && !m.Confirmed() {
		t.match.ConfirmedBy = prev.ConfirmedBy
		t.match.IsByeMatch = prev.IsByeMatch
	}

	if sub, ok := t.match.Submission(); ok && t.disputed != nil && !models.SameReport(*t.disputed, sub) {
		t.disputed = nil
	}
	t.recordLocked()
}

// recordLocked appends the current submission unless it is already the latest entry.
func (t *Tracker) recordLocked() {
	sub, ok := t.match.Submission()
	if !ok {
		return
	}
	if n := len(t.history); n > 0 && models.SameReport(t.history[n-1], sub) {
		return
	}
	if sub.RecordedAt.IsZero() {
		sub.RecordedAt = t.clock.Now()
	}
	t.history = append(t.history, sub)
}

func (t *Tracker) markDisputedLocked(sub models.Submission) {
	for i := len(t.history) - 1; i >= 0; i-- {
		if models.SameReport(t.history[i], sub) {
			t.history[i].Disputed = true
			return
		}
	}
	if sub.RecordedAt.IsZero() {
		sub.RecordedAt = t.clock.Now()
	}
	t.history = append(t.history, sub)
}

func (t *Tracker) finish() {
	t.mu.Lock()
	t.inFlight = false
	t.mu.Unlock()
}

func (t *Tracker) illegal(op string, state State) {
	t.metrics.ProtocolStateError(op)
	t.logger.Warn().
		Err(&ProtocolStateError{MatchID: t.ID(), Operation: op, State: state}).
		Msg("ignoring illegal match operation")
}

func (t *Tracker) changed() {
	t.mu.Lock()
	match := t.match
	state := t.stateLocked()
	listeners := append([]ChangeListener{}, t.listeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(match, state)
	}
}
