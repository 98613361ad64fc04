package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/matchday/go/internal/dispatch"
	"github.com/mcdev12/matchday/go/internal/events"
	"github.com/mcdev12/matchday/go/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoard(t *testing.T, api *fakeAPI) (*Board, *dispatch.Dispatcher, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	d := dispatch.NewDispatcher(dispatch.DefaultConfig(), clock, nil)
	d.SetLogger(zerolog.Nop())
	t.Cleanup(d.Close)

	board := NewBoard(localUser, api, clock, nil)
	board.SetLogger(zerolog.Nop())
	board.Attach(d)
	t.Cleanup(board.Close)
	return board, d, clock
}

func resultPush(eventID, matchID string) events.Event {
	return events.Event{
		Topic:   events.TopicMatchResultReported,
		EventID: eventID,
		Data:    []byte(`{"eventId":"` + eventID + `","matchId":"` + matchID + `","tableNumber":4}`),
	}
}

func TestBoardResultConsensusScenario(t *testing.T) {
	api := newFakeAPI()
	api.current["evt-1"] = bo3Match("m1")
	board, d, _ := newTestBoard(t, api)
	ctx := context.Background()

	tr, err := board.Track(ctx, "evt-1")
	require.NoError(t, err)
	require.Equal(t, StateNoResult, tr.State())

	require.NoError(t, tr.Report(ctx, models.MatchResultSelfWin, 2, 1))
	assert.Equal(t, StateSelfReported, tr.State())

	// A result for another table does not touch this match.
	d.Publish(resultPush("evt-1", "m-other"))
	board.Wait()
	assert.Equal(t, 0, api.getCount())
	assert.Equal(t, StateSelfReported, tr.State())

	api.mu.Lock()
	api.matches["m1"] = reportedBy(bo3Match("m1"), "user-opp", models.MatchResultOpponentWin, 1, 2)
	api.mu.Unlock()

	// Result pushes are delivered without waiting on the debounce clock.
	d.Publish(resultPush("evt-1", "m1"))
	board.Wait()
	assert.Equal(t, 1, api.getCount())
	assert.Equal(t, StateOpponentReported, tr.State())

	require.NoError(t, tr.Accept(ctx))
	assert.Equal(t, StateConfirmed, tr.State())
}

func TestBoardIgnoresUntrackedEvent(t *testing.T) {
	api := newFakeAPI()
	api.current["evt-1"] = bo3Match("m1")
	board, d, _ := newTestBoard(t, api)

	_, err := board.Track(context.Background(), "evt-1")
	require.NoError(t, err)

	d.Publish(resultPush("evt-2", "m1"))
	board.Wait()
	assert.Equal(t, 0, api.getCount())
}

func TestBoardFollowsNewRound(t *testing.T) {
	api := newFakeAPI()
	api.current["evt-1"] = bo3Match("m1")
	board, d, clock := newTestBoard(t, api)

	var mu sync.Mutex
	var updates []string
	board.OnUpdate(func(eventID string, m models.Match, _ State) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, eventID+"/"+m.ID)
	})

	_, err := board.Track(context.Background(), "evt-1")
	require.NoError(t, err)

	next := bo3Match("m2")
	next.RoundNumber = 2
	api.mu.Lock()
	api.current["evt-1"] = next
	api.mu.Unlock()

	d.Publish(events.Event{
		Topic:   events.TopicPairingsPosted,
		EventID: "evt-1",
		Key:     "2",
		Data:    []byte(`{"eventId":"evt-1","roundNumber":2}`),
	})
	d.Publish(events.Event{
		Topic:   events.TopicRoundStarted,
		EventID: "evt-1",
		Key:     "2",
		Data:    []byte(`{"eventId":"evt-1","roundNumber":2}`),
	})
	clock.Advance(dispatch.DefaultDelay)

	require.Eventually(t, func() bool {
		current, ok := board.Current("evt-1")
		return ok && current.ID() == "m2"
	}, 2*time.Second, 5*time.Millisecond)

	current, _ := board.Current("evt-1")
	assert.Equal(t, 2, current.Match().RoundNumber)
	assert.Equal(t, StateNoResult, current.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "evt-1/m1", updates[0])
	assert.Contains(t, updates, "evt-1/m2")
}

func TestBoardFollowsNewRoundInEachTournament(t *testing.T) {
	api := newFakeAPI()
	api.current["evt-A"] = bo3Match("a1")
	api.current["evt-B"] = bo3Match("b1")
	board, d, clock := newTestBoard(t, api)
	ctx := context.Background()

	for _, eventID := range []string{"evt-A", "evt-B"} {
		_, err := board.Track(ctx, eventID)
		require.NoError(t, err)
	}

	nextA, nextB := bo3Match("a2"), bo3Match("b2")
	nextA.RoundNumber, nextB.RoundNumber = 2, 2
	api.mu.Lock()
	api.current["evt-A"] = nextA
	api.current["evt-B"] = nextB
	api.mu.Unlock()

	for _, eventID := range []string{"evt-A", "evt-B"} {
		d.Publish(events.Event{
			Topic:   events.TopicPairingsPosted,
			EventID: eventID,
			Key:     "2",
			Data:    []byte(`{"eventId":"` + eventID + `","roundNumber":2}`),
		})
	}
	clock.Advance(dispatch.DefaultDelay)

	require.Eventually(t, func() bool {
		a, okA := board.Current("evt-A")
		b, okB := board.Current("evt-B")
		return okA && okB && a.ID() == "a2" && b.ID() == "b2"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBoardCloseStopsRefetching(t *testing.T) {
	api := newFakeAPI()
	api.current["evt-1"] = bo3Match("m1")
	api.matches["m1"] = bo3Match("m1")
	board, d, _ := newTestBoard(t, api)

	_, err := board.Track(context.Background(), "evt-1")
	require.NoError(t, err)

	board.Close()
	d.Publish(resultPush("evt-1", "m1"))
	board.Wait()
	assert.Equal(t, 0, api.getCount())
}

func TestBoardTrackFailure(t *testing.T) {
	api := newFakeAPI()
	board, _, _ := newTestBoard(t, api)

	_, err := board.Track(context.Background(), "evt-missing")
	require.Error(t, err)
	_, ok := board.Current("evt-missing")
	assert.False(t, ok)
}
