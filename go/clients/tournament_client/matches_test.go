package tournament_client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/matchday/go/clients"
	"github.com/mcdev12/matchday/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedTokens struct{}

func (fixedTokens) AccessToken() (string, bool) { return "tok", true }

func (fixedTokens) Refresh(context.Context, string) (string, error) {
	return "", clients.ErrAuthenticationLost
}

func TestTournamentClient_ReportMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/matches/m-1/report", r.URL.Path)
		assert.Equal(t, ClientName, r.Header.Get(ClientHeader))

		var req ReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ReportRequest{MatchID: "m-1", Result: models.MatchResultSelfWin, GamesSelf: 2, GamesOpponent: 1}, req)

		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := NewTournamentClient(server.URL, fixedTokens{})
	ack, err := client.ReportMatch(context.Background(), ReportRequest{
		MatchID:       "m-1",
		Result:        models.MatchResultSelfWin,
		GamesSelf:     2,
		GamesOpponent: 1,
	})

	require.NoError(t, err)
	assert.True(t, ack.Success)
}

func TestTournamentClient_ConfirmOmitsEmptyCounterResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/matches/m-1/confirm", r.URL.Path)

		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, map[string]any{"matchId": "m-1", "confirm": true}, raw)
	}))
	defer server.Close()

	client := NewTournamentClient(server.URL, fixedTokens{})
	ack, err := client.ConfirmMatch(context.Background(), ConfirmRequest{MatchID: "m-1", Confirm: true})

	require.NoError(t, err)
	assert.True(t, ack.Success, "an empty 2xx body is an acknowledgement")
}

func TestTournamentClient_GetCurrentMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/ev-9/matches/current", r.URL.Path)
		w.Write([]byte(`{"match":{"id":"m-3","eventId":"ev-9","roundNumber":3,"tableNumber":12,"format":"BO3","opponentRef":"p-2","reportedBy":null,"result":null,"isByeMatch":false}}`))
	}))
	defer server.Close()

	client := NewTournamentClient(server.URL, fixedTokens{})
	match, err := client.GetCurrentMatch(context.Background(), "ev-9")

	require.NoError(t, err)
	assert.Equal(t, "m-3", match.ID)
	assert.Equal(t, 3, match.RoundNumber)
	assert.Equal(t, models.MatchFormatBestOfThree, match.Format)
	require.NotNil(t, match.OpponentRef)
	assert.Equal(t, "p-2", *match.OpponentRef)
	assert.False(t, match.Reported())
}

func TestTournamentClient_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewTournamentClient(server.URL, fixedTokens{})
	_, err := client.GetMatch(context.Background(), "m-1")

	require.Error(t, err)
	assert.True(t, clients.IsRetryable(err))
}
