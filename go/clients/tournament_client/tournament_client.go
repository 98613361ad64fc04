package tournament_client

import (
	"github.com/mcdev12/matchday/go/clients"
)

// TournamentClient calls the match endpoints of the tournament backend.
type TournamentClient struct {
	*clients.BaseClient
}

func NewTournamentClient(baseURL string, tokens clients.TokenSource) *TournamentClient {
	client := &TournamentClient{
		BaseClient: clients.NewBaseClient(baseURL, tokens),
	}

	client.SetHeader(ClientHeader, ClientName)

	return client
}
