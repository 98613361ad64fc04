package tournament_client

const (
	// API Endpoints
	CurrentMatchEndpoint = "/events/%s/matches/current"
	MatchEndpoint        = "/matches/%s"
	ReportEndpoint       = "/matches/%s/report"
	ConfirmEndpoint      = "/matches/%s/confirm"

	// Headers
	ClientHeader = "X-Matchday-Client"
	ClientName   = "matchday-go"
)
