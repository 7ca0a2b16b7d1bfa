package taskname

const (
	// Boost lifecycle tasks
	BoostExpiryRun     = "boost:expiry:run"
	BoostTournamentEnd = "boost:tournament:end"
)
