package trivia_client

const (
	DefaultBaseURL = "http://localhost:8080"
	HealthPath     = "/health"
	FeedsPath      = "/ws/feeds"

	APIKeyHeader = "apikey"
)
