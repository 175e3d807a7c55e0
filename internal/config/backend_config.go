package config

import "time"

type BackendConfig interface {
	GetBaseURL() string
	GetHTTPTimeout() time.Duration
}

type Backend struct{}

var _ BackendConfig = Backend{}

// GetBaseURL is the identity backend every request goes to.
func (Backend) GetBaseURL() string {
	return GetEnv("API_BASE_URL", "http://localhost:5000")
}

func (Backend) GetHTTPTimeout() time.Duration {
	return GetEnvDuration("HTTP_TIMEOUT", 15*time.Second)
}
