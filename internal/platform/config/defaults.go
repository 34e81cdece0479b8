package config

import "time"

// Server defaults
const (
	DefaultPort      = "8080"
	DefaultLogLevel  = "info"
	DefaultRateLimit = "100-M"
)

// Rate cache defaults
const (
	RateCacheFile     = "file"
	RateCachePostgres = "postgres"

	DefaultRateCache = RateCacheFile
	DefaultDataDir   = "data"
)

// Rate source and refresh defaults
const (
	DefaultECBBaseURL      = "https://data-api.ecb.europa.eu"
	DefaultECBHTTPTimeout  = 10 * time.Second
	DefaultECBMaxRetries   = 2
	DefaultRefreshInterval = 6 * time.Hour
)
