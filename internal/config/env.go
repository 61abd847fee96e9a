package config

import (
	"os"
	"strings"
)

// Environment variable names recognized by the service. The signing key
// variables match what the packaging and deploy tooling already exports.
const (
	EnvSigningKeyB64  = "REVSYNC_SIGNING_KEY_B64"
	EnvSigningKeyID   = "REVSYNC_SIGNING_KEY_ID"
	EnvRequireScanner = "REVSYNC_REQUIRE_CLAMAV"
	EnvEnvironment    = "REVSYNC_ENV"
	EnvDatabaseDSN    = "DATABASE_DSN"
	EnvNatsURL        = "NATS_URL"
	EnvS3User         = "S3_ROOT_USER"
	EnvS3Password     = "S3_ROOT_PASSWORD"
)

// parseEnv overlays environment variables onto the Config. Only variables
// that are actually set override earlier values.
func parseEnv(config *Config) {
	if v := os.Getenv(EnvEnvironment); v != "" {
		config.Environment = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		config.DatabaseDSN = v
	}
	if v := os.Getenv(EnvNatsURL); v != "" {
		config.NatsURL = v
	}
	if v := os.Getenv(EnvS3User); v != "" {
		config.S3RootUser = v
	}
	if v := os.Getenv(EnvS3Password); v != "" {
		config.S3RootPassword = v
	}
	if v := os.Getenv(EnvSigningKeyB64); v != "" {
		config.SigningKeyB64 = v
	}
	if v := os.Getenv(EnvSigningKeyID); v != "" {
		config.SigningKeyID = v
	}
	if v := os.Getenv(EnvRequireScanner); v != "" {
		config.RequireScanner = strings.EqualFold(v, "true") || v == "1"
	}
}
