package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/revsync/revsync/internal/flagx"
	"github.com/revsync/revsync/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "168h" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	Environment      string         `json:"environment"`
	DatabaseDSN      string         `json:"database_dsn"`
	NatsURL          string         `json:"nats_url"`
	MetricsAddr      string         `json:"metrics_addr"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	QuarantineBucket string         `json:"quarantine_bucket"`
	ValidatedBucket  string         `json:"validated_bucket"`
	SigningKeyPEM    string         `json:"signing_key_pem"`
	SigningKeyID     string         `json:"signing_key_id"`
	ClamdAddr        string         `json:"clamd_addr"`
	RequireScanner   *bool          `json:"require_scanner"`
	UploadBanDur     timex.Duration `json:"upload_ban_duration"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. An unreadable or invalid
// file is a startup failure.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.Environment != "" {
		config.Environment = c.Environment
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.NatsURL != "" {
		config.NatsURL = c.NatsURL
	}
	if c.MetricsAddr != "" {
		config.MetricsAddr = c.MetricsAddr
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if c.QuarantineBucket != "" {
		config.QuarantineBucket = c.QuarantineBucket
	}
	if c.ValidatedBucket != "" {
		config.ValidatedBucket = c.ValidatedBucket
	}
	if c.SigningKeyPEM != "" {
		config.SigningKeyPEM = c.SigningKeyPEM
	}
	if c.SigningKeyID != "" {
		config.SigningKeyID = c.SigningKeyID
	}
	if c.ClamdAddr != "" {
		config.ClamdAddr = c.ClamdAddr
	}
	if c.RequireScanner != nil {
		config.RequireScanner = *c.RequireScanner
	}
	if c.UploadBanDur.Duration > 0 {
		config.UploadBanDuration = time.Duration(c.UploadBanDur.Duration)
	}
}
