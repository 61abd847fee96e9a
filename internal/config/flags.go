package config

import (
	"flag"
	"os"

	"github.com/revsync/revsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-n string   NATS URL
//	-m string   metrics bind address (e.g., ":9102")
//	-u string   S3 root user
//	-p string   S3 root password
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-q string   quarantine bucket name
//	-v string   validated bucket name
//	-s string   clamd address (host:port); empty disables clamd
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-n", "-m", "-u", "-p", "-g", "-e", "-q", "-v", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.NatsURL, "n", config.NatsURL, "NATS URL")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics bind address")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.QuarantineBucket, "q", config.QuarantineBucket, "quarantine bucket")
	fs.StringVar(&config.ValidatedBucket, "v", config.ValidatedBucket, "validated bucket")
	fs.StringVar(&config.ClamdAddr, "s", config.ClamdAddr, "clamd address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
