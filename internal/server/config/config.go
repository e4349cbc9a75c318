// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/lifelog/internal/server/connectors"
)

// Config holds runtime settings for the lifelog server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the admin HTTP endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). When empty, SqlitePath is used.
//   - SqlitePath: path of the embedded sqlite database for single-node runs.
//   - SecretKey: HMAC secret for signing JWTs (HS256). Do not use test defaults in prod.
//   - AdminPasswordHash: bcrypt hash the login password is checked against.
//   - AccessTokenValidityDuration: admin session token lifetime.
//   - InputDir: root directory for per-connector file drops.
//   - TickInterval / StabilityPollInterval: scheduler loop tuning.
//   - SerializeTriggers: forbid overlapping triggers of one connector.
//   - S3RootUser / S3RootPassword: credentials for the S3-compatible backend.
//   - S3Bucket / S3Region / S3BaseEndpoint: object storage settings.
//   - Connectors: connector instances, configurable through JSON only.
type Config struct {
	EndpointAddrHTTP            string
	DatabaseDSN                 string
	SqlitePath                  string
	SecretKey                   string
	AdminPasswordHash           string
	AccessTokenValidityDuration time.Duration
	InputDir                    string
	TickInterval                time.Duration
	StabilityPollInterval       time.Duration
	SerializeTriggers           bool
	S3RootUser                  string
	S3RootPassword              string
	S3Bucket                    string
	S3Region                    string
	S3BaseEndpoint              string
	Connectors                  []connectors.Config
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.SqlitePath = "lifelog.db"
	c.SecretKey = "secretKey"
	// Empty hash matches nothing; login stays disabled until one is set.
	c.AdminPasswordHash = ""
	c.AccessTokenValidityDuration = 60 * time.Minute
	c.InputDir = "input"
	c.TickInterval = 500 * time.Millisecond
	c.StabilityPollInterval = 2 * time.Second
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "lifelog"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
