package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/lifelog/internal/flagx"
	"github.com/dmitrijs2005/lifelog/internal/server/connectors"
	"github.com/dmitrijs2005/lifelog/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO (Data Transfer Object) used only for
// reading JSON configuration files. After unmarshalling, its fields are
// copied into the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP            string              `json:"endpoint_addr_http"`
	DatabaseDSN                 string              `json:"database_dsn"`
	SqlitePath                  string              `json:"sqlite_path"`
	SecretKey                   string              `json:"secret_key"`
	AdminPasswordHash           string              `json:"admin_password_hash"`
	AccessTokenValidityDuration timex.Duration      `json:"access_token_validity_duration"`
	InputDir                    string              `json:"input_dir"`
	TickInterval                timex.Duration      `json:"tick_interval"`
	StabilityPollInterval       timex.Duration      `json:"stability_poll_interval"`
	SerializeTriggers           bool                `json:"serialize_triggers"`
	S3RootUser                  string              `json:"s3_root_user"`
	S3RootPassword              string              `json:"s3_root_password"`
	S3Bucket                    string              `json:"s3_bucket"`
	S3Region                    string              `json:"s3_region"`
	S3BaseEndpoint              string              `json:"s3_base_endpoint"`
	Connectors                  []connectors.Config `json:"connectors"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// Non-zero values from the file override the current Config contents; the
// connector list is replaced wholesale. If the file cannot be read or
// contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SqlitePath != "" {
		config.SqlitePath = c.SqlitePath
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.AdminPasswordHash != "" {
		config.AdminPasswordHash = c.AdminPasswordHash
	}
	if c.AccessTokenValidityDuration.Duration != 0 {
		config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	}
	if c.InputDir != "" {
		config.InputDir = c.InputDir
	}
	if c.TickInterval.Duration != 0 {
		config.TickInterval = time.Duration(c.TickInterval.Duration)
	}
	if c.StabilityPollInterval.Duration != 0 {
		config.StabilityPollInterval = time.Duration(c.StabilityPollInterval.Duration)
	}
	if c.SerializeTriggers {
		config.SerializeTriggers = true
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if len(c.Connectors) > 0 {
		config.Connectors = c.Connectors
	}
}
