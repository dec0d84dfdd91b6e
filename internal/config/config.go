// Package config splits configuration the way deployments do: connection
// material (secrets) comes from environment variables, pipeline tuning from
// an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config holds connection material for the external collaborators,
// loaded from environment variables (populated from .env by the CLI).
type Config struct {
	DatabaseURL string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	MongoURI    string
}

// LoadConfig reads connection settings from the environment. Only the
// source database is unconditionally required; object-store completeness
// is checked by the commands that write (see RequireObjectStore).
func LoadConfig() (*Config, error) {
	dsn := os.Getenv("LAKEPIPE_DATABASE_URL")
	if dsn == "" {
		return nil, errors.New("LAKEPIPE_DATABASE_URL environment variable not set")
	}

	useSSL := strings.EqualFold(os.Getenv("LAKEPIPE_S3_USE_SSL"), "true")

	return &Config{
		DatabaseURL: dsn,
		S3Endpoint:  os.Getenv("LAKEPIPE_S3_ENDPOINT"),
		S3AccessKey: os.Getenv("LAKEPIPE_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("LAKEPIPE_S3_SECRET_KEY"),
		S3Bucket:    os.Getenv("LAKEPIPE_S3_BUCKET"),
		S3UseSSL:    useSSL,
		MongoURI:    os.Getenv("LAKEPIPE_MONGO_URI"),
	}, nil
}

// RequireObjectStore verifies the settings a writing command needs,
// naming the first missing variable.
func (c *Config) RequireObjectStore() error {
	missing := ""
	switch {
	case c.S3Endpoint == "":
		missing = "LAKEPIPE_S3_ENDPOINT"
	case c.S3AccessKey == "":
		missing = "LAKEPIPE_S3_ACCESS_KEY"
	case c.S3SecretKey == "":
		missing = "LAKEPIPE_S3_SECRET_KEY"
	case c.S3Bucket == "":
		missing = "LAKEPIPE_S3_BUCKET"
	}
	if missing != "" {
		return fmt.Errorf("%s environment variable not set", missing)
	}
	return nil
}
