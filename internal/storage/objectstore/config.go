package objectstore

import (
	"errors"

	"github.com/kelseyhightower/envconfig"
)

// Config holds object store connection settings, loaded from the
// OBJECTSTORE_* environment variables.
type Config struct {
	Endpoint  string `envconfig:"ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"ACCESS_KEY"`
	SecretKey string `envconfig:"SECRET_KEY"`
	Region    string `envconfig:"REGION" default:"us-east-1"`
	UseSSL    bool   `envconfig:"USE_SSL" default:"false"`
	Bucket    string `envconfig:"BUCKET" default:"patchlab"`
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("OBJECTSTORE", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("objectstore endpoint is required")
	}
	if c.AccessKey == "" {
		return errors.New("objectstore access key is required")
	}
	if c.SecretKey == "" {
		return errors.New("objectstore secret key is required")
	}
	if c.Bucket == "" {
		return errors.New("objectstore bucket is required")
	}
	return nil
}
