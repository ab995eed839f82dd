package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies environment variable overrides. Unset variables keep the
// value already in the config; see the env tags on ServerConfig for names.
//
//	DATABASE_URL  postgres://... or memory (default)
//	STORAGE_URL   memory:// (default), file:///var/lib/kb or s3://bucket
//	JWT_SECRET    required by the serve command
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithPort overrides the listen port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// WithDatabaseURL selects the repository
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithStorageURL selects the blob store
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = url
		return nil
	}
}

// Describe lists the supported environment variables with their descriptions.
func Describe() (string, error) {
	cfg := defaults()
	header := "Environment variables:"
	return cleanenv.GetDescription(&cfg, &header)
}
