package session

import (
	"fmt"
	"time"
)

type Config struct {
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

func DefaultConfig() *Config {
	return &Config{
		TTL:       24 * time.Hour,
		KeyPrefix: "portal:session:",
	}
}

func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("key_prefix is required")
	}
	return nil
}
