// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	API        APIConfig        `mapstructure:"api"`
	Membership MembershipConfig `mapstructure:"membership"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Session    SessionConfig    `mapstructure:"session"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig holds settings for the host-facing HTTP surface.
type ServerConfig struct {
	Address         string  `mapstructure:"address"`
	ReadTimeout     int     `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int     `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int     `mapstructure:"shutdown_timeout"` // milliseconds
	RateLimit       float64 `mapstructure:"rate_limit"`       // requests per second per browser session
	RateBurst       int     `mapstructure:"rate_burst"`
	SecureCookies   bool    `mapstructure:"secure_cookies"`
}

// APIConfig points at the backend that owns users, orders and applications.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Flow Configuration ---

// MembershipConfig holds settings for the membership wizard.
type MembershipConfig struct {
	MinimumFee      int    `mapstructure:"minimum_fee"`
	Currency        string `mapstructure:"currency"`
	CheckoutTimeout int    `mapstructure:"checkout_timeout"` // milliseconds
	DashboardRoute  string `mapstructure:"dashboard_route"`
	LoginRoute      string `mapstructure:"login_route"`
	PasswordMinLen  int    `mapstructure:"password_min_length"`
}

// AuthConfig holds settings for the credential / one-time-code flow.
type AuthConfig struct {
	CodeLength int `mapstructure:"code_length"`
}

// SessionConfig holds settings for established sessions.
type SessionConfig struct {
	TTL        int    `mapstructure:"ttl"` // milliseconds, used when the token has no exp claim
	KeyPrefix  string `mapstructure:"key_prefix"`
	CookieName string `mapstructure:"cookie_name"`
	FlowTTL    int    `mapstructure:"flow_ttl"` // milliseconds, idle lifetime of an in-progress wizard
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
