// Package config loads studysync settings from viper.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/theakshaypant/studysync/internal/core"
)

// EnvPrefix is prepended to every environment variable, e.g. STUDYSYNC_DATABASE_DSN.
const EnvPrefix = "STUDYSYNC"

type Config struct {
	Database  Database  `mapstructure:"database" yaml:"database"`
	HTTP      HTTP      `mapstructure:"http" yaml:"http"`
	Auth      Auth      `mapstructure:"auth" yaml:"auth"`
	OAuth     OAuth     `mapstructure:"oauth" yaml:"oauth"`
	Google    Google    `mapstructure:"google" yaml:"google"`
	Microsoft Microsoft `mapstructure:"microsoft" yaml:"microsoft"`
	Sync      Sync      `mapstructure:"sync" yaml:"sync"`
	Platform  Platform  `mapstructure:"platform" yaml:"platform"`
	Crypto    Crypto    `mapstructure:"crypto" yaml:"crypto"`
	Log       Log       `mapstructure:"log" yaml:"log"`
}

type Database struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

type HTTP struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type Auth struct {
	// JWTSecret verifies bearer tokens and signs OAuth state.
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	StateTTL  time.Duration `mapstructure:"state_ttl" yaml:"state_ttl"`
}

type OAuth struct {
	// RedirectURL must match the provider console byte for byte.
	RedirectURL string `mapstructure:"redirect_url" yaml:"redirect_url"`
}

type Google struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

type Microsoft struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	Tenant       string `mapstructure:"tenant" yaml:"tenant"`
}

type Sync struct {
	Throttle        time.Duration `mapstructure:"throttle" yaml:"throttle"`
	CheckWindowDays int           `mapstructure:"check_window_days" yaml:"check_window_days"`
}

type Platform struct {
	CalendarName    string `mapstructure:"calendar_name" yaml:"calendar_name"`
	DefaultTimezone string `mapstructure:"default_timezone" yaml:"default_timezone"`
}

type Crypto struct {
	// TokenKey is a base64 32-byte key sealing stored OAuth tokens. Empty stores them as is.
	TokenKey string `mapstructure:"token_key" yaml:"token_key"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
	Dev   bool   `mapstructure:"dev" yaml:"dev"`
}

// SetDefaults registers every key so environment variables can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.state_ttl", 10*time.Minute)
	v.SetDefault("oauth.redirect_url", "http://localhost:8080/api/v1/calendar/callback")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("microsoft.client_id", "")
	v.SetDefault("microsoft.client_secret", "")
	v.SetDefault("microsoft.tenant", "common")
	v.SetDefault("sync.throttle", 150*time.Millisecond)
	v.SetDefault("sync.check_window_days", 60)
	v.SetDefault("platform.calendar_name", "StudySync Study Plan")
	v.SetDefault("platform.default_timezone", core.DefaultTimezone)
	v.SetDefault("crypto.token_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dev", false)
}

// BindEnv makes STUDYSYNC_SECTION_KEY override section.key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail deep inside a sync.
func (c Config) Validate() error {
	var problems []error
	if c.Sync.Throttle < 0 {
		problems = append(problems, errors.New("sync.throttle must not be negative"))
	}
	if c.Sync.CheckWindowDays <= 0 {
		problems = append(problems, errors.New("sync.check_window_days must be positive"))
	}
	if _, err := time.LoadLocation(c.Platform.DefaultTimezone); err != nil {
		problems = append(problems, fmt.Errorf("platform.default_timezone: %w", err))
	}
	if c.Crypto.TokenKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Crypto.TokenKey)
		if err != nil || len(key) != 32 {
			problems = append(problems, errors.New("crypto.token_key must be 32 bytes of standard base64"))
		}
	}
	return errors.Join(problems...)
}

// RequireServer checks the settings needed to serve the HTTP API.
func (c Config) RequireServer() error {
	var problems []error
	if c.Database.DSN == "" {
		problems = append(problems, errors.New("database.dsn is required"))
	}
	if c.Auth.JWTSecret == "" {
		problems = append(problems, errors.New("auth.jwt_secret is required"))
	}
	if !c.GoogleEnabled() && !c.MicrosoftEnabled() {
		problems = append(problems, errors.New("configure google.client_id or microsoft.client_id"))
	}
	return errors.Join(problems...)
}

func (c Config) GoogleEnabled() bool    { return c.Google.ClientID != "" }
func (c Config) MicrosoftEnabled() bool { return c.Microsoft.ClientID != "" }

// CheckWindow is how far ahead drift detection fetches remote events.
func (c Config) CheckWindow() time.Duration {
	return time.Duration(c.Sync.CheckWindowDays) * 24 * time.Hour
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Database.DSN = redactDSN(c.Database.DSN)
	c.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	c.Google.ClientSecret = mask(c.Google.ClientSecret)
	c.Microsoft.ClientSecret = mask(c.Microsoft.ClientSecret)
	c.Crypto.TokenKey = mask(c.Crypto.TokenKey)
	c.HTTP.AllowedOrigins = append([]string(nil), c.HTTP.AllowedOrigins...)
	return c
}

// redactDSN hides the password of a postgres URL.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	if i := strings.IndexByte(userinfo, ':'); i >= 0 {
		userinfo = userinfo[:i] + ":********"
	}
	return dsn[:scheme+3] + userinfo + dsn[at:]
}
