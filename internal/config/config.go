package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	sslModeDisable = "disable"
	sslModeRequire = "require"
)

type (
	Config struct {
		Host      string `mapstructure:"HOST"`
		Port      string `mapstructure:"PORT"`
		PublicURL string `mapstructure:"PUBLIC_URL"`

		DBHost     string `mapstructure:"DB_HOST"`
		DBPort     string `mapstructure:"DB_PORT"`
		DBUser     string `mapstructure:"DB_USER"`
		DBPassword string `mapstructure:"DB_PASSWORD"`
		DBName     string `mapstructure:"DB_NAME"`
		DBSSLMode  string `mapstructure:"DB_SSL_MODE"`

		CatalogBaseURL        string `mapstructure:"CATALOG_BASE_URL"`
		CatalogTimeoutSeconds int    `mapstructure:"CATALOG_TIMEOUT_SECONDS"`
		CatalogRetries        int    `mapstructure:"CATALOG_RETRIES"`

		Auth0Domain       string `mapstructure:"AUTH0_DOMAIN"`
		Auth0ClientID     string `mapstructure:"AUTH0_CLIENT_ID"`
		Auth0ClientSecret string `mapstructure:"AUTH0_CLIENT_SECRET"`
		Auth0CallbackURL  string `mapstructure:"AUTH0_CALLBACK_URL"`

		SessionSecret     string `mapstructure:"SESSION_SECRET"`
		SessionTTLMinutes int    `mapstructure:"SESSION_TTL_MINUTES"`
		SignupTTLMinutes  int    `mapstructure:"SIGNUP_TTL_MINUTES"`
	}
)

func NewConfig() (*Config, error) {
	viper.SetEnvPrefix("SHELFSPACE")

	viper.SetDefault("HOST", "0.0.0.0")
	viper.SetDefault("PORT", "1323")
	viper.SetDefault("PUBLIC_URL", "http://0.0.0.0:1323")
	viper.SetDefault("DB_HOST", "0.0.0.0")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "db")
	viper.SetDefault("DB_SSL_MODE", sslModeDisable)
	viper.SetDefault("CATALOG_BASE_URL", "https://openlibrary.org")
	viper.SetDefault("CATALOG_TIMEOUT_SECONDS", 10)
	viper.SetDefault("CATALOG_RETRIES", 2)
	viper.SetDefault("AUTH0_DOMAIN", "")
	viper.SetDefault("AUTH0_CLIENT_ID", "")
	viper.SetDefault("AUTH0_CLIENT_SECRET", "")
	viper.SetDefault("AUTH0_CALLBACK_URL", "http://0.0.0.0:1323/auth/callback")
	viper.SetDefault("SESSION_SECRET", "")
	viper.SetDefault("SESSION_TTL_MINUTES", 1440)
	viper.SetDefault("SIGNUP_TTL_MINUTES", 15)

	envs := []string{
		"HOST", "PORT", "PUBLIC_URL",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
		"CATALOG_BASE_URL", "CATALOG_TIMEOUT_SECONDS", "CATALOG_RETRIES",
		"AUTH0_DOMAIN", "AUTH0_CLIENT_ID", "AUTH0_CLIENT_SECRET", "AUTH0_CALLBACK_URL",
		"SESSION_SECRET", "SESSION_TTL_MINUTES", "SIGNUP_TTL_MINUTES",
	}
	for _, key := range envs {
		if err := viper.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	validSSLValues := []string{sslModeDisable, sslModeRequire}
	valid := false
	for _, validValue := range validSSLValues {
		if cfg.DBSSLMode == validValue {
			valid = true
			break
		}
	}
	if !valid {
		return errors.New(fmt.Sprintf("DB SSL mode is invalid: %s", cfg.DBSSLMode))
	}
	if cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET must be set")
	}
	if cfg.CatalogTimeoutSeconds <= 0 {
		return errors.New(fmt.Sprintf("catalog timeout is invalid: %d", cfg.CatalogTimeoutSeconds))
	}
	return nil
}
