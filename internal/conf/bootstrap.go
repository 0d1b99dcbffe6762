// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with RELAYPOOL_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or RELAYPOOL_DATA_DATABASE_SOURCE: MySQL connection string
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with RELAYPOOL_ prefix
	v.SetEnvPrefix("RELAYPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without RELAYPOOL_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "RELAYPOOL_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "RELAYPOOL_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.encryption_key", "ACCOUNT_ENCRYPTION_KEY", "RELAYPOOL_DATA_ENCRYPTION_KEY")
	_ = v.BindEnv("settings.basic.api_key", "RELAY_API_KEY", "RELAYPOOL_SETTINGS_BASIC_API_KEY")
	_ = v.BindEnv("settings.basic.base_url", "RELAY_BASE_URL", "RELAYPOOL_SETTINGS_BASIC_BASE_URL")
	_ = v.BindEnv("settings.basic.proxy", "RELAY_PROXY", "RELAYPOOL_SETTINGS_BASIC_PROXY")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
			EncryptionKey: v.GetString("data.encryption_key"),
		},
		Settings: &Settings{
			Basic: &Settings_Basic{
				ApiKey:  v.GetString("settings.basic.api_key"),
				BaseUrl: v.GetString("settings.basic.base_url"),
				Proxy:   v.GetString("settings.basic.proxy"),
			},
			ImageGeneration: &Settings_ImageGeneration{
				Enabled:         v.GetBool("settings.image_generation.enabled"),
				SupportedModels: v.GetStringSlice("settings.image_generation.supported_models"),
			},
			Retry: &Settings_Retry{
				MaxNewSessionTries:       v.GetInt("settings.retry.max_new_session_tries"),
				MaxRequestRetries:        v.GetInt("settings.retry.max_request_retries"),
				MaxAccountSwitchTries:    v.GetInt("settings.retry.max_account_switch_tries"),
				AccountFailureThreshold:  v.GetInt("settings.retry.account_failure_threshold"),
				RateLimitCooldownSeconds: v.GetInt("settings.retry.rate_limit_cooldown_seconds"),
				SessionCacheTTLSeconds:   v.GetInt("settings.retry.session_cache_ttl_seconds"),
			},
			PublicDisplay: &Settings_PublicDisplay{
				LogoUrl: v.GetString("settings.public_display.logo_url"),
				ChatUrl: v.GetString("settings.public_display.chat_url"),
			},
			Session: &Settings_Session{
				ExpireHours: v.GetInt("settings.session.expire_hours"),
			},
		},
		Provision: &Provision{
			MailApiUrl:     v.GetString("provision.mail_api_url"),
			MailApiKey:     v.GetString("provision.mail_api_key"),
			RegisterApiUrl: v.GetString("provision.register_api_url"),
			UnitTimeout:    durationpb.New(v.GetDuration("provision.unit_timeout")),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Missing numeric settings fall back to documented defaults
	bc.Settings.ApplyDefaults()

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Settings defaults
	v.SetDefault("settings.retry.max_new_session_tries", DefaultMaxNewSessionTries)
	v.SetDefault("settings.retry.max_request_retries", DefaultMaxRequestRetries)
	v.SetDefault("settings.retry.max_account_switch_tries", DefaultMaxAccountSwitchTries)
	v.SetDefault("settings.retry.account_failure_threshold", DefaultAccountFailureThreshold)
	v.SetDefault("settings.retry.rate_limit_cooldown_seconds", DefaultRateLimitCooldownSeconds)
	v.SetDefault("settings.retry.session_cache_ttl_seconds", DefaultSessionCacheTTLSeconds)
	v.SetDefault("settings.session.expire_hours", DefaultSessionExpireHours)

	// Provision defaults
	v.SetDefault("provision.mail_api_url", "https://mail.chatgpt.org.uk")
	v.SetDefault("provision.unit_timeout", 3*time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if bc.Settings == nil || bc.Settings.Basic == nil || bc.Settings.Basic.BaseUrl == "" {
		missingFields = append(missingFields, "settings.basic.base_url")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
