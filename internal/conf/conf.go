package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the top-level configuration for the RelayPool service.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Settings  *Settings
	Provision *Provision
	Log       *Log
}

// Provision holds endpoints of the account provisioning collaborators.
type Provision struct {
	MailApiUrl     string
	MailApiKey     string
	RegisterApiUrl string
	UnitTimeout    *durationpb.Duration
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
	// EncryptionKey encrypts account credentials at rest. Any non-empty
	// string is accepted; it is stretched to a 256-bit key before use.
	EncryptionKey string
}

// Data_Database holds database connection configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis connection configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Settings is the runtime-replaceable service settings record. It is loaded
// from configuration at startup, persisted in the settings table, and
// replaced as a whole through the admin API.
type Settings struct {
	Basic           *Settings_Basic           `json:"basic"`
	ImageGeneration *Settings_ImageGeneration `json:"image_generation"`
	Retry           *Settings_Retry           `json:"retry"`
	PublicDisplay   *Settings_PublicDisplay   `json:"public_display"`
	Session         *Settings_Session         `json:"session"`
}

// Settings_Basic holds upstream connectivity settings.
type Settings_Basic struct {
	ApiKey  string `json:"api_key"`
	BaseUrl string `json:"base_url"`
	Proxy   string `json:"proxy"`
}

// Settings_ImageGeneration holds image generation settings.
type Settings_ImageGeneration struct {
	Enabled         bool     `json:"enabled"`
	SupportedModels []string `json:"supported_models"`
}

// Settings_Retry is the retry/failover policy configuration consumed by the
// dispatcher. All fields have documented defaults applied at load time.
type Settings_Retry struct {
	MaxNewSessionTries       int `json:"max_new_session_tries"`
	MaxRequestRetries        int `json:"max_request_retries"`
	MaxAccountSwitchTries    int `json:"max_account_switch_tries"`
	AccountFailureThreshold  int `json:"account_failure_threshold"`
	RateLimitCooldownSeconds int `json:"rate_limit_cooldown_seconds"`
	SessionCacheTTLSeconds   int `json:"session_cache_ttl_seconds"`
}

// Settings_PublicDisplay holds fields shown on the public landing page.
type Settings_PublicDisplay struct {
	LogoUrl string `json:"logo_url"`
	ChatUrl string `json:"chat_url"`
}

// Settings_Session holds admin session settings.
type Settings_Session struct {
	ExpireHours int `json:"expire_hours"`
}

// Default retry policy values. Missing or non-positive numeric fields fall
// back to these instead of failing.
const (
	DefaultMaxNewSessionTries       = 2
	DefaultMaxRequestRetries        = 2
	DefaultMaxAccountSwitchTries    = 3
	DefaultAccountFailureThreshold  = 3
	DefaultRateLimitCooldownSeconds = 300
	DefaultSessionCacheTTLSeconds   = 3600
	DefaultSessionExpireHours       = 24
)

// ApplyDefaults fills nil sub-objects and non-positive numeric fields with
// their documented defaults. It is called on every settings load and replace
// so the core never observes a partially specified record.
func (s *Settings) ApplyDefaults() {
	if s.Basic == nil {
		s.Basic = &Settings_Basic{}
	}
	if s.ImageGeneration == nil {
		s.ImageGeneration = &Settings_ImageGeneration{}
	}
	if s.Retry == nil {
		s.Retry = &Settings_Retry{}
	}
	if s.PublicDisplay == nil {
		s.PublicDisplay = &Settings_PublicDisplay{}
	}
	if s.Session == nil {
		s.Session = &Settings_Session{}
	}

	r := s.Retry
	if r.MaxNewSessionTries <= 0 {
		r.MaxNewSessionTries = DefaultMaxNewSessionTries
	}
	if r.MaxRequestRetries < 0 {
		r.MaxRequestRetries = DefaultMaxRequestRetries
	}
	if r.MaxAccountSwitchTries <= 0 {
		r.MaxAccountSwitchTries = DefaultMaxAccountSwitchTries
	}
	if r.AccountFailureThreshold <= 0 {
		r.AccountFailureThreshold = DefaultAccountFailureThreshold
	}
	if r.RateLimitCooldownSeconds <= 0 {
		r.RateLimitCooldownSeconds = DefaultRateLimitCooldownSeconds
	}
	if r.SessionCacheTTLSeconds <= 0 {
		r.SessionCacheTTLSeconds = DefaultSessionCacheTTLSeconds
	}

	if s.Session.ExpireHours <= 0 {
		s.Session.ExpireHours = DefaultSessionExpireHours
	}
}

// Clone returns a deep copy of the settings record.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := &Settings{}
	if s.Basic != nil {
		b := *s.Basic
		out.Basic = &b
	}
	if s.ImageGeneration != nil {
		ig := *s.ImageGeneration
		ig.SupportedModels = append([]string(nil), s.ImageGeneration.SupportedModels...)
		out.ImageGeneration = &ig
	}
	if s.Retry != nil {
		r := *s.Retry
		out.Retry = &r
	}
	if s.PublicDisplay != nil {
		pd := *s.PublicDisplay
		out.PublicDisplay = &pd
	}
	if s.Session != nil {
		se := *s.Session
		out.Session = &se
	}
	return out
}
