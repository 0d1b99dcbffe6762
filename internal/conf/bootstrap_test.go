package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
data:
  database:
    source: user:pass@tcp(localhost:3306)/relaypool
settings:
  basic:
    base_url: https://upstream.example.com
`

func TestNewBootstrap_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	bc, err := NewBootstrap(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "mysql", bc.Data.Database.Driver)
	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)

	r := bc.Settings.Retry
	assert.Equal(t, DefaultMaxNewSessionTries, r.MaxNewSessionTries)
	assert.Equal(t, DefaultMaxRequestRetries, r.MaxRequestRetries)
	assert.Equal(t, DefaultMaxAccountSwitchTries, r.MaxAccountSwitchTries)
	assert.Equal(t, DefaultAccountFailureThreshold, r.AccountFailureThreshold)
	assert.Equal(t, DefaultRateLimitCooldownSeconds, r.RateLimitCooldownSeconds)
	assert.Equal(t, DefaultSessionCacheTTLSeconds, r.SessionCacheTTLSeconds)
	assert.Equal(t, DefaultSessionExpireHours, bc.Settings.Session.ExpireHours)

	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "https://mail.chatgpt.org.uk", bc.Provision.MailApiUrl)
}

func TestNewBootstrap_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
server:
  http:
    addr: :9090
log:
  level: debug
`)

	bc, err := NewBootstrap(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", bc.Server.Http.Addr)
	assert.Equal(t, "debug", bc.Log.Level)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	t.Setenv("MYSQL_DSN", "env:dsn@tcp(db:3306)/relaypool")
	t.Setenv("RELAY_BASE_URL", "https://env.example.com")
	t.Setenv("RELAY_API_KEY", "env-key")

	path := writeConfig(t, "log:\n  level: info\n")
	bc, err := NewBootstrap(path)
	require.NoError(t, err)

	assert.Equal(t, "env:dsn@tcp(db:3306)/relaypool", bc.Data.Database.Source)
	assert.Equal(t, "https://env.example.com", bc.Settings.Basic.BaseUrl)
	assert.Equal(t, "env-key", bc.Settings.Basic.ApiKey)
}

func TestNewBootstrap_MissingRequiredFields(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	_, err := NewBootstrap(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.database.source")
	assert.Contains(t, err.Error(), "settings.basic.base_url")
}

func TestSettings_ApplyDefaults(t *testing.T) {
	s := &Settings{}
	s.ApplyDefaults()

	require.NotNil(t, s.Basic)
	require.NotNil(t, s.ImageGeneration)
	require.NotNil(t, s.Retry)
	require.NotNil(t, s.PublicDisplay)
	require.NotNil(t, s.Session)
	assert.Equal(t, DefaultMaxNewSessionTries, s.Retry.MaxNewSessionTries)
	assert.Equal(t, DefaultSessionExpireHours, s.Session.ExpireHours)

	// Explicit values survive.
	s2 := &Settings{Retry: &Settings_Retry{MaxNewSessionTries: 5}}
	s2.ApplyDefaults()
	assert.Equal(t, 5, s2.Retry.MaxNewSessionTries)
}

func TestSettings_Clone(t *testing.T) {
	s := &Settings{
		Basic: &Settings_Basic{ApiKey: "k", BaseUrl: "u"},
		ImageGeneration: &Settings_ImageGeneration{
			Enabled:         true,
			SupportedModels: []string{"m1"},
		},
	}
	c := s.Clone()
	require.NotNil(t, c)

	c.Basic.ApiKey = "changed"
	c.ImageGeneration.SupportedModels[0] = "changed"

	assert.Equal(t, "k", s.Basic.ApiKey)
	assert.Equal(t, "m1", s.ImageGeneration.SupportedModels[0])
}
