package biz

import (
	"context"
	"testing"

	"RelayPool/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySettingsRepo is an in-memory SettingsRepo.
type memorySettingsRepo struct {
	stored *conf.Settings
}

func (r *memorySettingsRepo) Load(ctx context.Context) (*conf.Settings, error) {
	return r.stored, nil
}

func (r *memorySettingsRepo) Save(ctx context.Context, s *conf.Settings) error {
	r.stored = s.Clone()
	return nil
}

func bootstrapSettings() *conf.Bootstrap {
	return &conf.Bootstrap{
		Settings: &conf.Settings{
			Basic: &conf.Settings_Basic{BaseUrl: "https://boot.example.com", ApiKey: "boot-key"},
		},
	}
}

func TestSettingsUsecase_BootstrapFallback(t *testing.T) {
	uc, err := NewSettingsUsecase(bootstrapSettings(), &memorySettingsRepo{}, log.DefaultLogger)
	require.NoError(t, err)

	s := uc.Get()
	assert.Equal(t, "https://boot.example.com", s.Basic.BaseUrl)
	// Defaults are filled in on load.
	assert.Equal(t, conf.DefaultMaxNewSessionTries, s.Retry.MaxNewSessionTries)
}

func TestSettingsUsecase_PersistedRecordWins(t *testing.T) {
	repo := &memorySettingsRepo{
		stored: &conf.Settings{
			Basic: &conf.Settings_Basic{BaseUrl: "https://persisted.example.com"},
			Retry: &conf.Settings_Retry{MaxNewSessionTries: 7},
		},
	}
	uc, err := NewSettingsUsecase(bootstrapSettings(), repo, log.DefaultLogger)
	require.NoError(t, err)

	s := uc.Get()
	assert.Equal(t, "https://persisted.example.com", s.Basic.BaseUrl)
	assert.Equal(t, 7, s.Retry.MaxNewSessionTries)
}

func TestSettingsUsecase_Replace(t *testing.T) {
	repo := &memorySettingsRepo{}
	uc, err := NewSettingsUsecase(bootstrapSettings(), repo, log.DefaultLogger)
	require.NoError(t, err)

	next := &conf.Settings{
		Basic: &conf.Settings_Basic{BaseUrl: "https://next.example.com"},
		Retry: &conf.Settings_Retry{MaxAccountSwitchTries: 9},
	}
	out, err := uc.Replace(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, 9, out.Retry.MaxAccountSwitchTries)

	// The replace is persisted and installed.
	assert.Equal(t, "https://next.example.com", repo.stored.Basic.BaseUrl)
	assert.Equal(t, 9, uc.Retry().MaxAccountSwitchTries)
}

func TestSettingsUsecase_ReplaceValidation(t *testing.T) {
	uc, err := NewSettingsUsecase(bootstrapSettings(), nil, log.DefaultLogger)
	require.NoError(t, err)

	_, err = uc.Replace(context.Background(), nil)
	assert.True(t, IsValidation(err))

	_, err = uc.Replace(context.Background(), &conf.Settings{})
	assert.True(t, IsValidation(err))
}

func TestSettingsUsecase_SnapshotsAreIsolated(t *testing.T) {
	uc, err := NewSettingsUsecase(bootstrapSettings(), nil, log.DefaultLogger)
	require.NoError(t, err)

	s := uc.Get()
	s.Basic.BaseUrl = "mutated"
	assert.Equal(t, "https://boot.example.com", uc.Get().Basic.BaseUrl)
}
