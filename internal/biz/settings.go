package biz

import (
	"context"
	"sync"
	"time"

	"RelayPool/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// SettingsRepo persists the runtime settings record.
type SettingsRepo interface {
	// Load returns the persisted settings, or nil when none have been
	// saved yet.
	Load(ctx context.Context) (*conf.Settings, error)
	// Save replaces the persisted settings.
	Save(ctx context.Context, s *conf.Settings) error
}

// SettingsUsecase guards the current settings record. Reads return snapshots
// so a concurrent replace never mutates a record a dispatch is working with;
// a dispatch started under the old settings finishes under them.
type SettingsUsecase struct {
	repo SettingsRepo
	log  *log.Helper

	mu sync.RWMutex
	// current is replaced wholesale, never mutated in place.
	current *conf.Settings
}

// NewSettingsUsecase loads the effective settings: the persisted record when
// one exists, the bootstrap configuration otherwise.
func NewSettingsUsecase(bc *conf.Bootstrap, repo SettingsRepo, logger log.Logger) (*SettingsUsecase, error) {
	uc := &SettingsUsecase{
		repo: repo,
		log:  log.NewHelper(logger),
	}

	effective := bc.Settings.Clone()
	if repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		persisted, err := repo.Load(ctx)
		if err != nil {
			return nil, err
		}
		if persisted != nil {
			// Environment-provided connectivity wins over a stale
			// persisted record when the persisted one is empty.
			if persisted.Basic == nil || persisted.Basic.BaseUrl == "" {
				persisted.Basic = effective.Basic
			}
			effective = persisted
			uc.log.Info("settings loaded from persisted record")
		}
	}
	effective.ApplyDefaults()
	uc.current = effective
	return uc, nil
}

// Get returns a snapshot of the current settings.
func (uc *SettingsUsecase) Get() *conf.Settings {
	return uc.snapshot().Clone()
}

// Retry returns a copy of the current retry policy configuration.
func (uc *SettingsUsecase) Retry() conf.Settings_Retry {
	return *uc.snapshot().Retry
}

// Basic returns a copy of the current upstream connectivity settings.
func (uc *SettingsUsecase) Basic() conf.Settings_Basic {
	return *uc.snapshot().Basic
}

// SessionTTL returns the configured session cache TTL.
func (uc *SettingsUsecase) SessionTTL() time.Duration {
	return time.Duration(uc.snapshot().Retry.SessionCacheTTLSeconds) * time.Second
}

// Cooldown returns the configured account cooldown window.
func (uc *SettingsUsecase) Cooldown() time.Duration {
	return time.Duration(uc.snapshot().Retry.RateLimitCooldownSeconds) * time.Second
}

// Replace validates, persists, and installs a whole new settings record.
// In-flight readers keep the snapshot they already hold.
func (uc *SettingsUsecase) Replace(ctx context.Context, s *conf.Settings) (*conf.Settings, error) {
	if s == nil {
		return nil, ValidationError("settings record is required")
	}
	next := s.Clone()
	next.ApplyDefaults()
	if next.Basic.BaseUrl == "" {
		return nil, ValidationError("settings.basic.base_url is required")
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.repo != nil {
		if err := uc.repo.Save(ctx, next); err != nil {
			return nil, err
		}
	}
	uc.current = next
	uc.log.Info("settings record replaced")
	return next.Clone(), nil
}

func (uc *SettingsUsecase) snapshot() *conf.Settings {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.current
}
