package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RelayPool/internal/biz"
	"RelayPool/internal/conf"
	pkgerrors "RelayPool/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settingsRowID is the primary key of the single settings row.
const settingsRowID = 1

// SettingsModel is the GORM model for the persisted settings record. The
// whole record lives in one JSON column so replace stays atomic.
type SettingsModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	Payload   string    `gorm:"column:payload;type:json;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for SettingsModel.
func (SettingsModel) TableName() string {
	return "settings"
}

type settingsRepo struct {
	db  *gorm.DB
	log *log.Helper
}

// NewSettingsRepo creates the settings repository and migrates its table.
func NewSettingsRepo(db *gorm.DB, logger log.Logger) (biz.SettingsRepo, error) {
	if err := db.AutoMigrate(&SettingsModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate settings table: %w", err)
	}
	return &settingsRepo{
		db:  db,
		log: log.NewHelper(logger),
	}, nil
}

// Load returns the persisted settings, or nil when none have been saved yet.
func (r *settingsRepo) Load(ctx context.Context) (*conf.Settings, error) {
	var model SettingsModel
	err := r.db.WithContext(ctx).First(&model, settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}

	s := &conf.Settings{}
	if err := json.Unmarshal([]byte(model.Payload), s); err != nil {
		return nil, fmt.Errorf("failed to decode persisted settings: %w", err)
	}
	return s, nil
}

// Save replaces the persisted settings record.
func (r *settingsRepo) Save(ctx context.Context, s *conf.Settings) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	model := &SettingsModel{
		ID:      settingsRowID,
		Payload: string(payload),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}
