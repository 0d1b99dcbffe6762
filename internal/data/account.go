package data

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"RelayPool/internal/biz"
	"RelayPool/internal/conf"
	"RelayPool/pkg/crypto"
	pkgerrors "RelayPool/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountModel is the GORM model for pooled accounts. Credential fields are
// stored encrypted.
type AccountModel struct {
	ID            string    `gorm:"column:id;type:varchar(64);primaryKey"`
	Email         string    `gorm:"column:email;type:varchar(255);index"`
	SessionToken  string    `gorm:"column:session_token;type:text;not null"`
	SessionIndex  string    `gorm:"column:session_index;type:text;not null"`
	ConfigID      string    `gorm:"column:config_id;type:text;not null"`
	Status        string    `gorm:"column:status;type:varchar(20);not null;default:'active';index"`
	FailureCount  int       `gorm:"column:failure_count;not null;default:0"`
	CooldownUntil time.Time `gorm:"column:cooldown_until"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for AccountModel.
func (AccountModel) TableName() string {
	return "accounts"
}

// NewCredentialCipher builds the at-rest cipher for account credentials.
// The configured key is stretched to 256 bits with SHA-256. An empty key
// disables encryption, which is only acceptable for local development.
func NewCredentialCipher(c *conf.Data, logger log.Logger) (*crypto.AESCrypto, error) {
	helper := log.NewHelper(logger)
	if c == nil || c.EncryptionKey == "" {
		helper.Warn("no encryption key configured, account credentials will be stored in plaintext")
		return nil, nil
	}
	sum := sha256.Sum256([]byte(c.EncryptionKey))
	return crypto.NewAESCrypto(sum[:])
}

type accountRepo struct {
	db     *gorm.DB
	cipher *crypto.AESCrypto
	log    *log.Helper
}

// NewAccountRepo creates the account repository and migrates its table.
func NewAccountRepo(db *gorm.DB, cipher *crypto.AESCrypto, logger log.Logger) (biz.AccountRepo, error) {
	if err := db.AutoMigrate(&AccountModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate accounts table: %w", err)
	}
	return &accountRepo{
		db:     db,
		cipher: cipher,
		log:    log.NewHelper(logger),
	}, nil
}

func (r *accountRepo) encrypt(v string) (string, error) {
	if r.cipher == nil {
		return v, nil
	}
	return r.cipher.Encrypt(v)
}

func (r *accountRepo) decrypt(v string) (string, error) {
	if r.cipher == nil {
		return v, nil
	}
	return r.cipher.Decrypt(v)
}

func (r *accountRepo) toModel(a *biz.Account) (*AccountModel, error) {
	token, err := r.encrypt(a.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt session token: %w", err)
	}
	index, err := r.encrypt(a.SessionIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt session index: %w", err)
	}
	configID, err := r.encrypt(a.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt config id: %w", err)
	}
	return &AccountModel{
		ID:            a.ID,
		Email:         a.Email,
		SessionToken:  token,
		SessionIndex:  index,
		ConfigID:      configID,
		Status:        string(a.Status),
		FailureCount:  a.FailureCount,
		CooldownUntil: a.CooldownUntil,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}, nil
}

func (r *accountRepo) toEntity(m *AccountModel) (*biz.Account, error) {
	token, err := r.decrypt(m.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session token for account %s: %w", m.ID, err)
	}
	index, err := r.decrypt(m.SessionIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session index for account %s: %w", m.ID, err)
	}
	configID, err := r.decrypt(m.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt config id for account %s: %w", m.ID, err)
	}
	return &biz.Account{
		ID:            m.ID,
		Email:         m.Email,
		SessionToken:  token,
		SessionIndex:  index,
		ConfigID:      configID,
		Status:        biz.AccountStatus(m.Status),
		FailureCount:  m.FailureCount,
		CooldownUntil: m.CooldownUntil,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}, nil
}

// LoadAll returns every persisted account with decrypted credentials.
func (r *accountRepo) LoadAll(ctx context.Context) ([]*biz.Account, error) {
	var models []AccountModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}

	accounts := make([]*biz.Account, 0, len(models))
	for i := range models {
		acct, err := r.toEntity(&models[i])
		if err != nil {
			// A corrupted row must not take the whole pool down.
			r.log.Errorf("skipping undecryptable account row %s: %v", models[i].ID, err)
			continue
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// SaveBatch upserts the given accounts in a single transaction.
func (r *accountRepo) SaveBatch(ctx context.Context, accounts []*biz.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	models := make([]*AccountModel, 0, len(accounts))
	for _, a := range accounts {
		m, err := r.toModel(a)
		if err != nil {
			return err
		}
		models = append(models, m)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email", "session_token", "session_index", "config_id",
				"status", "failure_count", "cooldown_until", "updated_at",
			}),
		}).Create(&models).Error
	})
	if err != nil {
		return pkgerrors.ClassifyDBError(err)
	}
	return nil
}

// UpdateStatus persists a status change for one account.
func (r *accountRepo) UpdateStatus(ctx context.Context, id string, status biz.AccountStatus) error {
	result := r.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return pkgerrors.ClassifyDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.NotFoundError("account %s not found", id)
	}
	return nil
}

// DeleteBatch removes the given accounts and returns how many rows were
// actually deleted.
func (r *accountRepo) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&AccountModel{})
	if result.Error != nil {
		return 0, pkgerrors.ClassifyDBError(result.Error)
	}
	return result.RowsAffected, nil
}
