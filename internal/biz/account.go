package biz

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of a pooled account.
type AccountStatus string

const (
	// StatusActive accounts are eligible for selection.
	StatusActive AccountStatus = "active"
	// StatusCoolingDown accounts are temporarily excluded until their
	// cooldown deadline lapses.
	StatusCoolingDown AccountStatus = "cooling_down"
	// StatusDisabled accounts are excluded until re-enabled by an operator.
	StatusDisabled AccountStatus = "disabled"
)

// Account is a pooled upstream account with its credential triple and
// runtime health state. Credential fields are held in plaintext in memory
// and encrypted at rest by the repository.
type Account struct {
	ID           string
	Email        string
	SessionToken string
	SessionIndex string
	ConfigID     string

	Status        AccountStatus
	FailureCount  int
	CooldownUntil time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// HasCredentials reports whether all three credential fields are present.
func (a *Account) HasCredentials() bool {
	return a.SessionToken != "" && a.SessionIndex != "" && a.ConfigID != ""
}

// AccountCandidate is a pool merge input. ID and Status are optional: a
// candidate without an ID receives a generated one, a candidate without a
// status defaults to active (add) or keeps the existing status (update).
type AccountCandidate struct {
	ID           string
	Email        string
	SessionToken string
	SessionIndex string
	ConfigID     string
	Status       AccountStatus
}

// AccountRepo persists pool accounts. The in-memory pool is authoritative at
// runtime; the repository provides durability across restarts.
type AccountRepo interface {
	// LoadAll returns every persisted account with decrypted credentials.
	LoadAll(ctx context.Context) ([]*Account, error)
	// SaveBatch upserts the given accounts in a single transaction.
	SaveBatch(ctx context.Context, accounts []*Account) error
	// UpdateStatus persists a status change for one account.
	UpdateStatus(ctx context.Context, id string, status AccountStatus) error
	// DeleteBatch removes the given accounts and returns how many rows
	// were actually deleted.
	DeleteBatch(ctx context.Context, ids []string) (int64, error)
}

// SessionCache stores at most one live upstream session handle per account.
// Entries are validated against the configured TTL at read time.
type SessionCache interface {
	// Get returns the cached handle for the account if one exists and its
	// age is below ttl.
	Get(ctx context.Context, accountID string, ttl time.Duration) (string, bool)
	// Put stores the handle for the account, replacing any previous entry.
	Put(ctx context.Context, accountID, handle string, ttl time.Duration)
	// Invalidate removes the cached entry for the account, if any.
	Invalidate(ctx context.Context, accountID string)
}

