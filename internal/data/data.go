// Package data provides data access layer implementations.
// It handles database persistence, the Redis-backed session cache, and the
// upstream relay client.
package data

import (
	"github.com/google/wire"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewMySQLClient,
	NewRedisClient,
	NewCredentialCipher,
	NewAccountRepo,
	NewSettingsRepo,
	NewSessionCache,
	NewUpstreamClient,
	NewMailClient,
	NewRegisterClient,
)
