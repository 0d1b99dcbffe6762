// Package biz contains the domain logic: the account pool, the retry policy,
// the request dispatcher, and the provisioning orchestrator.
package biz

import (
	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewPool,
	NewSettingsUsecase,
	NewDispatcher,
	NewProvisioner,
)
