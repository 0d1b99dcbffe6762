// Package service exposes the HTTP surface: admin management routes and the
// relay endpoint.
package service

import (
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewAdminService,
	NewRelayService,
)
