//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"RelayPool/internal/biz"
	"RelayPool/internal/conf"
	"RelayPool/internal/data"
	"RelayPool/internal/server"
	"RelayPool/internal/service"
	"RelayPool/pkg/mail"
	"RelayPool/pkg/register"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap), "Server", "Data", "Provision"),
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		wire.Bind(new(biz.MailboxProvider), new(*mail.Client)),
		wire.Bind(new(biz.Registrar), new(*register.Client)),
		newApp,
	))
}
