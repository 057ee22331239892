package fx

import (
	"splat-notifyer/internal/api"
	"splat-notifyer/internal/config"
	"splat-notifyer/internal/database"
	"splat-notifyer/internal/devapi"
	"splat-notifyer/internal/form"
	"splat-notifyer/internal/logger"
	"splat-notifyer/internal/refdata"
	"splat-notifyer/internal/repository"
	"splat-notifyer/internal/server"
	"splat-notifyer/internal/service"
	"splat-notifyer/internal/session"

	"go.uber.org/fx"
)

func ProvideRemote(client *api.Client) form.Remote {
	return client
}

var Common = fx.Options(
	logger.Module,
	config.Module,
)

// FormModule wires the form frontend.
var FormModule = fx.Options(
	Common,
	// api client
	fx.Provide(api.NewClient),
	fx.Provide(ProvideRemote),
	fx.Provide(refdata.NewProvider),
	// sessions
	fx.Provide(session.NewStore),
	fx.Provide(session.FormOptions),
	fx.Provide(session.NewManager),
	// server
	fx.Provide(server.NewFormServer),
)

// DevAPIModule wires the local stand-in for the remote configuration API.
var DevAPIModule = fx.Options(
	Common,
	fx.Provide(database.New),
	fx.Provide(repository.NewWebhookConfigRepository),
	fx.Provide(service.NewConfigService),
	fx.Provide(refdata.Embedded),
	fx.Provide(devapi.NewServer),
)
