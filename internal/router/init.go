package router

import (
	"github.com/cortexahq/cortexa-auth/internal/application"
	"github.com/cortexahq/cortexa-auth/internal/container"
	pginfra "github.com/cortexahq/cortexa-auth/internal/infrastructure/postgres"
	handlers "github.com/cortexahq/cortexa-auth/internal/interface/http"
	"github.com/cortexahq/cortexa-auth/internal/router/modules"
)

// InitModules initializes all application modules and registers them with the
// router registry. Called once during startup after the container is filled.
func InitModules(r *Registry) {
	cfg := container.GetConfig()

	repo := pginfra.NewUserRepository(container.GetPGPool())
	service := application.NewService(
		repo,
		container.GetJWT(),
		container.GetRedis(),
		container.GetRabbitPub(),
		container.GetGCS(),
		cfg.GCSBucket,
		container.GetLogger(),
		cfg,
	)
	handler := handlers.NewAuthHandler(
		service,
		container.GetLogger(),
		cfg.CookieDomain,
		cfg.CookieSecure,
	)

	r.Add(modules.NewAuthModule(handler, container.GetJWT()))
}
