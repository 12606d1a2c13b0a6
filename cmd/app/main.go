package main

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/shelfspace-app/shelfspace-back/internal/auth"
	"github.com/shelfspace-app/shelfspace-back/internal/catalog"
	"github.com/shelfspace-app/shelfspace-back/internal/config"
	"github.com/shelfspace-app/shelfspace-back/internal/db"
	"github.com/shelfspace-app/shelfspace-back/internal/service"
	"github.com/shelfspace-app/shelfspace-back/internal/transport"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			newSugaredLogger,
			db.NewGormClient,
			catalog.NewClient,
			func(c *catalog.Client) service.CatalogClient { return c },
			auth.NewSessions,
			auth.NewAuth0,
			service.NewLibrary,
			service.NewShelving,
			transport.NewHTTPServer,
		),
		fx.Invoke(func(server *transport.HTTPServer) {}),
	)

	app.Run()
}

func newSugaredLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
