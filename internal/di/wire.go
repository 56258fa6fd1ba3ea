//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"CapitalDash/pkg/config"
	"CapitalDash/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvideSharedCache,
	ProvideHistoryStore,
	ProvideEventPublisher,
	ProvideHTTPClient,
)

var appSet = wire.NewSet(
	ProvideCaches,
	ProvideSources,
	ProvideETFCatalog,
	ProvideMarketService,
	ProvideRefresher,
	ProvideKafkaConsumer,
	ProvideMarketHandler,
	ProvideHTTPServer,
	ProvideApp,
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(infraSet, appSet)
	return nil, nil, nil
}
