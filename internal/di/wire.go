//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Caching
		ProvideMemoryCache,
		ProvidePipelineCache,

		// Pipeline collaborators
		ProvideTracker,
		ProvideValidator,
		ProvideAggregator,
		ProvideTransport,
		ProvideEventBus,
		ProvideEventSink,
		ProvideOrchestrator,

		// HTTP surface
		ProvideHandler,
		ProvideHTTPServer,

		// Application
		ProvideApp,
	)
	return &server.App{}, nil
}
