//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"QuotePulse/pkg/config"
	"QuotePulse/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Data plane
		ProvideSources,
		ProvideAggregator,
		ProvideCalendar,
		ProvideCache,
		ProvideMirror,
		ProvidePublisher,
		ProvideHistory,
		ProvideQuoteService,

		// Control plane
		ProvideEventService,
		ProvideManager,
		ProvideMonitor,

		// Surface
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
