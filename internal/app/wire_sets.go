//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
)

var CoreInfraSet = wire.NewSet(
	NewLogging,
	NewLogger,
	NewMetricsRegistry,
	NewMetrics,
	NewStateDirs,
	NewResolver,
	NewProber,
)

var ToolSet = wire.NewSet(
	NewGeminiAPIClient,
	NewToolRegistry,
	NewAvailabilityCache,
	NewSlots,
	NewEngine,
	NewShutdownGate,
	NewAdmission,
	NewDiscovery,
)

var UpdateSet = wire.NewSet(
	NewUpdateChecker,
	NewUpdateApplier,
	NewCleaner,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	ToolSet,
	UpdateSet,
	NewHTTPServer,
	wire.Struct(new(ApplicationOptions), "Context", "Config", "Logger", "Registry", "Availability", "Gate", "Slots", "Discovery", "Updates", "Server"),
	NewApplication,
)
