//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"classcast-backend/infrastructure/config"

	"github.com/google/wire"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideAPIGatewayClient,
	ProvideTracing,
	ProvideTracer,
	ProvideCollector,
	ProvideBusinessMetrics,
	ProvideEventPublisher,
	ProvideStore,
	ProvideNotificationHub,
	ProvidePipeline,
	ProvideAssignmentService,
	ProvideErrorHandler,
	ProvideAssignmentHandler,
	ProvideReadinessCheck,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
