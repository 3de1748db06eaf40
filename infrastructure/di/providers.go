package di

import (
	"context"
	"errors"
	"fmt"

	appassignments "classcast-backend/application/assignments"
	"classcast-backend/application/pipeline"
	domain "classcast-backend/domain/assignments"
	"classcast-backend/infrastructure/config"
	"classcast-backend/infrastructure/messaging/eventbridge"
	"classcast-backend/infrastructure/persistence/kvstore"
	"classcast-backend/interfaces/http/rest"
	"classcast-backend/interfaces/http/rest/handlers"
	apperrors "classcast-backend/pkg/errors"
	"classcast-backend/pkg/notify"
	"classcast-backend/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	serviceName      = "classcast-backend"
	metricsNamespace = "classcast"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}

	if cfg.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
		}
		zcfg.Level = level
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", serviceName)), nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideAPIGatewayClient creates the management API client used to push
// WebSocket frames. It returns nil when no WebSocket endpoint is configured.
func ProvideAPIGatewayClient(awsCfg aws.Config, cfg *config.Config) *apigatewaymanagementapi.Client {
	if cfg.WebSocketEndpoint == "" {
		return nil
	}
	return apigatewaymanagementapi.NewFromConfig(awsCfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(cfg.WebSocketEndpoint)
	})
}

// ProvideTracing installs the OTLP exporter when tracing is enabled. The
// returned provider is nil otherwise.
func ProvideTracing(ctx context.Context, cfg *config.Config) (*observability.TracerProvider, error) {
	if !cfg.EnableTracing {
		return nil, nil
	}
	return observability.InitTracing(ctx, serviceName, cfg.Environment, cfg.OTLPEndpoint)
}

// ProvideTracer returns the application tracer. It depends on the provider so
// the exporter is installed first.
func ProvideTracer(_ *observability.TracerProvider) trace.Tracer {
	return observability.Tracer()
}

// ProvideCollector creates the Prometheus collector, or nil when metrics are off.
func ProvideCollector(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector(metricsNamespace)
}

// ProvideBusinessMetrics creates the CloudWatch business metrics publisher.
// The in-memory backend runs fully local and publishes nothing.
func ProvideBusinessMetrics(client *awscloudwatch.Client, cfg *config.Config) *observability.Metrics {
	if cfg.StoreBackend == config.StoreMemory {
		return observability.NewMetrics(metricsNamespace, nil)
	}
	return observability.NewMetrics(metricsNamespace, client)
}

// ProvideEventPublisher creates the EventBridge publisher, or nil when no
// bus is configured or the service runs on the in-memory backend.
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) *eventbridge.Publisher {
	if cfg.EventBusName == "" || cfg.StoreBackend == config.StoreMemory {
		return nil
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideStore creates the key-value store for the configured backend,
// wrapped with tracing.
func ProvideStore(client *awsdynamodb.Client, cfg *config.Config, tracer trace.Tracer, logger *zap.Logger) kvstore.Store {
	var store kvstore.Store
	switch cfg.StoreBackend {
	case config.StoreMemory:
		mem := kvstore.NewMemoryStore()
		mem.CreateTable(cfg.Tables.Assignments, domain.IDField)
		mem.CreateTable(cfg.Tables.Courses, "courseId")
		mem.CreateTable(cfg.Tables.InstructorStats, "instructorId")
		mem.CreateTable(cfg.Tables.AuditLog, "logId")
		logger.Warn("Using in-memory store; data is lost on restart")
		store = mem
	default:
		store = kvstore.NewDynamoStore(client, logger)
	}
	return kvstore.TraceStore(store, tracer)
}

// ProvideNotificationHub creates the hub and its listeners. EventBridge and
// WebSocket delivery are added only when configured.
func ProvideNotificationHub(
	publisher *eventbridge.Publisher,
	dynamo *awsdynamodb.Client,
	apigw *apigatewaymanagementapi.Client,
	cfg *config.Config,
	logger *zap.Logger,
) *notify.Hub {
	listeners := []notify.Listener{notify.NewLogListener(logger)}
	if publisher != nil {
		listeners = append(listeners, notify.NewEventBridgeListener(publisher))
	}
	if apigw != nil && cfg.Tables.Connections != "" && cfg.StoreBackend != config.StoreMemory {
		connections := kvstore.NewDynamoConnections(dynamo, cfg.Tables.Connections)
		listeners = append(listeners, notify.NewWebSocketListener(connections, apigw, logger))
	}
	return notify.NewHub(logger, 0, listeners...)
}

// ProvidePipeline creates the write pipeline with the configured retry policies.
func ProvidePipeline(
	store kvstore.Store,
	cfg *config.Config,
	collector *observability.Collector,
	tracer trace.Tracer,
	logger *zap.Logger,
) (*pipeline.Pipeline, error) {
	return pipeline.New(store, logger,
		pipeline.WithPolicies(cfg.PipelinePolicies()),
		pipeline.WithMetrics(collector),
		pipeline.WithTracer(tracer),
	)
}

// ProvideAssignmentService creates the assignment service.
func ProvideAssignmentService(
	p *pipeline.Pipeline,
	store kvstore.Store,
	publisher *eventbridge.Publisher,
	metrics *observability.Metrics,
	hub *notify.Hub,
	cfg *config.Config,
	logger *zap.Logger,
) *appassignments.Service {
	// A nil *Publisher must not reach the service as a non-nil interface.
	var events appassignments.EventPublisher
	if publisher != nil {
		events = publisher
	}

	svc := appassignments.NewService(p, store, events, metrics, appassignments.Config{
		Tables: appassignments.Tables{
			Assignments:     cfg.Tables.Assignments,
			Courses:         cfg.Tables.Courses,
			InstructorStats: cfg.Tables.InstructorStats,
			AuditLog:        cfg.Tables.AuditLog,
		},
		RequireCourseLink: cfg.RequireCourseLink,
		BatchSize:         cfg.Retry.BatchSize,
	}, logger)
	return svc.WithNotifier(hub)
}

// ProvideErrorHandler creates the HTTP error renderer. Internal error
// messages are exposed outside production.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *apperrors.ErrorHandler {
	return apperrors.NewErrorHandler(logger, !cfg.IsProduction())
}

// ProvideAssignmentHandler creates the assignment HTTP handler.
func ProvideAssignmentHandler(svc *appassignments.Service, errs *apperrors.ErrorHandler, logger *zap.Logger) *handlers.AssignmentHandler {
	return handlers.NewAssignmentHandler(svc, errs, logger)
}

// ProvideReadinessCheck reports ready when the assignments table answers a
// point read.
func ProvideReadinessCheck(store kvstore.Store, cfg *config.Config) rest.ReadinessCheck {
	table := cfg.Tables.Assignments
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, table, kvstore.Key{domain.IDField: "readiness-probe"})
		if err == nil || errors.Is(err, kvstore.ErrItemNotFound) {
			return nil
		}
		return err
	}
}

// ProvideRouter creates the HTTP router.
func ProvideRouter(
	assignments *handlers.AssignmentHandler,
	collector *observability.Collector,
	errs *apperrors.ErrorHandler,
	ready rest.ReadinessCheck,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(assignments, collector, errs, ready, logger)
}
