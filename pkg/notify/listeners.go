package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"
)

// LogListener writes notifications to the application log.
type LogListener struct {
	logger *zap.Logger
}

// NewLogListener creates a log listener.
func NewLogListener(logger *zap.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) Name() string { return "log" }

func (l *LogListener) Deliver(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("category", string(n.Category)),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.String("user_id", n.UserID),
	}
	switch n.Type {
	case TypeError:
		l.logger.Error("Notification", fields...)
	case TypeWarning:
		l.logger.Warn("Notification", fields...)
	default:
		l.logger.Info("Notification", fields...)
	}
	return nil
}

// EventPublisher puts a notification on an event bus.
type EventPublisher interface {
	PublishNotification(ctx context.Context, n Notification) error
}

// EventBridgeListener forwards notifications to EventBridge, where rules fan
// them out to email and SNS targets.
type EventBridgeListener struct {
	publisher EventPublisher
}

// NewEventBridgeListener creates a listener publishing through publisher.
func NewEventBridgeListener(publisher EventPublisher) *EventBridgeListener {
	return &EventBridgeListener{publisher: publisher}
}

func (l *EventBridgeListener) Name() string { return "eventbridge" }

func (l *EventBridgeListener) Deliver(ctx context.Context, n Notification) error {
	return l.publisher.PublishNotification(ctx, n)
}

// ConnectionLister finds the WebSocket connections of a user. An empty user
// id means every open connection.
type ConnectionLister interface {
	ConnectionIDs(ctx context.Context, userID string) ([]string, error)
}

// PostToConnectionAPI is the subset of the API Gateway management client used
// to push WebSocket frames.
type PostToConnectionAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// WebSocketMessage is the frame sent to connected browsers.
type WebSocketMessage struct {
	Type      string       `json:"type"`
	Timestamp int64        `json:"timestamp"`
	Data      Notification `json:"data"`
}

// WebSocketListener pushes notifications to the user's open WebSocket
// connections.
type WebSocketListener struct {
	connections ConnectionLister
	client      PostToConnectionAPI
	logger      *zap.Logger
}

// NewWebSocketListener creates a WebSocket listener.
func NewWebSocketListener(connections ConnectionLister, client PostToConnectionAPI, logger *zap.Logger) *WebSocketListener {
	return &WebSocketListener{
		connections: connections,
		client:      client,
		logger:      logger,
	}
}

func (l *WebSocketListener) Name() string { return "websocket" }

func (l *WebSocketListener) Deliver(ctx context.Context, n Notification) error {
	ids, err := l.connections.ConnectionIDs(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	payload, err := json.Marshal(WebSocketMessage{
		Type:      "notification",
		Timestamp: n.Time.Unix(),
		Data:      n,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var errs []error
	for _, id := range ids {
		_, err := l.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(id),
			Data:         payload,
		})
		if err == nil {
			continue
		}
		var goneErr *apigwTypes.GoneException
		if errors.As(err, &goneErr) {
			l.logger.Debug("Connection is gone, skipping", zap.String("connection_id", id))
			continue
		}
		errs = append(errs, fmt.Errorf("connection %s: %w", id, err))
	}
	return errors.Join(errs...)
}
