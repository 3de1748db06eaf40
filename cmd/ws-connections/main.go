// Command ws-connections handles the $connect and $disconnect routes of the
// WebSocket API and keeps the connections table current, which is where
// notification delivery looks up a user's open connections.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"classcast-backend/infrastructure/config"
	"classcast-backend/infrastructure/persistence/kvstore"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Registry stores and removes connection records.
type Registry interface {
	Register(ctx context.Context, conn kvstore.Connection) error
	Remove(ctx context.Context, connectionID string) error
}

type handler struct {
	registry Registry
	logger   *zap.Logger
}

func (h *handler) handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	rc := req.RequestContext
	switch rc.RouteKey {
	case "$connect":
		userID, err := userIDFrom(req)
		if err != nil {
			h.logger.Warn("Rejected WebSocket connection",
				zap.String("connection_id", rc.ConnectionID),
				zap.Error(err),
			)
			return respond(http.StatusUnauthorized, `{"error":"unauthorized"}`), nil
		}

		err = h.registry.Register(ctx, kvstore.Connection{
			ConnectionID: rc.ConnectionID,
			UserID:       userID,
			Endpoint:     fmt.Sprintf("%s/%s", rc.DomainName, rc.Stage),
		})
		if err != nil {
			h.logger.Error("Failed to store connection", zap.String("connection_id", rc.ConnectionID), zap.Error(err))
			return respond(http.StatusInternalServerError, `{"error":"internal server error"}`), nil
		}
		h.logger.Info("WebSocket connected", zap.String("connection_id", rc.ConnectionID), zap.String("user_id", userID))
		return respond(http.StatusOK, ""), nil

	case "$disconnect":
		if err := h.registry.Remove(ctx, rc.ConnectionID); err != nil {
			// The record expires on its own.
			h.logger.Warn("Failed to remove connection", zap.String("connection_id", rc.ConnectionID), zap.Error(err))
		}
		return respond(http.StatusOK, ""), nil

	default:
		return respond(http.StatusBadRequest, `{"error":"unsupported route"}`), nil
	}
}

// userIDFrom takes the user from the authorizer context, or from the subject
// of the token query parameter. Token signatures are checked by the API
// Gateway authorizer, not here.
func userIDFrom(req events.APIGatewayWebsocketProxyRequest) (string, error) {
	if authz, ok := req.RequestContext.Authorizer.(map[string]interface{}); ok {
		if principal, ok := authz["principalId"].(string); ok && principal != "" {
			return principal, nil
		}
	}

	token := req.QueryStringParameters["token"]
	if token == "" {
		return "", fmt.Errorf("missing authentication token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("malformed token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

func respond(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	h := &handler{
		registry: kvstore.NewDynamoConnections(dynamodb.NewFromConfig(awsCfg), cfg.Tables.Connections),
		logger:   logger,
	}
	lambda.Start(h.handle)
}
