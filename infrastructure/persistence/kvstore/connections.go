package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// ConnectionsAPI is the subset of the DynamoDB client used for the
// connections table.
type ConnectionsAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Connection is one open WebSocket connection.
type Connection struct {
	ConnectionID string `dynamodbav:"connectionId"`
	UserID       string `dynamodbav:"userId"`
	ConnectedAt  string `dynamodbav:"connectedAt,omitempty"`
	Endpoint     string `dynamodbav:"endpoint,omitempty"`
	TTL          int64  `dynamodbav:"ttl,omitempty"`
}

// ConnectionTTL is how long a connection record lives without a disconnect.
const ConnectionTTL = 24 * time.Hour

// DynamoConnections tracks WebSocket connections in the connections table.
type DynamoConnections struct {
	client ConnectionsAPI
	table  string
	now    func() time.Time
}

// NewDynamoConnections creates a connection registry for table.
func NewDynamoConnections(client ConnectionsAPI, table string) *DynamoConnections {
	return &DynamoConnections{client: client, table: table, now: time.Now}
}

// Register records a new connection. The record expires after ConnectionTTL.
func (c *DynamoConnections) Register(ctx context.Context, conn Connection) error {
	now := c.now()
	if conn.ConnectedAt == "" {
		conn.ConnectedAt = now.UTC().Format(time.RFC3339)
	}
	conn.TTL = now.Add(ConnectionTTL).Unix()

	av, err := attributevalue.MarshalMap(conn)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	if err != nil {
		return fromDynamoError("PutItem", c.table, err)
	}
	return nil
}

// Remove deletes a connection record. Removing an unknown connection is not
// an error.
func (c *DynamoConnections) Remove(ctx context.Context, connectionID string) error {
	key, err := attributevalue.MarshalMap(map[string]string{"connectionId": connectionID})
	if err != nil {
		return fmt.Errorf("marshal connection key: %w", err)
	}
	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       key,
	})
	if err != nil {
		return fromDynamoError("DeleteItem", c.table, err)
	}
	return nil
}

// ConnectionIDs returns the connections of userID, or every connection when
// userID is empty.
func (c *DynamoConnections) ConnectionIDs(ctx context.Context, userID string) ([]string, error) {
	builder := expression.NewBuilder().
		WithProjection(expression.NamesList(expression.Name("connectionId"), expression.Name("userId")))
	if userID != "" {
		builder = builder.WithFilter(expression.Name("userId").Equal(expression.Value(userID)))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build scan expression: %w", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(c.table),
		ProjectionExpression:      expr.Projection(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var ids []string
	paginator := dynamodb.NewScanPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fromDynamoError("Scan", c.table, err)
		}
		var records []Connection
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &records); err != nil {
			return nil, fmt.Errorf("unmarshal connections: %w", err)
		}
		for _, r := range records {
			if r.ConnectionID != "" {
				ids = append(ids, r.ConnectionID)
			}
		}
	}
	return ids, nil
}
