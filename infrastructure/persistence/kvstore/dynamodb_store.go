package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore implements Store on top of DynamoDB.
type DynamoStore struct {
	client DynamoAPI
	logger *zap.Logger
}

// NewDynamoStore creates a DynamoDB-backed store.
func NewDynamoStore(client DynamoAPI, logger *zap.Logger) *DynamoStore {
	return &DynamoStore{
		client: client,
		logger: logger,
	}
}

// PutIfNotExists implements Store.
func (s *DynamoStore) PutIfNotExists(ctx context.Context, table string, item Item, idField string) error {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return newError("PutItem", table, KindUnknown, fmt.Errorf("marshal item: %w", err))
	}

	cond := expression.AttributeNotExists(expression.Name(idField))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return newError("PutItem", table, KindUnknown, fmt.Errorf("build condition: %w", err))
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		return fromDynamoError("PutItem", table, err)
	}
	return nil
}

// Update implements Store.
func (s *DynamoStore) Update(ctx context.Context, table string, key Key, update Update) error {
	if update.IsEmpty() {
		return newError("UpdateItem", table, KindUnknown, errors.New("empty update"))
	}

	keyAV, err := attributevalue.MarshalMap(map[string]any(key))
	if err != nil {
		return newError("UpdateItem", table, KindUnknown, fmt.Errorf("marshal key: %w", err))
	}

	builder := expression.NewBuilder().WithUpdate(buildUpdate(update))
	if update.RequireExists {
		if cond, ok := existsCondition(key); ok {
			builder = builder.WithCondition(cond)
		}
	}
	expr, err := builder.Build()
	if err != nil {
		return newError("UpdateItem", table, KindUnknown, fmt.Errorf("build update: %w", err))
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       keyAV,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fromDynamoError("UpdateItem", table, err)
	}
	return nil
}

// BatchWrite implements Store.
func (s *DynamoStore) BatchWrite(ctx context.Context, requests UnprocessedItems) (UnprocessedItems, error) {
	input := &dynamodb.BatchWriteItemInput{
		RequestItems: make(map[string][]types.WriteRequest, len(requests)),
	}
	tables := make([]string, 0, len(requests))
	for table, items := range requests {
		if len(items) == 0 {
			continue
		}
		tables = append(tables, table)
		writes := make([]types.WriteRequest, 0, len(items))
		for _, item := range items {
			av, err := attributevalue.MarshalMap(map[string]any(item))
			if err != nil {
				return nil, newError("BatchWriteItem", table, KindUnknown, fmt.Errorf("marshal item: %w", err))
			}
			writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		input.RequestItems[table] = writes
	}
	if len(input.RequestItems) == 0 {
		return UnprocessedItems{}, nil
	}

	output, err := s.client.BatchWriteItem(ctx, input)
	if err != nil {
		sort.Strings(tables)
		return nil, fromDynamoError("BatchWriteItem", tables[0], err)
	}

	unprocessed := make(UnprocessedItems, len(output.UnprocessedItems))
	for table, writes := range output.UnprocessedItems {
		for _, w := range writes {
			if w.PutRequest == nil {
				continue
			}
			var item map[string]any
			if err := attributevalue.UnmarshalMap(w.PutRequest.Item, &item); err != nil {
				return nil, newError("BatchWriteItem", table, KindUnknown, fmt.Errorf("unmarshal unprocessed item: %w", err))
			}
			unprocessed[table] = append(unprocessed[table], Item(item))
		}
	}

	if n := unprocessed.Count(); n > 0 {
		s.logger.Debug("BatchWriteItem returned unprocessed items",
			zap.Int("unprocessed", n))
	}
	return unprocessed, nil
}

// Get implements Store.
func (s *DynamoStore) Get(ctx context.Context, table string, key Key) (Item, error) {
	keyAV, err := attributevalue.MarshalMap(map[string]any(key))
	if err != nil {
		return nil, newError("GetItem", table, KindUnknown, fmt.Errorf("marshal key: %w", err))
	}

	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       keyAV,
	})
	if err != nil {
		return nil, fromDynamoError("GetItem", table, err)
	}
	if output.Item == nil {
		return nil, ErrItemNotFound
	}

	var item map[string]any
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, newError("GetItem", table, KindUnknown, fmt.Errorf("unmarshal item: %w", err))
	}
	return Item(item), nil
}

func buildUpdate(update Update) expression.UpdateBuilder {
	var ub expression.UpdateBuilder
	for _, name := range sortedKeys(update.Set) {
		ub = ub.Set(expression.Name(name), expression.Value(update.Set[name]))
	}
	for _, name := range sortedKeys(update.Add) {
		ub = ub.Add(expression.Name(name), expression.Value(update.Add[name]))
	}
	for _, name := range update.Remove {
		ub = ub.Remove(expression.Name(name))
	}
	return ub
}

func existsCondition(key Key) (expression.ConditionBuilder, bool) {
	names := sortedKeys(key)
	if len(names) == 0 {
		return expression.ConditionBuilder{}, false
	}
	conds := make([]expression.ConditionBuilder, 0, len(names))
	for _, name := range names {
		conds = append(conds, expression.AttributeExists(expression.Name(name)))
	}
	if len(conds) == 1 {
		return conds[0], true
	}
	return expression.And(conds[0], conds[1], conds[2:]...), true
}

// fromDynamoError classifies an SDK error by its API error code.
func fromDynamoError(op, table string, err error) *Error {
	code := ""
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code = ae.ErrorCode()
	}
	return &Error{
		Kind:  ClassifyCode(code),
		Op:    op,
		Table: table,
		Code:  code,
		Err:   err,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
