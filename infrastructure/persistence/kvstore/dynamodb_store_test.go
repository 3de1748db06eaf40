package kvstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockDynamo struct {
	mock.Mock
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.BatchWriteItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func TestDynamoStore_PutIfNotExists(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional insert", func(t *testing.T) {
		client := new(mockDynamo)
		client.On("PutItem", ctx, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			return *in.TableName == "assignments" &&
				in.ConditionExpression != nil &&
				in.Item["assignmentId"].(*types.AttributeValueMemberS).Value == "a1"
		})).Return(&dynamodb.PutItemOutput{}, nil)

		store := NewDynamoStore(client, zap.NewNop())
		err := store.PutIfNotExists(ctx, "assignments", Item{"assignmentId": "a1", "maxScore": 100}, "assignmentId")

		assert.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("duplicate id is classified", func(t *testing.T) {
		client := new(mockDynamo)
		client.On("PutItem", ctx, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "ConditionalCheckFailedException"})

		store := NewDynamoStore(client, zap.NewNop())
		err := store.PutIfNotExists(ctx, "assignments", Item{"assignmentId": "a1"}, "assignmentId")

		assert.Equal(t, KindConditionFailed, KindOf(err))
	})
}

func TestDynamoStore_Update(t *testing.T) {
	ctx := context.Background()

	client := new(mockDynamo)
	client.On("UpdateItem", ctx, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return in.UpdateExpression != nil && in.ConditionExpression != nil
	})).Return(nil, &smithy.GenericAPIError{Code: "ConditionalCheckFailedException"})

	store := NewDynamoStore(client, zap.NewNop())
	err := store.Update(ctx, "instructor-stats", Key{"instructorId": "i1"}, Update{
		Add:           map[string]float64{"assignmentCount": 1},
		RequireExists: true,
	})

	assert.Equal(t, KindConditionFailed, KindOf(err))
	client.AssertExpectations(t)
}

func TestDynamoStore_UpdateEmpty(t *testing.T) {
	client := new(mockDynamo)
	store := NewDynamoStore(client, zap.NewNop())

	err := store.Update(context.Background(), "courses", Key{"courseId": "c1"}, Update{})

	assert.Error(t, err)
	client.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything)
}

func TestDynamoStore_BatchWrite(t *testing.T) {
	ctx := context.Background()

	deferred := map[string]types.AttributeValue{
		"assignmentId": &types.AttributeValueMemberS{Value: "a2"},
	}
	client := new(mockDynamo)
	client.On("BatchWriteItem", ctx, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
		return len(in.RequestItems["assignments"]) == 2
	})).Return(&dynamodb.BatchWriteItemOutput{
		UnprocessedItems: map[string][]types.WriteRequest{
			"assignments": {{PutRequest: &types.PutRequest{Item: deferred}}},
		},
	}, nil)

	store := NewDynamoStore(client, zap.NewNop())
	unprocessed, err := store.BatchWrite(ctx, UnprocessedItems{
		"assignments": {{"assignmentId": "a1"}, {"assignmentId": "a2"}},
	})

	require.NoError(t, err)
	require.Equal(t, 1, unprocessed.Count())
	assert.Equal(t, "a2", unprocessed["assignments"][0]["assignmentId"])
}

func TestDynamoStore_BatchWriteHardFailure(t *testing.T) {
	ctx := context.Background()

	client := new(mockDynamo)
	client.On("BatchWriteItem", ctx, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "ResourceNotFoundException"})

	store := NewDynamoStore(client, zap.NewNop())
	_, err := store.BatchWrite(ctx, UnprocessedItems{"assignments": {{"assignmentId": "a1"}}})

	assert.Equal(t, KindResourceNotFound, KindOf(err))
}

func TestDynamoStore_Get(t *testing.T) {
	ctx := context.Background()

	client := new(mockDynamo)
	client.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()
	client.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{
		Item: map[string]types.AttributeValue{
			"courseId":        &types.AttributeValueMemberS{Value: "c1"},
			"assignmentCount": &types.AttributeValueMemberN{Value: "4"},
		},
	}, nil).Once()

	store := NewDynamoStore(client, zap.NewNop())

	_, err := store.Get(ctx, "courses", Key{"courseId": "c1"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	item, err := store.Get(ctx, "courses", Key{"courseId": "c1"})
	require.NoError(t, err)
	assert.Equal(t, float64(4), item["assignmentCount"])
}
