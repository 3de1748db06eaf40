package kvstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code string
		want Kind
	}{
		{"ConditionalCheckFailedException", KindConditionFailed},
		{"ThrottlingException", KindThrottled},
		{"ProvisionedThroughputExceededException", KindThrottled},
		{"RequestLimitExceeded", KindThrottled},
		{"ResourceNotFoundException", KindResourceNotFound},
		{"AccessDeniedException", KindAccessDenied},
		{"UnrecognizedClientException", KindAccessDenied},
		{"ValidationException", KindUnknown},
		{"", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCode(tt.code))
		})
	}
}

func TestFromDynamoError(t *testing.T) {
	t.Run("generic api error", func(t *testing.T) {
		apiErr := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}

		err := fromDynamoError("PutItem", "assignments", apiErr)

		assert.Equal(t, KindThrottled, err.Kind)
		assert.Equal(t, "ThrottlingException", err.Code)
		assert.ErrorIs(t, err, apiErr)
	})

	t.Run("typed sdk error", func(t *testing.T) {
		msg := "The conditional request failed"
		sdkErr := &types.ConditionalCheckFailedException{Message: &msg}

		err := fromDynamoError("PutItem", "assignments", fmt.Errorf("operation error: %w", sdkErr))

		assert.Equal(t, KindConditionFailed, err.Kind)
	})

	t.Run("non api error", func(t *testing.T) {
		err := fromDynamoError("PutItem", "assignments", errors.New("connection reset"))

		assert.Equal(t, KindUnknown, err.Kind)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", newError("UpdateItem", "courses", KindAccessDenied, errors.New("denied")))

	assert.Equal(t, KindAccessDenied, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestUnprocessedItems(t *testing.T) {
	u := UnprocessedItems{
		"a": {{"id": "1"}, {"id": "2"}},
		"b": {},
	}

	assert.Equal(t, 2, u.Count())
	assert.False(t, u.IsEmpty())
	assert.Len(t, u.Flatten(), 2)
	assert.True(t, UnprocessedItems{"a": nil}.IsEmpty())
	assert.True(t, UnprocessedItems(nil).IsEmpty())
}
