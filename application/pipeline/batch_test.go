package pipeline

import (
	"context"
	"testing"
	"time"

	"classcast-backend/infrastructure/persistence/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBatchWrite_ChunkCount(t *testing.T) {
	tests := []struct {
		name      string
		items     int
		batchSize int
		wantCalls int
	}{
		{"fifty in twos of 25", 50, 25, 2},
		{"one thousand", 1000, 25, 40},
		{"partial last chunk", 26, 25, 2},
		{"small batch size", 10, 3, 4},
		{"zero batch size falls back", 60, 0, 3},
		{"oversized batch size falls back", 60, 100, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			store := new(MockStore)
			store.On("BatchWrite", mock.Anything, mock.Anything).Return(kvstore.UnprocessedItems{}, nil)
			p, _ := newTestPipeline(store)

			// Act
			outcome := p.BatchWrite(context.Background(), "assignments", makeItems(tt.items), tt.batchSize)

			// Assert
			assert.True(t, outcome.Success)
			assert.Equal(t, tt.items, outcome.ProcessedCount)
			assert.Equal(t, tt.wantCalls, outcome.Submissions)
			store.AssertNumberOfCalls(t, "BatchWrite", tt.wantCalls)
		})
	}
}

func TestBatchWrite_Empty(t *testing.T) {
	store := new(MockStore)
	p, _ := newTestPipeline(store)

	outcome := p.BatchWrite(context.Background(), "assignments", nil, 25)

	assert.True(t, outcome.Success)
	assert.Equal(t, 0, outcome.ProcessedCount)
	store.AssertNotCalled(t, "BatchWrite", mock.Anything, mock.Anything)
}

func TestBatchWrite_UnprocessedRetried(t *testing.T) {
	// Arrange
	items := makeItems(50)
	store := new(MockStore)
	store.On("BatchWrite", mock.Anything, batchOfSize(25)).
		Return(kvstore.UnprocessedItems{"assignments": {items[7]}}, nil).Once()
	store.On("BatchWrite", mock.Anything, batchOfSize(1)).
		Return(kvstore.UnprocessedItems{}, nil).Once()
	store.On("BatchWrite", mock.Anything, batchOfSize(25)).
		Return(kvstore.UnprocessedItems{}, nil).Once()
	p, rec := newTestPipeline(store)

	// Act
	outcome := p.BatchWrite(context.Background(), "assignments", items, 25)

	// Assert
	assert.True(t, outcome.Success)
	assert.Equal(t, 50, outcome.ProcessedCount)
	assert.Empty(t, outcome.FailedItems)
	assert.Equal(t, 3, outcome.Submissions)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, rec.delays)
	store.AssertNumberOfCalls(t, "BatchWrite", 3)
	store.AssertExpectations(t)
}

func TestBatchWrite_HardFailureIsTerminalForChunk(t *testing.T) {
	// Arrange
	items := makeItems(60)
	store := new(MockStore)
	store.On("BatchWrite", mock.Anything, batchOfSize(25)).Return(kvstore.UnprocessedItems{}, nil).Once()
	store.On("BatchWrite", mock.Anything, batchOfSize(25)).Return(nil, storeErr(kvstore.KindThrottled)).Once()
	store.On("BatchWrite", mock.Anything, batchOfSize(10)).Return(kvstore.UnprocessedItems{}, nil).Once()
	p, rec := newTestPipeline(store)

	// Act
	outcome := p.BatchWrite(context.Background(), "assignments", items, 25)

	// Assert
	assert.False(t, outcome.Success)
	assert.Equal(t, 35, outcome.ProcessedCount)
	require.Len(t, outcome.FailedItems, 25)
	assert.Equal(t, items[25], outcome.FailedItems[0])
	assert.Len(t, outcome.Errors, 1)
	assert.Empty(t, rec.delays)
	store.AssertNumberOfCalls(t, "BatchWrite", 3)
}

func TestBatchWrite_UnprocessedExhaustedReportsRemainder(t *testing.T) {
	items := makeItems(5)
	remainder := kvstore.UnprocessedItems{"assignments": {items[3], items[4]}}
	store := new(MockStore)
	store.On("BatchWrite", mock.Anything, batchOfSize(5)).Return(remainder, nil).Once()
	store.On("BatchWrite", mock.Anything, batchOfSize(2)).Return(remainder, nil)
	p, _ := newTestPipeline(store)

	outcome := p.BatchWrite(context.Background(), "assignments", items, 25)

	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.ProcessedCount)
	assert.ElementsMatch(t, []kvstore.Item{items[3], items[4]}, outcome.FailedItems)
	store.AssertNumberOfCalls(t, "BatchWrite", 4)
}

func TestRetryUnprocessedItems_Empty(t *testing.T) {
	store := new(MockStore)
	p, rec := newTestPipeline(store)

	for _, u := range []kvstore.UnprocessedItems{nil, {}, {"assignments": {}}} {
		outcome := p.RetryUnprocessedItems(context.Background(), u, 3)

		assert.True(t, outcome.Success)
		assert.Empty(t, outcome.FailedItems)
	}
	assert.Empty(t, rec.delays)
	store.AssertNotCalled(t, "BatchWrite", mock.Anything, mock.Anything)
}

func TestRetryUnprocessedItems_Shrinking(t *testing.T) {
	// Arrange
	items := makeItems(4)
	store := new(MockStore)
	store.On("BatchWrite", mock.Anything, batchOfSize(4)).
		Return(kvstore.UnprocessedItems{"assignments": items[:2]}, nil).Once()
	store.On("BatchWrite", mock.Anything, batchOfSize(2)).
		Return(kvstore.UnprocessedItems{"assignments": items[:1]}, nil).Once()
	store.On("BatchWrite", mock.Anything, batchOfSize(1)).
		Return(kvstore.UnprocessedItems{"assignments": items[:1]}, nil).Once()
	p, rec := newTestPipeline(store)

	// Act
	outcome := p.RetryUnprocessedItems(context.Background(), kvstore.UnprocessedItems{"assignments": items}, 3)

	// Assert
	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Len(t, outcome.FailedItems, 1)
	assert.Contains(t, outcome.Error, "after 3 retries")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)
	store.AssertNumberOfCalls(t, "BatchWrite", 3)
}

func TestRetryUnprocessedItems_ThrottledRequestKeepsRetrying(t *testing.T) {
	items := makeItems(2)
	store := new(MockStore)
	store.On("BatchWrite", mock.Anything, mock.Anything).Return(nil, storeErr(kvstore.KindThrottled)).Once()
	store.On("BatchWrite", mock.Anything, mock.Anything).Return(kvstore.UnprocessedItems{}, nil).Once()
	p, _ := newTestPipeline(store)

	outcome := p.RetryUnprocessedItems(context.Background(), kvstore.UnprocessedItems{"assignments": items}, 3)

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestRetryUnprocessedItems_HardFailureStops(t *testing.T) {
	items := makeItems(2)
	store := new(MockStore)
	store.On("BatchWrite", mock.Anything, mock.Anything).Return(nil, storeErr(kvstore.KindResourceNotFound))
	p, _ := newTestPipeline(store)

	outcome := p.RetryUnprocessedItems(context.Background(), kvstore.UnprocessedItems{"assignments": items}, 3)

	assert.False(t, outcome.Success)
	assert.Len(t, outcome.FailedItems, 2)
	store.AssertNumberOfCalls(t, "BatchWrite", 1)
}
