package pipeline

import (
	"context"
	"time"

	"classcast-backend/infrastructure/persistence/kvstore"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockStore is a testify mock of kvstore.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) PutIfNotExists(ctx context.Context, table string, item kvstore.Item, idField string) error {
	args := m.Called(ctx, table, item, idField)
	return args.Error(0)
}

func (m *MockStore) Update(ctx context.Context, table string, key kvstore.Key, update kvstore.Update) error {
	args := m.Called(ctx, table, key, update)
	return args.Error(0)
}

func (m *MockStore) BatchWrite(ctx context.Context, requests kvstore.UnprocessedItems) (kvstore.UnprocessedItems, error) {
	args := m.Called(ctx, requests)
	out, _ := args.Get(0).(kvstore.UnprocessedItems)
	return out, args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, table string, key kvstore.Key) (kvstore.Item, error) {
	args := m.Called(ctx, table, key)
	out, _ := args.Get(0).(kvstore.Item)
	return out, args.Error(1)
}

func storeErr(kind kvstore.Kind) error {
	return &kvstore.Error{Kind: kind, Op: "test", Table: "assignments"}
}

// sleepRecorder records requested waits without sleeping.
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestPipeline(store kvstore.Store, opts ...Option) (*Pipeline, *sleepRecorder) {
	rec := &sleepRecorder{}
	all := append([]Option{WithSleep(rec.sleep)}, opts...)
	p, err := New(store, zap.NewNop(), all...)
	if err != nil {
		panic(err)
	}
	return p, rec
}

func makeItems(n int) []kvstore.Item {
	items := make([]kvstore.Item, n)
	for i := range items {
		items[i] = kvstore.Item{"assignmentId": i}
	}
	return items
}

func batchOfSize(n int) interface{} {
	return mock.MatchedBy(func(req kvstore.UnprocessedItems) bool {
		return req.Count() == n
	})
}
