package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingListener struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Notification
}

func (l *recordingListener) Name() string { return l.name }

func (l *recordingListener) Deliver(_ context.Context, n Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, n)
	return l.err
}

func (l *recordingListener) received() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notification(nil), l.got...)
}

type panickingListener struct{}

func (panickingListener) Name() string { return "panics" }

func (panickingListener) Deliver(context.Context, Notification) error {
	panic("listener exploded")
}

func TestBestEffort_RecoversPanic(t *testing.T) {
	done := BestEffort(zap.NewNop(), "boom", func() error {
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("best-effort task did not finish")
	}
}

func TestBestEffort_SwallowsError(t *testing.T) {
	done := BestEffort(zap.NewNop(), "fails", func() error {
		return errors.New("unreachable")
	})

	assert.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestHub_FansOutDespiteFailures(t *testing.T) {
	// Arrange
	ok := &recordingListener{name: "ok"}
	failing := &recordingListener{name: "failing", err: errors.New("down")}
	hub := NewHub(zap.NewNop(), time.Second, failing, panickingListener{}, ok)

	// Act
	ctx, cancel := context.WithCancel(context.Background())
	hub.Notify(ctx, Notification{Type: TypeError, Category: CategoryServerError, Message: "boom"})
	cancel()

	// Assert
	require.NoError(t, hub.Wait(context.Background()))
	require.Len(t, ok.received(), 1)
	assert.Equal(t, CategoryServerError, ok.received()[0].Category)
	assert.False(t, ok.received()[0].Time.IsZero())
	assert.Len(t, failing.received(), 1)
}

type fakeConnections struct {
	ids []string
	err error
}

func (f fakeConnections) ConnectionIDs(context.Context, string) ([]string, error) {
	return f.ids, f.err
}

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) PostToConnection(ctx context.Context, in *apigatewaymanagementapi.PostToConnectionInput, _ ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	args := m.Called(ctx, *in.ConnectionId)
	out, _ := args.Get(0).(*apigatewaymanagementapi.PostToConnectionOutput)
	return out, args.Error(1)
}

func TestWebSocketListener_SkipsGoneConnections(t *testing.T) {
	// Arrange
	ctx := context.Background()
	poster := new(mockPoster)
	poster.On("PostToConnection", ctx, "c1").Return(&apigatewaymanagementapi.PostToConnectionOutput{}, nil)
	poster.On("PostToConnection", ctx, "c2").Return(nil, &apigwTypes.GoneException{})
	poster.On("PostToConnection", ctx, "c3").Return(&apigatewaymanagementapi.PostToConnectionOutput{}, nil)
	l := NewWebSocketListener(fakeConnections{ids: []string{"c1", "c2", "c3"}}, poster, zap.NewNop())

	// Act
	err := l.Deliver(ctx, Notification{Type: TypeWarning, Message: "slow down", Time: time.Now()})

	// Assert
	assert.NoError(t, err)
	poster.AssertNumberOfCalls(t, "PostToConnection", 3)
}

func TestWebSocketListener_ReportsFailures(t *testing.T) {
	ctx := context.Background()
	poster := new(mockPoster)
	poster.On("PostToConnection", ctx, "c1").Return(nil, errors.New("forbidden"))
	l := NewWebSocketListener(fakeConnections{ids: []string{"c1"}}, poster, zap.NewNop())

	err := l.Deliver(ctx, Notification{Message: "hi"})

	assert.ErrorContains(t, err, "forbidden")
}

func TestWebSocketListener_NoConnections(t *testing.T) {
	poster := new(mockPoster)
	l := NewWebSocketListener(fakeConnections{}, poster, zap.NewNop())

	assert.NoError(t, l.Deliver(context.Background(), Notification{UserID: "u1"}))
	poster.AssertNotCalled(t, "PostToConnection", mock.Anything, mock.Anything)
}

type publisherFunc func(context.Context, Notification) error

func (f publisherFunc) PublishNotification(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

func TestEventBridgeListener(t *testing.T) {
	var got Notification
	l := NewEventBridgeListener(publisherFunc(func(_ context.Context, n Notification) error {
		got = n
		return nil
	}))

	err := l.Deliver(context.Background(), Notification{Category: CategoryRateLimited})

	require.NoError(t, err)
	assert.Equal(t, CategoryRateLimited, got.Category)
	assert.Equal(t, "eventbridge", l.Name())
}
