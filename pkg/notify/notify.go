// Package notify delivers user-facing notifications without ever blocking or
// failing the caller. Delivery runs detached; listener failures are logged.
package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type is the severity the UI renders a notification with.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Category identifies what went wrong, for clients that subscribe per category.
type Category string

const (
	CategoryServerError    Category = "server_error"
	CategorySessionExpired Category = "session_expired"
	CategoryRateLimited    Category = "rate_limited"
	CategoryTimeout        Category = "timeout"
	CategoryNetworkError   Category = "network_error"
	CategoryRequestError   Category = "request_error"
	CategoryGeneral        Category = "general"
)

// Notification is a message pushed to the user interface.
type Notification struct {
	Type     Type      `json:"type"`
	Category Category  `json:"category"`
	Title    string    `json:"title,omitempty"`
	Message  string    `json:"message"`
	UserID   string    `json:"userId,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink accepts notifications. Notify must return promptly and never fail.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// Listener delivers notifications to one destination.
type Listener interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(context.Context, Notification) {}

// BestEffort runs fn on its own goroutine. A returned error or a panic is
// logged and goes nowhere else. The returned channel is closed when fn is done.
func BestEffort(logger *zap.Logger, name string, fn func() error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Best-effort task panicked",
					zap.String("task", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()

		if err := fn(); err != nil {
			logger.Warn("Best-effort task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	}()
	return done
}

// Hub fans notifications out to every listener.
type Hub struct {
	listeners []Listener
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time

	wg sync.WaitGroup
}

// NewHub creates a hub. Each delivery gets its own deadline of timeout.
func NewHub(logger *zap.Logger, timeout time.Duration, listeners ...Listener) *Hub {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Hub{
		listeners: listeners,
		logger:    logger,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Notify delivers n to every listener in the background. Cancelling ctx does
// not cancel delivery.
func (h *Hub) Notify(ctx context.Context, n Notification) {
	if n.Time.IsZero() {
		n.Time = h.now()
	}
	detached := context.WithoutCancel(ctx)

	for _, l := range h.listeners {
		l := l
		h.wg.Add(1)
		BestEffort(h.logger, "notify."+l.Name(), func() error {
			defer h.wg.Done()
			dctx, cancel := context.WithTimeout(detached, h.timeout)
			defer cancel()
			if err := l.Deliver(dctx, n); err != nil {
				return fmt.Errorf("deliver %s notification: %w", n.Category, err)
			}
			return nil
		})
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
