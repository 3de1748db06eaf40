package httpclient

import (
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures the transport circuit breaker.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that opens the breaker once
	// MinRequests have been seen.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerSettings returns the standard breaker settings for name.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

var errServerFailure = errors.New("server error response")

// WithCircuitBreaker guards the transport with a circuit breaker. Transport
// errors and 5xx responses count as failures. While the breaker is open
// requests fail immediately with a *NetworkError wrapping
// gobreaker.ErrOpenState and are not retried.
func WithCircuitBreaker(settings BreakerSettings) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < settings.MinRequests {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= settings.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
}

type breakerDoer struct {
	next Doer
	cb   *gobreaker.CircuitBreaker
}

func (d *breakerDoer) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	_, err := d.cb.Execute(func() (any, error) {
		r, err := d.next.Do(req)
		if err != nil {
			return nil, err
		}
		resp = r
		if r.StatusCode >= 500 {
			return nil, errServerFailure
		}
		return nil, nil
	})

	switch {
	case resp != nil:
		// 5xx responses are handed back so the client can classify them.
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &NetworkError{Err: err}
	default:
		return nil, err
	}
}
