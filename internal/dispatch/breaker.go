package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	xerrors "SonicPilot/internal/errors"
)

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerOpen            = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// BreakerConfig 控制熔断器。
type BreakerConfig struct {
	MaxFailures uint32
	Open        time.Duration
	Interval    time.Duration
}

// Breaker 在连续传输失败后快速失败，不做任何重发。
type Breaker struct {
	inner   Dispatcher
	breaker *gobreaker.CircuitBreaker[*Result]
}

// NewBreaker 为 Dispatcher 包裹熔断保护。只有 DISPATCH_TRANSPORT 计为失败。
func NewBreaker(name string, inner Dispatcher, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	open := cfg.Open
	if open <= 0 {
		open = defaultBreakerOpen
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultBreakerInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "dispatch:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     open,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("熔断器状态变化",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || xerrors.CodeOf(err) != xerrors.CodeDispatchTransport
		},
	})
	return &Breaker{inner: inner, breaker: cb}
}

// Dispatch 实现 Dispatcher。
func (b *Breaker) Dispatch(ctx context.Context, req Request) (*Result, error) {
	res, err := b.breaker.Execute(func() (*Result, error) {
		return b.inner.Dispatch(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, transportError(req.Kind, err, "upstream temporarily unavailable")
	}
	return res, err
}

// State 返回当前熔断状态。
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

var _ Dispatcher = (*Breaker)(nil)
