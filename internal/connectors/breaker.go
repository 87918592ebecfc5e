package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/release-approval-gate/internal/domain"
	"golang.org/x/time/rate"
)

type BreakerSettings struct {
	Name                string
	MaxRequests         uint32        // Пропускная способность в half-open
	Interval            time.Duration // Период сброса счетчиков в closed
	Timeout             time.Duration // Через сколько open пробует закрыться
	ConsecutiveFailures uint32        // Порог срабатывания
	RateLimit           float64       // Вызовов в секунду, 0 — без ограничения
	RateWait            time.Duration // Максимум ожидания лимитера
}

// Breaker защищает оркестратор от лавины вызовов, пока тот недоступен.
// Ретраев нет: при открытом предохранителе вызов сразу завершается DownstreamError.
type Breaker struct {
	next     ExecutionController
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	rateWait time.Duration
}

func NewBreaker(next ExecutionController, s BreakerSettings, state *prometheus.GaugeVec) *Breaker {
	if s.Name == "" {
		s.Name = "orchestrator"
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.RateWait <= 0 {
		s.RateWait = 2 * time.Second
	}

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// 4xx — это ответ живого оркестратора (например, запуск уже завершен), а не его отказ
		IsSuccessful: func(err error) bool {
			var dErr *domain.DownstreamError
			if errors.As(err, &dErr) && dErr.StatusCode >= 400 && dErr.StatusCode < 500 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if state != nil {
				state.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	if state != nil {
		state.WithLabelValues(s.Name).Set(float64(gobreaker.StateClosed))
	}

	var limiter *rate.Limiter
	if s.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.RateLimit), int(s.RateLimit)+1)
	}

	return &Breaker{next: next, cb: cb, limiter: limiter, rateWait: s.RateWait}
}

func (b *Breaker) Resume(ctx context.Context, executionID string) error {
	return b.call(ctx, domain.ActionResume, executionID, b.next.Resume)
}

func (b *Breaker) Abort(ctx context.Context, executionID string) error {
	return b.call(ctx, domain.ActionAbort, executionID, b.next.Abort)
}

// State — текущее состояние предохранителя.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) call(ctx context.Context, action domain.Action, executionID string, fn func(context.Context, string) error) error {
	// 1. Rate Limiter (ожидание ограничено)
	if b.limiter != nil {
		wctx, cancel := context.WithTimeout(ctx, b.rateWait)
		err := b.limiter.Wait(wctx)
		cancel()
		if err != nil {
			return &domain.DownstreamError{Action: action, ExecutionID: executionID, Cause: fmt.Errorf("rate limit exceeded: %w", err)}
		}
	}

	// 2. Circuit Breaker
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx, executionID)
	})
	if err == nil {
		return nil
	}

	var dErr *domain.DownstreamError
	if errors.As(err, &dErr) {
		return err
	}
	// gobreaker.ErrOpenState / ErrTooManyRequests
	return &domain.DownstreamError{Action: action, ExecutionID: executionID, Cause: err}
}
