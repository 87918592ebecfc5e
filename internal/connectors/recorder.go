package connectors

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/release-approval-gate/internal/domain"
	"go.uber.org/zap"
)

// Call — зафиксированный вызов оркестратора.
type Call struct {
	Action      domain.Action
	ExecutionID string
}

// DefaultCallLimit — сколько последних вызовов хранит Recorder.
const DefaultCallLimit = 1000

// Recorder — подменяемый оркестратор: запоминает вызовы и умеет имитировать сбои.
// Используется в тестах и в режиме dry-run.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	limit    int
	failures map[domain.Action]error
	latency  time.Duration
	logger   *zap.Logger
}

func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		limit:    DefaultCallLimit,
		failures: make(map[domain.Action]error),
		logger:   logger.Named("dry-run-orchestrator"),
	}
}

// FailOn заставляет вызовы action возвращать err.
func (r *Recorder) FailOn(action domain.Action, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[action] = err
}

// WithLatency имитирует задержку ответа; учитывает отмену контекста.
func (r *Recorder) WithLatency(d time.Duration) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = d
	return r
}

// WithCallLimit меняет размер журнала; старые вызовы вытесняются. n <= 0 игнорируется.
func (r *Recorder) WithCallLimit(n int) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > 0 {
		r.limit = n
		r.trim()
	}
	return r
}

func (r *Recorder) Resume(ctx context.Context, executionID string) error {
	return r.record(ctx, domain.ActionResume, executionID)
}

func (r *Recorder) Abort(ctx context.Context, executionID string) error {
	return r.record(ctx, domain.ActionAbort, executionID)
}

func (r *Recorder) record(ctx context.Context, action domain.Action, executionID string) error {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Action: action, ExecutionID: executionID})
	r.trim()
	failure := r.failures[action]
	latency := r.latency
	r.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return &domain.DownstreamError{Action: action, ExecutionID: executionID, Cause: ctx.Err()}
		}
	}

	r.logger.Info("orchestrator call recorded",
		zap.String("action", string(action)),
		zap.String("execution_id", executionID))

	if failure != nil {
		return &domain.DownstreamError{Action: action, ExecutionID: executionID, Cause: failure}
	}
	return nil
}

// trim вызывается под r.mu.
func (r *Recorder) trim() {
	if over := len(r.calls) - r.limit; over > 0 {
		r.calls = append(r.calls[:0:0], r.calls[over:]...)
	}
}

// Calls возвращает копию журнала вызовов.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count — сколько раз вызывался action.
func (r *Recorder) Count(action domain.Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Action == action {
			n++
		}
	}
	return n
}
