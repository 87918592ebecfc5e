package engine

/*
Файл decision.go содержит ядро сервиса — конечный автомат заявки (stateful-вариант).

Порядок в Decide фиксирован: сначала атомарный commit в хранилище,
затем вызов оркестратора. Оркестратор никогда не получает команду
без записанного решения. Ошибка оркестратора не откатывает решение,
но возвращается вызывающему отдельно (DownstreamError).
*/

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/release-approval-gate/internal/domain"
	"go.uber.org/zap"
)

const modeStateful = "stateful"

// DefaultStoreTimeout ограничивает запись решения в хранилище.
const DefaultStoreTimeout = 5 * time.Second

type DecisionEngine struct {
	store   ApprovalStore
	orch    Orchestrator
	metrics *Metrics
	logger  *zap.Logger

	storeTimeout time.Duration

	now   func() time.Time
	newID func() string
}

type Option func(*DecisionEngine)

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(e *DecisionEngine) { e.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(gen func() string) Option {
	return func(e *DecisionEngine) { e.newID = gen }
}

// WithStoreTimeout задает предел для атомарной записи решения.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *DecisionEngine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

func NewDecisionEngine(store ApprovalStore, orch Orchestrator, metrics *Metrics, logger *zap.Logger, opts ...Option) *DecisionEngine {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	e := &DecisionEngine{
		store:   store,
		orch:    orch,
		metrics: metrics,
		logger:  logger.Named("decision-engine"),
		now:     time.Now,
		newID:   NewApprovalID,

		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewApprovalID — "appr_" + 128 бит случайности UUIDv4.
func NewApprovalID() string {
	return "appr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create регистрирует заявку в статусе PENDING. Одна запись в хранилище.
func (e *DecisionEngine) Create(ctx context.Context, in domain.CreateInput) (*domain.ApprovalRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := &domain.ApprovalRequest{
		ID:             e.newID(),
		ExecutionID:    in.ExecutionID,
		ReleaseID:      in.ReleaseID,
		Recommendation: in.Recommendation,
		Status:         domain.StatusPending,
		CreatedAt:      e.now().UTC(),
	}

	if err := e.store.Create(ctx, req); err != nil {
		e.logger.Error("failed to persist approval request",
			zap.String("approval_id", req.ID),
			zap.String("execution_id", req.ExecutionID),
			zap.Error(err))
		return nil, fmt.Errorf("create approval: %w", err)
	}

	e.metrics.Created.WithLabelValues(modeStateful).Inc()
	e.logger.Info("approval requested",
		zap.String("approval_id", req.ID),
		zap.String("execution_id", req.ExecutionID),
		zap.String("release_id", req.ReleaseID))

	return req, nil
}

// View — только чтение.
func (e *DecisionEngine) View(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return e.store.Get(ctx, id)
}

// Decide применяет решение ровно один раз.
// При сбое оркестратора возвращает И зафиксированную заявку, И ошибку ErrDownstream.
func (e *DecisionEngine) Decide(ctx context.Context, id string, raw string) (*domain.ApprovalRequest, error) {
	decision, err := domain.ParseDecision(raw)
	if err != nil {
		e.metrics.Decisions.WithLabelValues("invalid", resultLabel(err)).Inc()
		return nil, err
	}

	// 1. Атомарный check-and-set в хранилище.
	// Отмена запроса клиентом не прерывает запись, ее ограничивает только storeTimeout.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
	req, err := e.store.CompareAndSetStatus(storeCtx, id, decision.Status(), e.now().UTC())
	cancel()
	if err != nil {
		e.metrics.Decisions.WithLabelValues(decision.String(), resultLabel(err)).Inc()
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyDecided) {
			e.logger.Info("decision refused",
				zap.String("approval_id", id),
				zap.String("decision", decision.String()),
				zap.Error(err))
			return nil, err
		}
		e.logger.Error("failed to persist decision",
			zap.String("approval_id", id),
			zap.String("decision", decision.String()),
			zap.Error(err))
		return nil, fmt.Errorf("persist decision: %w", err)
	}

	e.logger.Info("decision recorded",
		zap.String("approval_id", req.ID),
		zap.String("execution_id", req.ExecutionID),
		zap.String("decision", decision.String()))

	// 2. Вызов оркестратора после commit, вне блокировок.
	// Отмена запроса клиентом не прерывает уже принятое решение.
	err = callOrchestrator(context.WithoutCancel(ctx), e.orch, e.metrics, e.logger, decision, req.ExecutionID)
	e.metrics.Decisions.WithLabelValues(decision.String(), resultLabel(err)).Inc()
	if err != nil {
		return req, err
	}
	return req, nil
}

// callOrchestrator отправляет команду, соответствующую решению. PAUSE — без вызова.
func callOrchestrator(ctx context.Context, orch Orchestrator, metrics *Metrics, logger *zap.Logger, decision domain.Decision, executionID string) error {
	action := decision.Action()

	var call func(context.Context, string) error
	switch action {
	case domain.ActionResume:
		call = orch.Resume
	case domain.ActionAbort:
		call = orch.Abort
	default:
		return nil
	}

	start := time.Now()
	err := call(ctx, executionID)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.DownstreamDuration.WithLabelValues(string(action), result).Observe(time.Since(start).Seconds())

	if err != nil {
		// Оркестратор обязан вернуть DownstreamError, но фейки и обертки могут этого не делать
		var dErr *domain.DownstreamError
		if !errors.As(err, &dErr) {
			err = &domain.DownstreamError{Action: action, ExecutionID: executionID, Cause: err}
		}
		logger.Error("critical: decision saved but orchestration call failed",
			zap.String("execution_id", executionID),
			zap.String("action", string(action)),
			zap.Error(err))
		return err
	}

	logger.Info("orchestration call succeeded",
		zap.String("execution_id", executionID),
		zap.String("action", string(action)))
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyDecided):
		return "already_decided"
	case errors.Is(err, domain.ErrInvalidDecision):
		return "invalid_decision"
	case errors.Is(err, domain.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, domain.ErrDownstream):
		return "downstream_error"
	}
	return "error"
}
