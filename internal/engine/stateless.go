package engine

import (
	"context"
	"time"

	"github.com/xela07ax/release-approval-gate/internal/domain"
	"github.com/xela07ax/release-approval-gate/internal/token"
	"go.uber.org/zap"
)

const modeStateless = "stateless"

// TokenCodec — кодек самодостаточного токена заявки.
type TokenCodec interface {
	Encode(p token.Payload) (string, error)
	Decode(tok string) (token.Payload, error)
}

// TokenEngine — stateless-вариант: состояние живет только в подписанном токене.
// Гарантия "ровно одно решение" здесь не обеспечивается, повторный resume/abort
// отсекает сам оркестратор.
type TokenEngine struct {
	codec   TokenCodec
	orch    Orchestrator
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewTokenEngine(codec TokenCodec, orch Orchestrator, metrics *Metrics, logger *zap.Logger) *TokenEngine {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &TokenEngine{
		codec:   codec,
		orch:    orch,
		metrics: metrics,
		logger:  logger.Named("token-engine"),
		now:     time.Now,
	}
}

// Create выпускает токен. Идентификатор заявки — сам токен.
func (e *TokenEngine) Create(ctx context.Context, in domain.CreateInput) (*domain.ApprovalRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	createdAt := e.now().UTC()
	tok, err := e.codec.Encode(token.Payload{
		ExecutionID:    in.ExecutionID,
		ReleaseID:      in.ReleaseID,
		Recommendation: in.Recommendation,
		CreatedAt:      createdAt,
	})
	if err != nil {
		return nil, err
	}

	e.metrics.Created.WithLabelValues(modeStateless).Inc()
	e.logger.Info("approval token issued",
		zap.String("execution_id", in.ExecutionID),
		zap.String("release_id", in.ReleaseID))

	return &domain.ApprovalRequest{
		ID:             tok,
		ExecutionID:    in.ExecutionID,
		ReleaseID:      in.ReleaseID,
		Recommendation: in.Recommendation,
		Status:         domain.StatusPending,
		CreatedAt:      createdAt,
	}, nil
}

// View показывает заявку "как выпущена": токен не знает о принятых решениях.
func (e *TokenEngine) View(ctx context.Context, ref string) (*domain.ApprovalRequest, error) {
	p, err := e.codec.Decode(ref)
	if err != nil {
		return nil, err
	}
	return fromPayload(ref, p), nil
}

func (e *TokenEngine) Decide(ctx context.Context, ref string, raw string) (*domain.ApprovalRequest, error) {
	decision, err := domain.ParseDecision(raw)
	if err != nil {
		e.metrics.Decisions.WithLabelValues("invalid", resultLabel(err)).Inc()
		return nil, err
	}

	p, err := e.codec.Decode(ref)
	if err != nil {
		e.metrics.Decisions.WithLabelValues(decision.String(), resultLabel(err)).Inc()
		e.logger.Warn("rejected approval token", zap.String("decision", decision.String()))
		return nil, err
	}

	req := fromPayload(ref, p)
	decidedAt := e.now().UTC()
	req.Status = decision.Status()
	req.DecidedAt = &decidedAt

	e.logger.Info("stateless decision accepted",
		zap.String("execution_id", req.ExecutionID),
		zap.String("decision", decision.String()))

	err = callOrchestrator(context.WithoutCancel(ctx), e.orch, e.metrics, e.logger, decision, req.ExecutionID)
	e.metrics.Decisions.WithLabelValues(decision.String(), resultLabel(err)).Inc()
	if err != nil {
		return req, err
	}
	return req, nil
}

func fromPayload(ref string, p token.Payload) *domain.ApprovalRequest {
	return &domain.ApprovalRequest{
		ID:             ref,
		ExecutionID:    p.ExecutionID,
		ReleaseID:      p.ReleaseID,
		Recommendation: p.Recommendation,
		Status:         domain.StatusPending,
		CreatedAt:      p.CreatedAt,
	}
}
