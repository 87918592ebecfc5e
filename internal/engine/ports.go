package engine

import (
	"context"
	"time"

	"github.com/xela07ax/release-approval-gate/internal/domain"
)

// ApprovalStore — единственный владелец состояния заявок.
// Реализации (memory, sqlite, postgres, redis) взаимозаменяемы.
type ApprovalStore interface {
	// Create сохраняет новую заявку. При коллизии id — domain.ErrDuplicateID.
	Create(ctx context.Context, req *domain.ApprovalRequest) error
	// Get возвращает заявку или domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	// CompareAndSetStatus атомарно переводит PENDING -> next и проставляет decided_at.
	// Ошибки: domain.ErrNotFound, domain.ErrAlreadyDecided.
	CompareAndSetStatus(ctx context.Context, id string, next domain.Status, decidedAt time.Time) (*domain.ApprovalRequest, error)
}

// Orchestrator — узкая граница к движку исполнения (Rundeck).
// Ничего не знает о семантике заявок.
type Orchestrator interface {
	Resume(ctx context.Context, executionID string) error
	Abort(ctx context.Context, executionID string) error
}

// ApprovalService — общий контракт stateful и stateless движков для шлюза.
// ref — id заявки либо токен.
type ApprovalService interface {
	Create(ctx context.Context, in domain.CreateInput) (*domain.ApprovalRequest, error)
	View(ctx context.Context, ref string) (*domain.ApprovalRequest, error)
	Decide(ctx context.Context, ref string, decision string) (*domain.ApprovalRequest, error)
}
