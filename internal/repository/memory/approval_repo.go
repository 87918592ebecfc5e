package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/release-approval-gate/internal/domain"
)

// ApprovalRepo — хранилище в памяти процесса. Подходит для одного инстанса и тестов.
type ApprovalRepo struct {
	mu        sync.RWMutex
	approvals map[string]domain.ApprovalRequest
}

func NewApprovalRepo() *ApprovalRepo {
	return &ApprovalRepo{approvals: make(map[string]domain.ApprovalRequest)}
}

// Close — ресурсов нет, метод нужен для единого интерфейса хранилищ.
func (r *ApprovalRepo) Close() error { return nil }

func (r *ApprovalRepo) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.approvals[req.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, req.ID)
	}
	r.approvals[req.ID] = clone(*req)
	return nil
}

func (r *ApprovalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.approvals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := clone(app)
	return &out, nil
}

// CompareAndSetStatus — проверка и запись под одной блокировкой.
func (r *ApprovalRepo) CompareAndSetStatus(ctx context.Context, id string, next domain.Status, decidedAt time.Time) (*domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	app, ok := r.approvals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := app.Status.CanTransitionTo(next); err != nil {
		return nil, err
	}

	app.Status = next
	app.DecidedAt = &decidedAt
	r.approvals[id] = app

	out := clone(app)
	return &out, nil
}

// clone отвязывает DecidedAt от внутреннего состояния.
func clone(app domain.ApprovalRequest) domain.ApprovalRequest {
	if app.DecidedAt != nil {
		t := *app.DecidedAt
		app.DecidedAt = &t
	}
	return app
}
