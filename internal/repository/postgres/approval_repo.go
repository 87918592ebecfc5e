package postgres

/*
Файл approval_repo.go — хранилище заявок в PostgreSQL.

Единственная таблица approvals, ключ — id. Атомарность решения
обеспечивает условный UPDATE ... WHERE status = 'PENDING' RETURNING:
из двух конкурентных решений строку обновит только одно.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/release-approval-gate/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS approvals (
	id             TEXT PRIMARY KEY,
	execution_id   TEXT        NOT NULL,
	release_id     TEXT        NOT NULL,
	recommendation TEXT        NOT NULL,
	status         TEXT        NOT NULL DEFAULT 'PENDING',
	created_at     TIMESTAMPTZ NOT NULL,
	decided_at     TIMESTAMPTZ
)`

const approvalColumns = `id, execution_id, release_id, recommendation, status, created_at, decided_at`

// Код ошибки unique_violation
const pgUniqueViolation = "23505"

type ApprovalRepo struct {
	pool *pgxpool.Pool
}

type PoolConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// NewApprovalRepo создает пул соединений. Доступность базы проверяется через Ping.
func NewApprovalRepo(ctx context.Context, cfg PoolConfig) (*ApprovalRepo, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	pcfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return &ApprovalRepo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте
func (r *ApprovalRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// EnsureSchema создает таблицу, если ее еще нет.
func (r *ApprovalRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to ensure schema: %w", err)
	}
	return nil
}

func (r *ApprovalRepo) Close() error {
	r.pool.Close()
	return nil
}

// Create создает запись в таблице approvals.
func (r *ApprovalRepo) Create(ctx context.Context, app *domain.ApprovalRequest) error {
	query := `INSERT INTO approvals (id, execution_id, release_id, recommendation, status, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, app.ID, app.ExecutionID, app.ReleaseID, app.Recommendation, string(app.Status), app.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, app.ID)
		}
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

// Get получение деталей заявки.
func (r *ApprovalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	app, err := scanApproval(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get approval: %w", err)
	}
	return app, nil
}

// CompareAndSetStatus атомарно обновляет статус заявки.
// Условие WHERE status = 'PENDING' исключает Double Decision.
func (r *ApprovalRepo) CompareAndSetStatus(ctx context.Context, id string, next domain.Status, decidedAt time.Time) (*domain.ApprovalRequest, error) {
	if err := domain.StatusPending.CanTransitionTo(next); err != nil {
		return nil, err
	}

	// RETURNING отдает обновленную строку за один проход, без предварительного SELECT
	query := `
		UPDATE approvals
		SET status = $1,
		    decided_at = $2
		WHERE id = $3 AND status = 'PENDING'
		RETURNING ` + approvalColumns

	app, err := scanApproval(r.pool.QueryRow(ctx, query, string(next), decidedAt, id))
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: failed to update approval status: %w", err)
	}

	// Строка не обновлена: либо ID неверный, либо решение уже принято ранее
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyDecided, current.Status)
}

func scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var (
		app       domain.ApprovalRequest
		status    string
		decidedAt *time.Time // NULL -> nil
	)
	if err := row.Scan(
		&app.ID,
		&app.ExecutionID,
		&app.ReleaseID,
		&app.Recommendation,
		&status,
		&app.CreatedAt,
		&decidedAt,
	); err != nil {
		return nil, err
	}

	app.Status = domain.Status(status)
	if !app.Status.IsValid() {
		return nil, fmt.Errorf("postgres: unknown status %q for approval %s", status, app.ID)
	}
	app.CreatedAt = app.CreatedAt.UTC()
	if decidedAt != nil {
		t := decidedAt.UTC()
		app.DecidedAt = &t
	}
	return &app, nil
}
