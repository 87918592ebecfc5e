package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // Драйвер SQLite
	"github.com/xela07ax/release-approval-gate/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS approvals (
	id             TEXT PRIMARY KEY,
	execution_id   TEXT     NOT NULL,
	release_id     TEXT     NOT NULL,
	recommendation TEXT     NOT NULL,
	status         TEXT     NOT NULL DEFAULT 'PENDING',
	created_at     DATETIME NOT NULL,
	decided_at     DATETIME
)`

const approvalColumns = `id, execution_id, release_id, recommendation, status, created_at, decided_at`

// ApprovalRepo — встраиваемое файловое хранилище для одиночного инстанса.
type ApprovalRepo struct {
	db *sql.DB
}

// NewApprovalRepo открывает базу в WAL-режиме.
func NewApprovalRepo(path string) (*ApprovalRepo, error) {
	return openWithDriver("sqlite3", path)
}

func openWithDriver(driver, path string) (*ApprovalRepo, error) {
	// _txlock=immediate: транзакция CAS сразу берет блокировку записи
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	// SQLite пишет в один поток
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return &ApprovalRepo{db: db}, nil
}

func (r *ApprovalRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *ApprovalRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: failed to ensure schema: %w", err)
	}
	return nil
}

func (r *ApprovalRepo) Close() error {
	return r.db.Close()
}

func (r *ApprovalRepo) Create(ctx context.Context, app *domain.ApprovalRequest) error {
	query := `INSERT INTO approvals (id, execution_id, release_id, recommendation, status, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, app.ID, app.ExecutionID, app.ReleaseID, app.Recommendation, string(app.Status), app.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, app.ID)
		}
		return fmt.Errorf("sqlite: failed to create approval request: %w", err)
	}
	return nil
}

func (r *ApprovalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id)

	app, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to get approval: %w", err)
	}
	return app, nil
}

// CompareAndSetStatus: условный UPDATE и чтение результата в одной транзакции.
// COMMIT — последний шаг: если запись не удалось прочитать, решение не фиксируется.
func (r *ApprovalRepo) CompareAndSetStatus(ctx context.Context, id string, next domain.Status, decidedAt time.Time) (*domain.ApprovalRequest, error) {
	if err := domain.StatusPending.CanTransitionTo(next); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decided_at = ? WHERE id = ? AND status = 'PENDING'`,
		string(next), decidedAt.UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to update approval status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: rows affected: %w", err)
	}

	current, err := scanApproval(tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to read approval after update: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyDecided, current.Status)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit decision: %w", err)
	}
	return current, nil
}

func scanApproval(row *sql.Row) (*domain.ApprovalRequest, error) {
	var (
		app       domain.ApprovalRequest
		status    string
		decidedAt sql.NullTime
	)
	if err := row.Scan(&app.ID, &app.ExecutionID, &app.ReleaseID, &app.Recommendation, &status, &app.CreatedAt, &decidedAt); err != nil {
		return nil, err
	}

	app.Status = domain.Status(status)
	if !app.Status.IsValid() {
		return nil, fmt.Errorf("sqlite: unknown status %q for approval %s", status, app.ID)
	}
	app.CreatedAt = app.CreatedAt.UTC()
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		app.DecidedAt = &t
	}
	return &app, nil
}
