package redisrepo

/*
Файл approval_repo.go — хранилище заявок в Redis.

Каждая заявка — hash по ключу relgate:approvals:{id}. Создание и смена
статуса выполняются Lua-скриптами, поэтому проверка PENDING и запись
неделимы для всех инстансов шлюза. Опциональный TTL ограничивает
время жизни заявок.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/release-approval-gate/internal/domain"
	"github.com/xela07ax/release-approval-gate/internal/infra"
)

// KEYS[1] — ключ заявки, ARGV — пары поле/значение, последний ARGV — TTL в мс (0 — без TTL)
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local ttl = tonumber(ARGV[#ARGV])
for i = 1, #ARGV - 1, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// Возвращает {-1} (нет заявки), {0, status} (уже решена) или
// {1, HGETALL} — обновленная заявка читается тем же вызовом, что и пишется.
var casScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return {-1}
end
if status ~= 'PENDING' then
	return {0, status}
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'decided_at', ARGV[2])
return {1, redis.call('HGETALL', KEYS[1])}
`)

type ApprovalRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewApprovalRepo; ttl = 0 — заявки хранятся бессрочно.
func NewApprovalRepo(rdb *redis.Client, ttl time.Duration) *ApprovalRepo {
	return &ApprovalRepo{rdb: rdb, ttl: ttl}
}

func (r *ApprovalRepo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *ApprovalRepo) Close() error {
	return r.rdb.Close()
}

func (r *ApprovalRepo) Create(ctx context.Context, app *domain.ApprovalRequest) error {
	args := []interface{}{
		"execution_id", app.ExecutionID,
		"release_id", app.ReleaseID,
		"recommendation", app.Recommendation,
		"status", string(app.Status),
		"created_at", app.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.ttl.Milliseconds(),
	}

	created, err := createScript.Run(ctx, r.rdb, []string{infra.ApprovalKey(app.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis: failed to create approval request: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, app.ID)
	}
	return nil
}

func (r *ApprovalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	fields, err := r.rdb.HGetAll(ctx, infra.ApprovalKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get approval: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return decode(id, fields)
}

func (r *ApprovalRepo) CompareAndSetStatus(ctx context.Context, id string, next domain.Status, decidedAt time.Time) (*domain.ApprovalRequest, error) {
	if err := domain.StatusPending.CanTransitionTo(next); err != nil {
		return nil, err
	}

	res, err := casScript.Run(ctx, r.rdb, []string{infra.ApprovalKey(id)},
		string(next), decidedAt.UTC().Format(time.RFC3339Nano)).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to update approval status: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("redis: empty status update reply for approval %s", id)
	}

	code, _ := res[0].(int64)
	switch code {
	case -1:
		return nil, domain.ErrNotFound
	case 0:
		current := "unknown"
		if len(res) > 1 {
			current, _ = res[1].(string)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyDecided, current)
	}

	if len(res) < 2 {
		return nil, fmt.Errorf("redis: status update reply for approval %s has no record", id)
	}
	pairs, ok := res[1].([]interface{})
	if !ok {
		return nil, fmt.Errorf("redis: unexpected status update reply %T for approval %s", res[1], id)
	}
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		fields[k] = v
	}
	return decode(id, fields)
}

func decode(id string, f map[string]string) (*domain.ApprovalRequest, error) {
	app := &domain.ApprovalRequest{
		ID:             id,
		ExecutionID:    f["execution_id"],
		ReleaseID:      f["release_id"],
		Recommendation: f["recommendation"],
		Status:         domain.Status(f["status"]),
	}
	if !app.Status.IsValid() {
		return nil, fmt.Errorf("redis: unknown status %q for approval %s", f["status"], id)
	}

	created, err := time.Parse(time.RFC3339Nano, f["created_at"])
	if err != nil {
		return nil, fmt.Errorf("redis: bad created_at for approval %s: %w", id, err)
	}
	app.CreatedAt = created.UTC()

	if raw, ok := f["decided_at"]; ok && raw != "" {
		decided, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("redis: bad decided_at for approval %s: %w", id, err)
		}
		decided = decided.UTC()
		app.DecidedAt = &decided
	}
	return app, nil
}
