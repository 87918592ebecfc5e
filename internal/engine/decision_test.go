package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/release-approval-gate/internal/connectors"
	"github.com/xela07ax/release-approval-gate/internal/domain"
	"github.com/xela07ax/release-approval-gate/internal/repository/memory"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

type engineFixture struct {
	engine  *DecisionEngine
	store   *memory.ApprovalRepo
	orch    *connectors.Recorder
	metrics *Metrics
}

func newEngineFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()
	store := memory.NewApprovalRepo()
	orch := connectors.NewRecorder(nil)
	metrics := NewMetrics(prometheus.NewRegistry())
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return &engineFixture{
		engine:  NewDecisionEngine(store, orch, metrics, zap.NewNop(), opts...),
		store:   store,
		orch:    orch,
		metrics: metrics,
	}
}

func (f *engineFixture) create(t *testing.T) *domain.ApprovalRequest {
	t.Helper()
	req, err := f.engine.Create(context.Background(), domain.CreateInput{
		ExecutionID:    "exec-1",
		ReleaseID:      "rel-9",
		Recommendation: "ship-it",
	})
	require.NoError(t, err)
	return req
}

func TestDecisionEngine_CreateAndResume(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	req := f.create(t)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, fixedNow, req.CreatedAt)
	assert.Nil(t, req.DecidedAt)

	decided, err := f.engine.Decide(ctx, req.ID, "CONTINUE")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContinue, decided.Status)
	require.NotNil(t, decided.DecidedAt)
	assert.Equal(t, fixedNow, *decided.DecidedAt)

	assert.Equal(t, []connectors.Call{{Action: domain.ActionResume, ExecutionID: "exec-1"}}, f.orch.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Created.WithLabelValues(modeStateful)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues("CONTINUE", "applied")))
}

func TestDecisionEngine_SecondDecisionRefused(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	req := f.create(t)

	_, err := f.engine.Decide(ctx, req.ID, "CONTINUE")
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, req.ID, "ROLLBACK")
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)

	current, err := f.engine.View(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContinue, current.Status)
	assert.Equal(t, 0, f.orch.Count(domain.ActionAbort))
	assert.Equal(t, 1, f.orch.Count(domain.ActionResume))
}

func TestDecisionEngine_UnknownID(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Decide(context.Background(), "unknown-id", "CONTINUE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.orch.Calls())

	_, err = f.engine.View(context.Background(), "unknown-id")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecisionEngine_DownstreamFailureKeepsDecision(t *testing.T) {
	f := newEngineFixture(t)
	f.orch.FailOn(domain.ActionAbort, context.DeadlineExceeded)
	ctx := context.Background()
	req := f.create(t)

	decided, err := f.engine.Decide(ctx, req.ID, "ROLLBACK")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDownstream)

	var dErr *domain.DownstreamError
	require.True(t, errors.As(err, &dErr))
	assert.Equal(t, domain.ActionAbort, dErr.Action)
	assert.Equal(t, "exec-1", dErr.ExecutionID)

	require.NotNil(t, decided)
	assert.Equal(t, domain.StatusRollback, decided.Status)

	stored, err := f.engine.View(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRollback, stored.Status)

	// Повтор не вызывает оркестратор второй раз
	_, err = f.engine.Decide(ctx, req.ID, "ROLLBACK")
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	assert.Equal(t, 1, f.orch.Count(domain.ActionAbort))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues("ROLLBACK", "downstream_error")))
}

func TestDecisionEngine_PauseMakesNoCall(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t)

	decided, err := f.engine.Decide(context.Background(), req.ID, "pause")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPause, decided.Status)
	assert.Empty(t, f.orch.Calls())

	_, err = f.engine.Decide(context.Background(), req.ID, "CONTINUE")
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
	assert.Empty(t, f.orch.Calls())
}

func TestDecisionEngine_InvalidDecision(t *testing.T) {
	f := newEngineFixture(t)
	req := f.create(t)

	for _, raw := range []string{"FOO", "", "APPROVED", "PENDING"} {
		_, err := f.engine.Decide(context.Background(), req.ID, raw)
		assert.ErrorIs(t, err, domain.ErrInvalidDecision, raw)
	}

	current, err := f.engine.View(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, current.Status)
	assert.Empty(t, f.orch.Calls())
}

func TestDecisionEngine_CreateValidation(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Create(context.Background(), domain.CreateInput{ReleaseID: "rel-9"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDecisionEngine_DuplicateIDSurfaces(t *testing.T) {
	f := newEngineFixture(t, WithIDGenerator(func() string { return "appr_fixed" }))

	f.create(t)
	_, err := f.engine.Create(context.Background(), domain.CreateInput{
		ExecutionID: "exec-2", ReleaseID: "rel-1", Recommendation: "x",
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestNewApprovalID_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := NewApprovalID()
		require.Len(t, id, len("appr_")+32)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestDecisionEngine_ConcurrentDecideExactlyOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.orch.WithLatency(5 * time.Millisecond)
	req := f.create(t)

	decisions := []string{"CONTINUE", "ROLLBACK", "PAUSE"}
	var (
		wg      sync.WaitGroup
		applied atomic.Int32
		refused atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			_, err := f.engine.Decide(context.Background(), req.ID, raw)
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, domain.ErrAlreadyDecided):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(decisions[i%len(decisions)])
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(49), refused.Load())
	assert.LessOrEqual(t, len(f.orch.Calls()), 1)

	final, err := f.engine.View(context.Background(), req.ID)
	require.NoError(t, err)
	assert.True(t, final.Status.IsTerminal())
}

func TestDecisionEngine_ClientCancelDoesNotAbortCall(t *testing.T) {
	f := newEngineFixture(t)
	f.orch.WithLatency(20 * time.Millisecond)
	req := f.create(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Хранилище в памяти не смотрит на ctx, поэтому commit проходит
	_, err := f.engine.Decide(ctx, req.ID, "CONTINUE")
	require.NoError(t, err)
	assert.Equal(t, 1, f.orch.Count(domain.ActionResume))
}

type failingStore struct {
	ApprovalStore
	err error
}

func (s failingStore) CompareAndSetStatus(ctx context.Context, id string, next domain.Status, at time.Time) (*domain.ApprovalRequest, error) {
	return nil, s.err
}

func TestDecisionEngine_StoreFailureSkipsOrchestrator(t *testing.T) {
	orch := connectors.NewRecorder(nil)
	eng := NewDecisionEngine(failingStore{err: fmt.Errorf("disk full")}, orch, nil, zap.NewNop())

	_, err := eng.Decide(context.Background(), "appr_1", "CONTINUE")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDownstream)
	assert.Empty(t, orch.Calls())
}

// ctxAwareStore ведет себя как сетевое хранилище: с завершенным контекстом запись не выполняется.
type ctxAwareStore struct {
	*memory.ApprovalRepo
	block bool
}

func (s ctxAwareStore) CompareAndSetStatus(ctx context.Context, id string, next domain.Status, at time.Time) (*domain.ApprovalRequest, error) {
	if s.block {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ApprovalRepo.CompareAndSetStatus(ctx, id, next, at)
}

func TestDecisionEngine_ClientCancelDoesNotAbortCommit(t *testing.T) {
	store := ctxAwareStore{ApprovalRepo: memory.NewApprovalRepo()}
	orch := connectors.NewRecorder(nil)
	eng := NewDecisionEngine(store, orch, nil, zap.NewNop())

	req, err := eng.Create(context.Background(), domain.CreateInput{ExecutionID: "exec-1", ReleaseID: "rel-9", Recommendation: "ship-it"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := eng.Decide(ctx, req.ID, "CONTINUE")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContinue, got.Status)
	assert.Equal(t, 1, orch.Count(domain.ActionResume))

	stored, err := store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContinue, stored.Status)
}

func TestDecisionEngine_StoreTimeoutBoundsCommit(t *testing.T) {
	store := ctxAwareStore{ApprovalRepo: memory.NewApprovalRepo(), block: true}
	orch := connectors.NewRecorder(nil)
	eng := NewDecisionEngine(store, orch, nil, zap.NewNop(), WithStoreTimeout(20*time.Millisecond))

	req, err := eng.Create(context.Background(), domain.CreateInput{ExecutionID: "exec-1", ReleaseID: "rel-9", Recommendation: "ship-it"})
	require.NoError(t, err)

	_, err = eng.Decide(context.Background(), req.ID, "CONTINUE")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrDownstream)
	assert.Empty(t, orch.Calls())

	stored, err := store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestDecisionEngine_OpenBreakerKeepsDecisionWithoutCall(t *testing.T) {
	rec := connectors.NewRecorder(nil)
	rec.FailOn(domain.ActionResume, errors.New("connection refused"))
	breaker := connectors.NewBreaker(rec, connectors.BreakerSettings{Name: "rundeck", ConsecutiveFailures: 1, Timeout: time.Minute}, nil)
	store := memory.NewApprovalRepo()
	eng := NewDecisionEngine(store, breaker, nil, zap.NewNop())

	input := domain.CreateInput{ExecutionID: "exec-1", ReleaseID: "rel-9", Recommendation: "ship-it"}
	first, err := eng.Create(context.Background(), input)
	require.NoError(t, err)
	_, err = eng.Decide(context.Background(), first.ID, "CONTINUE")
	require.ErrorIs(t, err, domain.ErrDownstream)
	require.Equal(t, 1, rec.Count(domain.ActionResume))

	// Предохранитель открыт: решение фиксируется, оркестратор не вызывается
	second, err := eng.Create(context.Background(), input)
	require.NoError(t, err)
	got, err := eng.Decide(context.Background(), second.ID, "CONTINUE")
	require.ErrorIs(t, err, domain.ErrDownstream)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusContinue, got.Status)
	assert.Equal(t, 1, rec.Count(domain.ActionResume))

	stored, err := store.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusContinue, stored.Status)
}
