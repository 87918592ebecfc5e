package connectors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/release-approval-gate/internal/domain"
)

func TestRecorder_Latency_RespectsContext(t *testing.T) {
	rec := NewRecorder(nil).WithLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rec.Abort(ctx, "exec-1")
	assert.ErrorIs(t, err, domain.ErrDownstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, rec.Count(domain.ActionAbort))
}

func TestRecorder_FailOn(t *testing.T) {
	rec := NewRecorder(nil)
	rec.FailOn(domain.ActionResume, errors.New("503"))

	assert.ErrorIs(t, rec.Resume(context.Background(), "e"), domain.ErrDownstream)
	assert.NoError(t, rec.Abort(context.Background(), "e"))
	assert.Len(t, rec.Calls(), 2)
}

func TestRecorder_CallLogIsBounded(t *testing.T) {
	rec := NewRecorder(nil).WithCallLimit(3)
	for i := 0; i < 8; i++ {
		assert.NoError(t, rec.Resume(context.Background(), fmt.Sprintf("exec-%d", i)))
	}

	assert.Equal(t, []Call{
		{Action: domain.ActionResume, ExecutionID: "exec-5"},
		{Action: domain.ActionResume, ExecutionID: "exec-6"},
		{Action: domain.ActionResume, ExecutionID: "exec-7"},
	}, rec.Calls())
	assert.Equal(t, 3, rec.Count(domain.ActionResume))
}

func TestRecorder_DefaultCallLimit(t *testing.T) {
	rec := NewRecorder(nil)
	for i := 0; i < DefaultCallLimit+5; i++ {
		assert.NoError(t, rec.Abort(context.Background(), "exec"))
	}
	assert.Len(t, rec.Calls(), DefaultCallLimit)
}
