package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("approval request not found")
	ErrAlreadyDecided  = errors.New("approval request already decided")
	ErrInvalidDecision = errors.New("invalid decision")
	ErrInvalidToken    = errors.New("invalid approval token")
	ErrDownstream      = errors.New("orchestration engine call failed")

	// ErrDuplicateID возвращает хранилище при коллизии идентификаторов.
	ErrDuplicateID = errors.New("approval id already exists")
)

// DownstreamError описывает неудачный вызов оркестратора.
// Решение к этому моменту уже зафиксировано локально.
type DownstreamError struct {
	Action      Action
	ExecutionID string
	StatusCode  int // 0, если ответа не было (таймаут, сеть, открытый breaker)
	Cause       error
}

func (e *DownstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s execution %s: unexpected status %d", e.Action, e.ExecutionID, e.StatusCode)
	}
	return fmt.Sprintf("%s execution %s: %v", e.Action, e.ExecutionID, e.Cause)
}

func (e *DownstreamError) Unwrap() error { return e.Cause }

// Is позволяет писать errors.Is(err, ErrDownstream).
func (e *DownstreamError) Is(target error) bool {
	return target == ErrDownstream
}
