package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status — состояние заявки в конечном автомате.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusContinue Status = "CONTINUE"
	StatusPause    Status = "PAUSE"
	StatusRollback Status = "ROLLBACK"
)

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusContinue, StatusPause, StatusRollback:
		return true
	}
	return false
}

// IsValid проверяет, что значение входит в закрытый набор статусов.
func (s Status) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

func (s Status) String() string { return string(s) }

// CanTransitionTo проверяет правила конечного автомата:
// единственные переходы PENDING -> CONTINUE | PAUSE | ROLLBACK.
func (s Status) CanTransitionTo(next Status) error {
	if s != StatusPending {
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, s)
	}
	if !next.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrInvalidDecision, next)
	}
	return nil
}

// Decision — решение ревьюера. Нулевое значение невалидно,
// получить Decision можно только через ParseDecision или константы.
type Decision struct {
	status Status
}

var (
	DecisionContinue = Decision{status: StatusContinue}
	DecisionPause    = Decision{status: StatusPause}
	DecisionRollback = Decision{status: StatusRollback}
)

// ParseDecision разбирает решение из URL. Регистр не важен.
func ParseDecision(raw string) (Decision, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusContinue:
		return DecisionContinue, nil
	case StatusPause:
		return DecisionPause, nil
	case StatusRollback:
		return DecisionRollback, nil
	}
	return Decision{}, fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
}

// Status возвращает терминальный статус, в который переводит решение.
func (d Decision) Status() Status { return d.status }

func (d Decision) String() string { return string(d.status) }

// Action — команда для движка оркестрации, которую порождает решение.
type Action string

const (
	ActionNone   Action = ""
	ActionResume Action = "resume"
	ActionAbort  Action = "abort"
)

// Action: CONTINUE -> resume, ROLLBACK -> abort, PAUSE -> ничего.
func (d Decision) Action() Action {
	switch d.status {
	case StatusContinue:
		return ActionResume
	case StatusRollback:
		return ActionAbort
	}
	return ActionNone
}

// ApprovalRequest — заявка на ручное подтверждение релиза.
type ApprovalRequest struct {
	ID             string `json:"approval_id"`
	ExecutionID    string `json:"execution_id"` // Ссылка на приостановленный запуск в оркестраторе
	ReleaseID      string `json:"release_id"`
	Recommendation string `json:"recommendation"` // Например, вердикт AI-ревьюера
	Status         Status `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"` // Только после выхода из PENDING
}

// IsPending — заявка еще ждет решения.
func (a *ApprovalRequest) IsPending() bool {
	return a.Status == StatusPending
}

// CreateInput — входные данные от оркестратора.
type CreateInput struct {
	ExecutionID    string
	ReleaseID      string
	Recommendation string
}

// Validate требует, чтобы все поля были непустыми.
func (in CreateInput) Validate() error {
	var missing []string
	if strings.TrimSpace(in.ExecutionID) == "" {
		missing = append(missing, "execution_id")
	}
	if strings.TrimSpace(in.ReleaseID) == "" {
		missing = append(missing, "release_id")
	}
	if strings.TrimSpace(in.Recommendation) == "" {
		missing = append(missing, "recommendation")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing field(s): %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
