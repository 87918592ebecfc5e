package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/release-approval-gate/internal/domain"
)

type Kind string

const (
	KindRequested Kind = "approval.requested"
	KindDecided   Kind = "approval.decided"
)

// Event — уведомление о жизненном цикле заявки.
type Event struct {
	Kind           Kind              `json:"kind"`
	ApprovalID     string            `json:"approval_id"`
	ExecutionID    string            `json:"execution_id"`
	ReleaseID      string            `json:"release_id"`
	Recommendation string            `json:"recommendation,omitempty"`
	Status         string            `json:"status"`
	Links          map[string]string `json:"links,omitempty"` // decision -> url
	ViewURL        string            `json:"view_url,omitempty"`
	Error          string            `json:"error,omitempty"` // Сбой оркестратора после фиксации решения
	Timestamp      time.Time         `json:"timestamp"`
}

// Requested собирает событие о новой заявке.
func Requested(req *domain.ApprovalRequest, viewURL string, links map[string]string) Event {
	return Event{
		Kind:           KindRequested,
		ApprovalID:     req.ID,
		ExecutionID:    req.ExecutionID,
		ReleaseID:      req.ReleaseID,
		Recommendation: req.Recommendation,
		Status:         req.Status.String(),
		Links:          links,
		ViewURL:        viewURL,
		Timestamp:      req.CreatedAt,
	}
}

// Decided собирает событие о принятом решении. downstreamErr может быть nil.
func Decided(req *domain.ApprovalRequest, downstreamErr error) Event {
	ev := Event{
		Kind:        KindDecided,
		ApprovalID:  req.ID,
		ExecutionID: req.ExecutionID,
		ReleaseID:   req.ReleaseID,
		Status:      req.Status.String(),
		Timestamp:   time.Now().UTC(),
	}
	if req.DecidedAt != nil {
		ev.Timestamp = *req.DecidedAt
	}
	if downstreamErr != nil {
		ev.Error = downstreamErr.Error()
	}
	return ev
}

// Text — человекочитаемое сообщение для чатов (Teams/Slack).
func (e Event) Text() string {
	var b strings.Builder
	switch e.Kind {
	case KindRequested:
		fmt.Fprintf(&b, "Release %s requires approval\n", e.ReleaseID)
		if e.Recommendation != "" {
			fmt.Fprintf(&b, "Recommendation: %s\n", e.Recommendation)
		}
		if e.ViewURL != "" {
			fmt.Fprintf(&b, "Details: %s\n", e.ViewURL)
		}
		for _, d := range []string{"CONTINUE", "PAUSE", "ROLLBACK"} {
			if u, ok := e.Links[d]; ok {
				fmt.Fprintf(&b, "%s: %s\n", d, u)
			}
		}
	case KindDecided:
		fmt.Fprintf(&b, "Release %s decided: %s\n", e.ReleaseID, e.Status)
		if e.Error != "" {
			fmt.Fprintf(&b, "Orchestration call failed: %s\n", e.Error)
		}
	default:
		fmt.Fprintf(&b, "%s %s\n", e.Kind, e.ApprovalID)
	}
	return strings.TrimRight(b.String(), "\n")
}
