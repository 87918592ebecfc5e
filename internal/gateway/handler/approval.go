package handler

/*
Файл approval.go — HTTP-вход шлюза: создание заявки (вызывает оркестратор),
страница заявки и ссылки решений (кликает человек).

Решение принимается по GET-ссылке: так ссылку можно открыть прямо из
чата. Повторный клик безопасен, второе решение отклоняется.
*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/release-approval-gate/internal/domain"
	"github.com/xela07ax/release-approval-gate/internal/engine"
	"github.com/xela07ax/release-approval-gate/internal/notify"
	"github.com/xela07ax/release-approval-gate/internal/view"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type ApprovalHandler struct {
	service   engine.ApprovalService
	notifier  notify.Publisher
	publicURL string
	logger    *zap.Logger
}

// NewApprovalHandler; notifier может быть nil.
func NewApprovalHandler(s engine.ApprovalService, notifier notify.Publisher, publicURL string, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		service:   s,
		notifier:  notifier,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.Named("approval-handler"),
	}
}

// CreateRequest — тело POST /request-approval.
// ai_decision — имя поля, которое шлет джоба Rundeck.
type CreateRequest struct {
	ExecutionID    string `json:"execution_id"`
	ReleaseID      string `json:"release_id"`
	Recommendation string `json:"recommendation"`
	AIDecision     string `json:"ai_decision"`
}

type CreateResponse struct {
	ApprovalID   string            `json:"approval_id"`
	ApprovalURL  string            `json:"approval_url"`
	DecisionURLs map[string]string `json:"decision_urls"`
	ApproveURL   string            `json:"approve_url"`
	RejectURL    string            `json:"reject_url"`
}

type DecideResponse struct {
	Approval *domain.ApprovalRequest `json:"approval"`
	Message  string                  `json:"message"`
	Error    string                  `json:"error,omitempty"`
}

func (h *ApprovalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recommendation := req.Recommendation
	if recommendation == "" {
		recommendation = req.AIDecision
	}

	app, err := h.service.Create(r.Context(), domain.CreateInput{
		ExecutionID:    req.ExecutionID,
		ReleaseID:      req.ReleaseID,
		Recommendation: recommendation,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	links := h.decisionURLs(app.ID)
	h.publish(notify.Requested(app, h.approvalURL(app.ID), links))

	writeJSON(w, http.StatusOK, CreateResponse{
		ApprovalID:   app.ID,
		ApprovalURL:  h.approvalURL(app.ID),
		DecisionURLs: links,
		ApproveURL:   links[domain.StatusContinue.String()],
		RejectURL:    links[domain.StatusRollback.String()],
	})
}

// View отдает HTML для браузера и JSON для клиентов с Accept: application/json.
func (h *ApprovalHandler) View(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	app, err := h.service.View(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, app)
		return
	}

	links := h.decisionURLs(ref)
	page, err := view.RenderApproval(app, view.Links{
		Continue: links[domain.StatusContinue.String()],
		Pause:    links[domain.StatusPause.String()],
		Rollback: links[domain.StatusRollback.String()],
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// Decide — /decision/{ref}/{decision}.
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, chi.URLParam(r, "ref"), chi.URLParam(r, "decision"))
}

// Approve — прежний маршрут /approve/{ref}, равен CONTINUE.
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, chi.URLParam(r, "ref"), domain.DecisionContinue.String())
}

// Reject — прежний маршрут /reject/{ref}, равен ROLLBACK.
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, chi.URLParam(r, "ref"), domain.DecisionRollback.String())
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, ref, decision string) {
	app, err := h.service.Decide(r.Context(), ref, decision)

	var dErr *domain.DownstreamError
	switch {
	case err == nil:
		h.publish(notify.Decided(app, nil))
		msg := fmt.Sprintf("Release %s: decision %s recorded.", app.ReleaseID, app.Status)
		h.writeDecision(w, r, http.StatusOK, DecideResponse{Approval: app, Message: msg})
	case errors.As(err, &dErr) && app != nil:
		// Решение сохранено, но оркестратор не ответил: повторять клик бесполезно
		h.publish(notify.Decided(app, err))
		msg := fmt.Sprintf("Release %s: decision %s recorded, but the orchestration call failed.", app.ReleaseID, app.Status)
		h.writeDecision(w, r, http.StatusBadGateway, DecideResponse{Approval: app, Message: msg, Error: err.Error()})
	default:
		h.writeError(w, r, err)
	}
}

func (h *ApprovalHandler) writeDecision(w http.ResponseWriter, r *http.Request, code int, resp DecideResponse) {
	if wantsJSON(r) {
		writeJSON(w, code, resp)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, resp.Message)
}

// Health — проверка живости для балансировщика.
func (h *ApprovalHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Approval Service is running")
}

func (h *ApprovalHandler) publish(ev notify.Event) {
	if h.notifier != nil {
		h.notifier.Publish(ev)
	}
}

func (h *ApprovalHandler) approvalURL(ref string) string {
	return h.publicURL + "/approval/" + url.PathEscape(ref)
}

func (h *ApprovalHandler) decisionURLs(ref string) map[string]string {
	links := make(map[string]string, 3)
	for _, d := range []domain.Decision{domain.DecisionContinue, domain.DecisionPause, domain.DecisionRollback} {
		links[d.String()] = h.publicURL + "/decision/" + url.PathEscape(ref) + "/" + d.String()
	}
	return links
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
