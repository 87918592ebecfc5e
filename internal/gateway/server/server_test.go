package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/release-approval-gate/internal/connectors"
	"github.com/xela07ax/release-approval-gate/internal/domain"
	"github.com/xela07ax/release-approval-gate/internal/engine"
	"github.com/xela07ax/release-approval-gate/internal/gateway/handler"
	"github.com/xela07ax/release-approval-gate/internal/infra"
	"github.com/xela07ax/release-approval-gate/internal/repository/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestServer(t *testing.T) (*GatewayServer, *connectors.Recorder) {
	t.Helper()
	reg := prometheus.NewRegistry()
	orch := connectors.NewRecorder(nil)
	eng := engine.NewDecisionEngine(memory.NewApprovalRepo(), orch, engine.NewMetrics(reg), zap.NewNop())
	h := handler.NewApprovalHandler(eng, nil, "http://gate.local", zap.NewNop())
	cfg := &infra.Config{Metrics: infra.MetricsConfig{Enabled: true, Path: "/metrics"}}
	return NewGatewayServer(cfg, zap.NewNop(), h, reg), orch
}

func do(t *testing.T, s http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestGatewayServer_Health(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Approval Service is running", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestGatewayServer_TraceIDPropagated(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "trace-123", rec.Header().Get("X-Trace-ID"))
}

func TestGatewayServer_FullFlowAndMetrics(t *testing.T) {
	s, orch := newTestServer(t)

	body := []byte(`{"execution_id":"exec-1","release_id":"rel-9","ai_decision":"ship-it"}`)
	rec := do(t, s, http.MethodPost, "/request-approval", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var created handler.CreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, strings.HasPrefix(created.ApproveURL, "http://gate.local/decision/"))

	path := strings.TrimPrefix(created.ApproveURL, "http://gate.local")
	rec = do(t, s, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, orch.Count(domain.ActionResume))

	// Прежний маршрут после решения получает отказ
	rec = do(t, s, http.MethodGet, "/reject/"+created.ApprovalID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, orch.Count(domain.ActionAbort))

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `approval_decisions_total{decision="CONTINUE",result="applied"} 1`)
	assert.Contains(t, rec.Body.String(), `approval_decisions_total{decision="ROLLBACK",result="already_decided"} 1`)
}

func TestGatewayServer_MetricsDisabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	eng := engine.NewDecisionEngine(memory.NewApprovalRepo(), connectors.NewRecorder(nil), engine.NewMetrics(reg), zap.NewNop())
	h := handler.NewApprovalHandler(eng, nil, "http://gate.local", zap.NewNop())
	s := NewGatewayServer(&infra.Config{}, zap.NewNop(), h, reg)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccessLog_LogsRoutePatternNotPath(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	reg := prometheus.NewRegistry()
	eng := engine.NewDecisionEngine(memory.NewApprovalRepo(), connectors.NewRecorder(nil), engine.NewMetrics(reg), zap.NewNop())
	h := handler.NewApprovalHandler(eng, nil, "http://gate.local", zap.NewNop())
	cfg := &infra.Config{Metrics: infra.MetricsConfig{Enabled: true, Path: "/metrics"}}
	s := NewGatewayServer(cfg, logger, h, reg)

	body := []byte(`{"execution_id":"exec-1","release_id":"rel-9","ai_decision":"ship-it"}`)
	rec := do(t, s, http.MethodPost, "/request-approval", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var created handler.CreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(t, s, http.MethodPost, "/decision/"+created.ApprovalID+"/CONTINUE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	do(t, s, http.MethodGet, "/no/such/"+created.ApprovalID, nil)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 3)

	var routes []string
	for _, e := range entries {
		fields := e.ContextMap()
		routes = append(routes, fields["route"].(string))
		assert.NotContains(t, fields, "path")
		for k, v := range fields {
			if str, ok := v.(string); ok {
				assert.NotContains(t, str, created.ApprovalID, "field %s", k)
			}
		}
	}
	assert.Equal(t, []string{"/request-approval", "/decision/{ref}/{decision}", "unmatched"}, routes)
}
