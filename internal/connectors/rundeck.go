package connectors

/*
Файл rundeck.go — HTTP-клиент движка оркестрации.

Контракт: POST {base}/api/{version}/execution/{id}/resume|abort,
учетные данные в заголовке, короткий таймаут, тело не требуется.
Один вызов без ретраев: любой не-2xx ответ или таймаут — DownstreamError.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xela07ax/release-approval-gate/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultAPIVersion = 41
	DefaultAuthHeader = "X-Rundeck-Auth-Token"
	DefaultTimeout    = 5 * time.Second
)

// ExecutionController — то, что умеет шлюз делать с приостановленным запуском.
type ExecutionController interface {
	Resume(ctx context.Context, executionID string) error
	Abort(ctx context.Context, executionID string) error
}

type RundeckConfig struct {
	BaseURL    string
	APIVersion int
	Token      string
	AuthHeader string // "Authorization" -> "Bearer <token>"
	Timeout    time.Duration
}

type RundeckClient struct {
	cfg    RundeckConfig
	base   string
	client *http.Client
	logger *zap.Logger
}

func NewRundeckClient(cfg RundeckConfig, logger *zap.Logger) (*RundeckClient, error) {
	if cfg.Token == "" {
		return nil, errors.New("rundeck: api token is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("rundeck: invalid base url %q", cfg.BaseURL)
	}
	if cfg.APIVersion == 0 {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = DefaultAuthHeader
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &RundeckClient{
		cfg:  cfg,
		base: base.String(),
		// Таймаут задается на каждый вызов через контекст
		client: &http.Client{},
		logger: logger.Named("rundeck"),
	}, nil
}

func (c *RundeckClient) Resume(ctx context.Context, executionID string) error {
	return c.post(ctx, domain.ActionResume, executionID)
}

func (c *RundeckClient) Abort(ctx context.Context, executionID string) error {
	return c.post(ctx, domain.ActionAbort, executionID)
}

func (c *RundeckClient) post(ctx context.Context, action domain.Action, executionID string) error {
	endpoint := fmt.Sprintf("%s/api/%d/execution/%s/%s", c.base, c.cfg.APIVersion, url.PathEscape(executionID), action)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return &domain.DownstreamError{Action: action, ExecutionID: executionID, Cause: err}
	}
	if strings.EqualFold(c.cfg.AuthHeader, "Authorization") {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	} else {
		req.Header.Set(c.cfg.AuthHeader, c.cfg.Token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.DownstreamError{Action: action, ExecutionID: executionID, Cause: err}
	}
	defer resp.Body.Close()
	// Тело не нужно, но дочитываем для переиспользования соединения
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.DownstreamError{
			Action:      action,
			ExecutionID: executionID,
			StatusCode:  resp.StatusCode,
			Cause:       fmt.Errorf("rundeck responded %s", resp.Status),
		}
	}

	c.logger.Debug("rundeck call ok",
		zap.String("action", string(action)),
		zap.String("execution_id", executionID),
		zap.Int("status", resp.StatusCode))
	return nil
}
