// Package api はリモートRESTバックエンドへのHTTPクライアントを提供する。
// Clientは匿名アクセス用、SecureClientはセッショントークンを
// Authorizationヘッダーに付与する認証付きアクセス用。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/buildia/internal/model"
)

// LatencyRecorder はバックエンド呼び出しのレイテンシを記録する。
type LatencyRecorder interface {
	ObserveUpstreamLatency(method, path string, seconds float64)
}

// Client はバックエンドREST APIの匿名クライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    LatencyRecorder
}

// NewClient はClientを生成する。metricsはnil可。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger, metrics LatencyRecorder) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
		metrics:    metrics,
	}
}

// GetJSON はGETリクエストを送り、レスポンスボディをoutにデコードする。
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

// PostJSON はpayloadをJSONとしてPOSTし、レスポンスをoutにデコードする。
// outがnilの場合はレスポンスボディを読み捨てる。
func (c *Client) PostJSON(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPost, path, payload, "", out)
}

// PatchJSON はpayloadをJSONとしてPATCHし、レスポンスをoutにデコードする。
func (c *Client) PatchJSON(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPatch, path, payload, "", out)
}

// DeleteJSON はDELETEリクエストを送り、レスポンスをoutにデコードする。
func (c *Client) DeleteJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, "", out)
}

// do はHTTPリクエストを組み立てて実行し、ステータスを検証する。
// tokenが空でない場合はBearerトークンとして付与する。
func (c *Client) do(ctx context.Context, method, path string, payload any, token string, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveUpstreamLatency(method, path, time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.Error("バックエンドの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewUpstreamError(err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewUpstreamError(fmt.Sprintf("failed to read response body: %v", err))
	}

	if resp.StatusCode == http.StatusNotFound {
		return model.NewNotFoundError(path)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("バックエンドがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return model.NewUpstreamStatusError(resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return model.NewUpstreamError(fmt.Sprintf("failed to parse response: %v", err))
	}
	return nil
}
