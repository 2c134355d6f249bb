package api

import (
	"context"

	"github.com/hitoshi/buildia/internal/model"
)

// TokenSource は現在のセッショントークンを提供する。
// 第2戻り値はセッションが存在するかどうか。
type TokenSource interface {
	Token() (string, bool)
}

// SecureClient はセッショントークンを付与するバックエンドクライアント。
// セッションがない場合もデフォルトではトークンなしでリクエストを
// 送出し、認可判断はバックエンドに委ねる。RequireSessionをtrueに
// すると、セッションがない時点でNO_SESSIONエラーを返して呼び出しを省略する。
type SecureClient struct {
	client *Client
	tokens TokenSource

	// RequireSession はセッション不在時にリクエストを送らず失敗させる。
	RequireSession bool
}

// NewSecureClient はSecureClientを生成する。
func NewSecureClient(client *Client, tokens TokenSource) *SecureClient {
	return &SecureClient{client: client, tokens: tokens}
}

// token は現在のトークンを解決する。
func (c *SecureClient) token() (string, error) {
	token, ok := c.tokens.Token()
	if !ok && c.RequireSession {
		return "", model.NewNoSessionError()
	}
	return token, nil
}

// GetJSON は認証付きGETリクエストを送る。
func (c *SecureClient) GetJSON(ctx context.Context, path string, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	return c.client.do(ctx, "GET", path, nil, token, out)
}

// PostJSON は認証付きPOSTリクエストを送る。
func (c *SecureClient) PostJSON(ctx context.Context, path string, payload, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	return c.client.do(ctx, "POST", path, payload, token, out)
}

// PatchJSON は認証付きPATCHリクエストを送る。
func (c *SecureClient) PatchJSON(ctx context.Context, path string, payload, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	return c.client.do(ctx, "PATCH", path, payload, token, out)
}

// DeleteJSON は認証付きDELETEリクエストを送る。
func (c *SecureClient) DeleteJSON(ctx context.Context, path string, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	return c.client.do(ctx, "DELETE", path, nil, token, out)
}
