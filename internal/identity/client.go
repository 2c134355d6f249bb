package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/buildia/internal/model"
)

// changesBuffer は通知チャネルのバッファサイズ。
// 購読者（セッションストア）が一時的に遅れても操作をブロックしない。
const changesBuffer = 16

// ClientConfig はIDプロバイダーRESTクライアントの設定。
type ClientConfig struct {
	BaseURL string
	APIKey  string
}

// Client はIDプロバイダーのREST APIクライアント。
// Providerインターフェースを実装し、各操作の成功時に
// セッション変更通知をChangesチャネルへ送出する。
type Client struct {
	httpClient *http.Client
	config     ClientConfig
	oauth      *GoogleOAuthExchanger
	logger     *slog.Logger
	changes    chan *model.Session
}

// NewClient はClientを生成する。
// 購読開始直後の初期通知として「未サインイン」(nil)を1件送出する。
func NewClient(httpClient *http.Client, config ClientConfig, oauth *GoogleOAuthExchanger, logger *slog.Logger) *Client {
	c := &Client{
		httpClient: httpClient,
		config:     config,
		oauth:      oauth,
		logger:     logger,
		changes:    make(chan *model.Session, changesBuffer),
	}
	c.notify(nil)
	return c
}

// Changes はセッション変更通知のチャネルを返す。
func (c *Client) Changes() <-chan *model.Session {
	return c.changes
}

// sessionResponse はIDプロバイダーのセッション発行系エンドポイントのレスポンス。
type sessionResponse struct {
	LocalID     string `json:"localId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photoUrl"`
	IDToken     string `json:"idToken"`
}

// providerErrorResponse はIDプロバイダーのエラーレスポンス。
type providerErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ProviderError はIDプロバイダーが返したエラーを表す。
// Messageはプロバイダーの応答をそのまま保持し、フォーム近傍の表示に使用する。
type ProviderError struct {
	StatusCode int
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider error (status %d): %s", e.StatusCode, e.Message)
}

// AsProviderError はエラーチェーンからProviderErrorを取り出す。
func AsProviderError(err error) (*ProviderError, bool) {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr, true
	}
	return nil, false
}

// SignIn はメールアドレスとパスワードでサインインする。
func (c *Client) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	sess, err := c.postSession(ctx, "/v1/accounts:signInWithPassword", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	c.notify(sess)
	return sess, nil
}

// Register は新規アカウントを作成し、そのままサインインする。
func (c *Client) Register(ctx context.Context, email, password string) (*model.Session, error) {
	sess, err := c.postSession(ctx, "/v1/accounts:signUp", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	c.notify(sess)
	return sess, nil
}

// SignInWithGoogle はOAuth認可コードでフェデレーテッドサインインする。
// 認可コードをGoogleでアクセストークンに交換し、
// プロバイダーのIdPサインインエンドポイントに引き渡す。
func (c *Client) SignInWithGoogle(ctx context.Context, code string) (*model.Session, error) {
	accessToken, userInfo, err := c.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	sess, err := c.postSession(ctx, "/v1/accounts:signInWithIdp", map[string]string{
		"providerId":  "google.com",
		"accessToken": accessToken,
	})
	if err != nil {
		return nil, err
	}

	// IdPレスポンスに表示名・画像が含まれない場合はGoogleの情報で補完する
	if sess.DisplayName == "" {
		sess.DisplayName = userInfo.Name
	}
	if sess.PhotoURL == "" {
		sess.PhotoURL = userInfo.Picture
	}

	c.notify(sess)
	return sess, nil
}

// SignOut は現在のセッションを破棄し、サインアウト通知を送出する。
func (c *Client) SignOut(ctx context.Context, token string) error {
	_, err := c.post(ctx, "/v1/accounts:signOut", map[string]string{
		"idToken": token,
	})
	if err != nil {
		return err
	}
	c.notify(nil)
	return nil
}

// UpdateProfile はプロフィールを更新し、置き換え後のセッションを通知する。
func (c *Client) UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.Session, error) {
	payload := map[string]string{"idToken": token}
	if update.DisplayName != nil {
		payload["displayName"] = *update.DisplayName
	}
	if update.PhotoURL != nil {
		payload["photoUrl"] = *update.PhotoURL
	}

	sess, err := c.postSession(ctx, "/v1/accounts:update", payload)
	if err != nil {
		return nil, err
	}
	c.notify(sess)
	return sess, nil
}

// postSession はセッション発行系エンドポイントを呼び、Sessionに変換する。
func (c *Client) postSession(ctx context.Context, path string, payload map[string]string) (*model.Session, error) {
	body, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse session response: %w", err)
	}
	if resp.IDToken == "" {
		return nil, fmt.Errorf("empty token in session response")
	}

	return &model.Session{
		ID:          resp.LocalID,
		DisplayName: resp.DisplayName,
		Email:       resp.Email,
		PhotoURL:    resp.PhotoURL,
		Token:       resp.IDToken,
	}, nil
}

// post はAPIキー付きでJSONリクエストを送信する。
// エラーステータスの場合はプロバイダーのメッセージを含むProviderErrorを返す。
func (c *Client) post(ctx context.Context, path string, payload map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	reqURL := c.config.BaseURL + path + "?key=" + c.config.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("IDプロバイダーの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp providerErrorResponse
		message := string(body)
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			message = errResp.Error.Message
		}
		c.logger.Warn("IDプロバイダーがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", message),
		)
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: message}
	}

	return body, nil
}

// notify はセッション変更を通知する。
// バッファが満杯の場合は最古の通知を破棄して最新を届ける
// （購読者には常に最終状態が見えれば十分）。
func (c *Client) notify(sess *model.Session) {
	for {
		select {
		case c.changes <- sess:
			return
		default:
			select {
			case <-c.changes:
			default:
			}
		}
	}
}

// compile-time interface check
var _ Provider = (*Client)(nil)
