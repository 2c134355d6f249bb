package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/buildia/internal/model"
)

// Intent は決済プロセッサーが発行した支払いインテント。
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// ConfirmResult は支払い確定の結果。
type ConfirmResult struct {
	TransactionID string `json:"id"`
	Status        string `json:"status"`
}

// Processor は決済プロセッサーのインターフェース。
type Processor interface {
	// CreateIntent は指定金額（通貨の主要単位）の支払いインテントを作成する。
	CreateIntent(ctx context.Context, amount float64, currency string) (*Intent, error)
	// Confirm はクライアントシークレットに対応する支払いを確定する。
	Confirm(ctx context.Context, intentID string) (*ConfirmResult, error)
}

// ProcessorClient は決済プロセッサーのREST APIクライアント。
// 各リクエストにはシークレットキーのBearer認証と、二重課金を防ぐ
// Idempotency-Keyヘッダーを付与する。
type ProcessorClient struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	logger     *slog.Logger
}

// NewProcessorClient はProcessorClientを生成する。
func NewProcessorClient(httpClient *http.Client, baseURL, secretKey string, logger *slog.Logger) *ProcessorClient {
	return &ProcessorClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		secretKey:  secretKey,
		logger:     logger,
	}
}

// CreateIntent は支払いインテントを作成する。
// 金額は通貨の最小単位（セント）に変換して送信する。
func (c *ProcessorClient) CreateIntent(ctx context.Context, amount float64, currency string) (*Intent, error) {
	form := url.Values{
		"amount":   {strconv.FormatInt(int64(math.Round(amount*100)), 10)},
		"currency": {currency},
	}

	var intent Intent
	if err := c.post(ctx, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	if intent.ClientSecret == "" {
		return nil, model.NewPaymentFailedError("empty client secret in intent response")
	}
	return &intent, nil
}

// Confirm は支払いを確定し、トランザクションIDを返す。
func (c *ProcessorClient) Confirm(ctx context.Context, intentID string) (*ConfirmResult, error) {
	var result ConfirmResult
	if err := c.post(ctx, "/v1/payment_intents/"+url.PathEscape(intentID)+"/confirm", url.Values{}, &result); err != nil {
		return nil, err
	}
	if result.Status != "succeeded" {
		return nil, model.NewPaymentFailedError(fmt.Sprintf("payment status: %s", result.Status))
	}
	return &result, nil
}

// post はフォームエンコードされたリクエストを送信する。
// 決済の書き込みは自動リトライしない（二重課金の防止）。
func (c *ProcessorClient) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Idempotency-Key", ulid.Make().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("決済プロセッサーの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewPaymentFailedError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewPaymentFailedError(fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("決済プロセッサーがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return model.NewPaymentFailedError(fmt.Sprintf("processor returned status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return model.NewPaymentFailedError(fmt.Sprintf("failed to parse response: %v", err))
	}
	return nil
}

// FreeTransactionID はクーポン全額割引による無償決済のトランザクションIDを発行する。
// プロセッサーを経由しないため、識別可能な接頭辞を付ける。
func FreeTransactionID() string {
	return "COUPON_FULL_DISCOUNT_" + ulid.Make().String()
}

// compile-time interface check
var _ Processor = (*ProcessorClient)(nil)
