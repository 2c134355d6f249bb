package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code       string // エラーコード
	Message    string // エラーメッセージ
	Category   string // カテゴリ: auth, validation, payment, upstream, system
	Action     string // ユーザー向け対処方法
	StatusCode int    // バックエンドが返したHTTPステータス（該当する場合のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSessionPending     = "SESSION_PENDING"
	ErrCodeNoSession          = "NO_SESSION"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyApplied     = "ALREADY_APPLIED"
	ErrCodeNoAgreement        = "NO_AGREEMENT"
	ErrCodeInvalidMonth       = "INVALID_MONTH"
	ErrCodeInvalidCoupon      = "INVALID_COUPON"
	ErrCodeInvalidDiscount    = "INVALID_DISCOUNT"
	ErrCodeCouponExpired      = "COUPON_EXPIRED"
	ErrCodePaymentFailed      = "PAYMENT_FAILED"
	ErrCodePaymentNotReady    = "PAYMENT_NOT_READY"
	ErrCodeForbiddenRole      = "FORBIDDEN_ROLE"
	ErrCodeInvalidPhotoURL    = "INVALID_PHOTO_URL"
	ErrCodeUpstreamError      = "UPSTREAM_ERROR"
	ErrCodeUpstreamStatus     = "UPSTREAM_STATUS"
)

// IsNotFound はエラーがバックエンドの「レコードなし」応答かを判定する。
// ロール解決のデフォルトフォールバック等、404を良性として扱う箇所で使用する。
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == ErrCodeNotFound
}

// IsConflict はエラーがバックエンドの409応答かを判定する。
// 入居申し込みの重複検出等で使用する。
func IsConflict(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 409
}

// NewSessionPendingError はセッション解決中エラーを生成する。
func NewSessionPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionPending,
		Message:  "セッションの解決が完了していません。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNoSessionError は未ログインエラーを生成する。
func NewNoSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeNoSession,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// reasonにはIDプロバイダーが返したメッセージをそのまま含める。
func NewInvalidCredentialsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  fmt.Sprintf("サインインに失敗しました: %s", reason),
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewNotFoundError はバックエンドの404応答を表すエラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたリソースが見つかりません: %s", resource),
		Category: "upstream",
		Action:   "リソースの指定を確認してください。",
	}
}

// NewAlreadyAppliedError は入居申し込みの重複エラーを生成する。
func NewAlreadyAppliedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyApplied,
		Message:  "すでに別の物件に申し込み済みです。",
		Category: "validation",
		Action:   "承認結果が出るまでお待ちください。",
	}
}

// NewNoAgreementError はアクティブな契約が存在しない場合のエラーを生成する。
func NewNoAgreementError() *APIError {
	return &APIError{
		Code:     ErrCodeNoAgreement,
		Message:  "有効な入居契約が見つかりません。",
		Category: "validation",
		Action:   "契約が承認されているか確認してください。",
	}
}

// NewInvalidMonthError は支払い対象月が無効な場合のエラーを生成する。
func NewInvalidMonthError(month string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMonth,
		Message:  fmt.Sprintf("無効な支払い対象月です: %s", month),
		Category: "validation",
		Action:   "支払い対象の月を選択してください。",
	}
}

// NewInvalidCouponError は無効なクーポンエラーを生成する。
func NewInvalidCouponError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCoupon,
		Message:  fmt.Sprintf("クーポンを適用できません: %s", reason),
		Category: "validation",
		Action:   "クーポンコードを確認してください。",
	}
}

// NewInvalidDiscountError は割引率が範囲外の場合のエラーを生成する。
func NewInvalidDiscountError(pct float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDiscount,
		Message:  fmt.Sprintf("無効な割引率です: %.2f%%", pct),
		Category: "validation",
		Action:   "割引率は1%から100%の範囲で指定してください。",
	}
}

// NewCouponExpiredError は有効期限切れクーポンのエラーを生成する。
func NewCouponExpiredError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeCouponExpired,
		Message:  fmt.Sprintf("クーポンの有効期限が切れています: %s", code),
		Category: "validation",
		Action:   "有効期限内のクーポンを使用してください。",
	}
}

// NewPaymentFailedError は決済失敗エラーを生成する。
// 決済は自動リトライしないため、メッセージをそのままユーザーに提示する。
func NewPaymentFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentFailed,
		Message:  fmt.Sprintf("決済に失敗しました: %s", reason),
		Category: "payment",
		Action:   "カード情報を確認し、手動で再度お試しください。",
	}
}

// NewPaymentNotReadyError は決済準備未完了エラーを生成する。
func NewPaymentNotReadyError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotReady,
		Message:  "決済の準備が完了していません。",
		Category: "payment",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewForbiddenRoleError はロール不一致による拒否エラーを生成する。
// このチェックはUI出し分けの補助であり、最終的な権限判断はバックエンドが行う。
func NewForbiddenRoleError(required Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenRole,
		Message:  fmt.Sprintf("この操作には %s ロールが必要です。", required),
		Category: "auth",
		Action:   "権限のあるアカウントでログインしてください。",
	}
}

// NewInvalidPhotoURLError はプロフィール画像URLの検証失敗エラーを生成する。
func NewInvalidPhotoURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhotoURL,
		Message:  fmt.Sprintf("プロフィール画像URLを使用できません: %s", reason),
		Category: "validation",
		Action:   "公開されているHTTPSの画像URLを指定してください。",
	}
}

// NewUpstreamError はバックエンド呼び出しの失敗エラーを生成する。
func NewUpstreamError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  fmt.Sprintf("サーバーとの通信に失敗しました: %s", reason),
		Category: "upstream",
		Action:   "通信環境を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamStatusError はバックエンドのエラーステータス応答を表すエラーを生成する。
func NewUpstreamStatusError(statusCode int, body string) *APIError {
	return &APIError{
		Code:       ErrCodeUpstreamStatus,
		Message:    fmt.Sprintf("サーバーがステータス %d を返しました: %s", statusCode, body),
		Category:   "upstream",
		Action:     "しばらく待ってから再度お試しください。",
		StatusCode: statusCode,
	}
}
