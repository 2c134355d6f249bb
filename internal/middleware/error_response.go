package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/buildia/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteAPIError はエラーをHTTPステータスに対応付けて書き込む。
// APIError以外のエラーは500として扱う。
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, statusForError(apiErr), apiErr)
}

// statusForError はエラーコードをHTTPステータスに対応付ける。
func statusForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeSessionPending:
		return http.StatusServiceUnavailable
	case model.ErrCodeNoSession, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbiddenRole:
		return http.StatusForbidden
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyApplied:
		return http.StatusConflict
	case model.ErrCodeInvalidMonth, model.ErrCodeInvalidCoupon, model.ErrCodeInvalidDiscount,
		model.ErrCodeCouponExpired, model.ErrCodeInvalidPhotoURL:
		return http.StatusUnprocessableEntity
	case model.ErrCodeNoAgreement, model.ErrCodePaymentNotReady:
		return http.StatusPreconditionFailed
	case model.ErrCodePaymentFailed:
		return http.StatusBadGateway
	case model.ErrCodeUpstreamError, model.ErrCodeUpstreamStatus:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
