package handler

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/guard"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/payment"
	"github.com/hitoshi/buildia/internal/querycache"
	"github.com/hitoshi/buildia/internal/stats"
)

// PaymentHandlerConfig は決済ハンドラーの設定。
type PaymentHandlerConfig struct {
	PublicKey string // 決済プロセッサーの公開キー（カード入力ウィジェット用）
	Currency  string
	StaleFor  time.Duration
}

// PaymentHandler は家賃支払いのHTTPハンドラー。セッション必須。
type PaymentHandler struct {
	secure    *api.SecureClient
	cache     *querycache.Cache
	processor payment.Processor
	config    PaymentHandlerConfig
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(secure *api.SecureClient, cache *querycache.Cache, processor payment.Processor, config PaymentHandlerConfig) *PaymentHandler {
	if config.Currency == "" {
		config.Currency = "usd"
	}
	return &PaymentHandler{secure: secure, cache: cache, processor: processor, config: config}
}

// History は自分の支払い履歴を返す。
// GET /api/payments
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoSessionError())
		return
	}

	payments, err := h.fetchHistory(r.Context(), sess.Email)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// Chart は自分の支払い履歴を月単位で集計して返す。
// GET /api/payments/chart
func (h *PaymentHandler) Chart(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoSessionError())
		return
	}

	payments, err := h.fetchHistory(r.Context(), sess.Email)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.MonthlyTotals(payments))
}

// fetchHistory は支払い履歴をキャッシュ経由で取得する。
func (h *PaymentHandler) fetchHistory(ctx context.Context, email string) ([]model.Payment, error) {
	key := cacheKeyPayments + "/" + email
	return querycache.ReadAs(ctx, h.cache, key, func(ctx context.Context) ([]model.Payment, error) {
		var payments []model.Payment
		err := h.secure.GetJSON(ctx, "/payments?email="+url.QueryEscape(email), &payments)
		return payments, err
	}, querycache.Options{StaleFor: h.config.StaleFor, RefetchOnFocus: true})
}

// intentRequest は支払いインテント作成リクエストのボディ。
type intentRequest struct {
	Month      string `json:"month"`
	Year       int    `json:"year"`
	CouponCode string `json:"couponCode,omitempty"`
}

// intentResponse は支払いインテント作成のレスポンス。
// クーポン全額割引の場合はプロセッサーを経由せず、決済済みとして返す。
type intentResponse struct {
	ClientSecret   string         `json:"clientSecret,omitempty"`
	PublicKey      string         `json:"publicKey,omitempty"`
	IntentID       string         `json:"intentId,omitempty"`
	PayableAmount  float64        `json:"payableAmount"`
	OriginalAmount float64        `json:"originalAmount"`
	DiscountAmount float64        `json:"discountAmount"`
	PaidByCoupon   bool           `json:"paidByCoupon"`
	Payment        *model.Payment `json:"payment,omitempty"`
}

// CreateIntent は家賃支払いのインテントを作成する。
// クーポンで支払額が0になる場合は決済ウィジェットを起動せず、
// そのまま無償決済として記録する。
// POST /api/payments/intent
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoSessionError())
		return
	}

	var req intentRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidMonthError(""))
		return
	}
	if !validMonth(req.Month) {
		middleware.WriteAPIError(w, model.NewInvalidMonthError(req.Month))
		return
	}

	agreement, err := h.acceptedAgreement(r.Context(), sess.Email)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	original := agreement.Rent
	payable := original
	var discount float64
	if req.CouponCode != "" {
		coupon, err := h.lookupCoupon(r.Context(), req.CouponCode)
		if err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		if err := payment.ValidateCoupon(coupon, time.Now()); err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		payable = payment.Payable(original, coupon.DiscountPercentage)
		discount = original - payable
	}

	// 全額割引: プロセッサーを経由せず無償決済として記録
	if payable == 0 {
		record := h.buildRecord(sess.Email, agreement, req, original, payable, discount)
		record.PaymentStatus = model.PaymentPaidByCoupon
		record.TransactionID = payment.FreeTransactionID()

		if err := h.recordPayment(r.Context(), &record); err != nil {
			middleware.WriteAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, intentResponse{
			PayableAmount:  0,
			OriginalAmount: original,
			DiscountAmount: discount,
			PaidByCoupon:   true,
			Payment:        &record,
		})
		return
	}

	intent, err := h.processor.CreateIntent(r.Context(), payable, h.config.Currency)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, intentResponse{
		ClientSecret:   intent.ClientSecret,
		PublicKey:      h.config.PublicKey,
		IntentID:       intent.ID,
		PayableAmount:  payable,
		OriginalAmount: original,
		DiscountAmount: discount,
	})
}

// confirmRequest は支払い確定リクエストのボディ。
type confirmRequest struct {
	IntentID   string `json:"intentId"`
	Month      string `json:"month"`
	Year       int    `json:"year"`
	CouponCode string `json:"couponCode,omitempty"`
}

// Confirm は支払いを確定し、支払いレコードをバックエンドに記録する。
// 決済の確定は自動リトライしない。
// POST /api/payments/confirm
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoSessionError())
		return
	}

	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil || req.IntentID == "" {
		middleware.WriteAPIError(w, model.NewPaymentNotReadyError())
		return
	}
	if !validMonth(req.Month) {
		middleware.WriteAPIError(w, model.NewInvalidMonthError(req.Month))
		return
	}

	agreement, err := h.acceptedAgreement(r.Context(), sess.Email)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	original := agreement.Rent
	payable := original
	var discount float64
	if req.CouponCode != "" {
		coupon, err := h.lookupCoupon(r.Context(), req.CouponCode)
		if err == nil && payment.ValidateCoupon(coupon, time.Now()) == nil {
			payable = payment.Payable(original, coupon.DiscountPercentage)
			discount = original - payable
		}
	}

	result, err := h.processor.Confirm(r.Context(), req.IntentID)
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	record := h.buildRecord(sess.Email, agreement, intentRequest{Month: req.Month, Year: req.Year, CouponCode: req.CouponCode}, original, payable, discount)
	record.PaymentStatus = model.PaymentPaid
	record.TransactionID = result.TransactionID

	if err := h.recordPayment(r.Context(), &record); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// acceptedAgreement は承認済みの契約を取得する。
// 契約がない場合はNO_AGREEMENT、承認前の場合はPAYMENT_NOT_READY。
func (h *PaymentHandler) acceptedAgreement(ctx context.Context, email string) (*model.Agreement, error) {
	key := cacheKeyAgreement + "/" + email
	agreement, err := querycache.ReadAs(ctx, h.cache, key, func(ctx context.Context) (*model.Agreement, error) {
		var a model.Agreement
		err := h.secure.GetJSON(ctx, "/agreement/"+url.PathEscape(email), &a)
		if model.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &a, nil
	}, querycache.Options{StaleFor: h.config.StaleFor, RefetchOnFocus: true})
	if err != nil {
		return nil, err
	}
	if agreement == nil {
		return nil, model.NewNoAgreementError()
	}
	if agreement.Status != model.AgreementAccepted {
		return nil, model.NewPaymentNotReadyError()
	}
	return agreement, nil
}

// lookupCoupon はクーポンコードからクーポンを取得する。
func (h *PaymentHandler) lookupCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	key := cacheKeyCoupons + "/code/" + code
	coupon, err := querycache.ReadAs(ctx, h.cache, key, func(ctx context.Context) (*model.Coupon, error) {
		var c model.Coupon
		err := h.secure.GetJSON(ctx, "/coupons/code/"+url.PathEscape(code), &c)
		if model.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	}, querycache.Options{StaleFor: h.config.StaleFor})
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, model.NewInvalidCouponError("coupon not found: " + code)
	}
	return coupon, nil
}

// buildRecord は支払いレコードを組み立てる。
func (h *PaymentHandler) buildRecord(email string, agreement *model.Agreement, req intentRequest, original, payable, discount float64) model.Payment {
	return model.Payment{
		UserEmail:          email,
		ApartmentID:        agreement.ApartmentID,
		ApartmentNo:        agreement.ApartmentNo,
		FloorNo:            agreement.FloorNo,
		BlockName:          agreement.BlockName,
		RentAmount:         payable,
		PaidAmount:         payable,
		OriginalRentAmount: original,
		Month:              req.Month,
		Year:               req.Year,
		PaymentDate:        time.Now().UTC(),
		CouponCode:         req.CouponCode,
		DiscountAmount:     discount,
	}
}

// recordPayment は支払いレコードをバックエンドに保存する。
func (h *PaymentHandler) recordPayment(ctx context.Context, record *model.Payment) error {
	return h.cache.Mutate(ctx, mutationPaymentRecord, func(ctx context.Context) error {
		return h.secure.PostJSON(ctx, "/payments", record, record)
	})
}

// validMonth は支払い対象月が有効な月名かを検証する。
func validMonth(month string) bool {
	if month == "" {
		return false
	}
	_, err := time.Parse("January", month)
	return err == nil
}
