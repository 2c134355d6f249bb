package handler

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/payment"
	"github.com/hitoshi/buildia/internal/querycache"
)

// CouponHandler はクーポン閲覧・検証のHTTPハンドラー。
// 一覧はトップページのバナー表示用で認証不要。
type CouponHandler struct {
	backend  *api.Client
	cache    *querycache.Cache
	staleFor time.Duration
}

// NewCouponHandler はCouponHandlerを生成する。
func NewCouponHandler(backend *api.Client, cache *querycache.Cache, staleFor time.Duration) *CouponHandler {
	return &CouponHandler{backend: backend, cache: cache, staleFor: staleFor}
}

// ListActive は現在有効なクーポンの一覧を返す。
// GET /api/coupons
func (h *CouponHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	key := cacheKeyCoupons + "/active"
	active, err := querycache.ReadAs(r.Context(), h.cache, key, func(ctx context.Context) ([]model.Coupon, error) {
		var coupons []model.Coupon
		if err := h.backend.GetJSON(ctx, "/coupons", &coupons); err != nil {
			return nil, err
		}
		now := time.Now()
		active := make([]model.Coupon, 0, len(coupons))
		for _, c := range coupons {
			if c.IsActive && (c.ValidUntil.IsZero() || c.ValidUntil.After(now)) {
				active = append(active, c)
			}
		}
		return active, nil
	}, querycache.Options{StaleFor: h.staleFor})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, active)
}

// validateRequest はクーポン検証リクエストのボディ。
type validateRequest struct {
	CouponCode string  `json:"couponCode"`
	Rent       float64 `json:"rent"`
}

// validateResponse はクーポン検証のレスポンス。
type validateResponse struct {
	Valid              bool    `json:"valid"`
	DiscountPercentage float64 `json:"discountPercentage"`
	PayableAmount      float64 `json:"payableAmount"`
	DiscountAmount     float64 `json:"discountAmount"`
}

// Validate はクーポンコードを検証し、割引後の支払額を返す。
// 決済前のプレビュー用で、支払いレコードは作成しない。
// POST /api/coupons/validate
func (h *CouponHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil || req.CouponCode == "" {
		middleware.WriteAPIError(w, model.NewInvalidCouponError("coupon code is required"))
		return
	}

	key := cacheKeyCoupons + "/code/" + req.CouponCode
	coupon, err := querycache.ReadAs(r.Context(), h.cache, key, func(ctx context.Context) (*model.Coupon, error) {
		var c model.Coupon
		err := h.backend.GetJSON(ctx, "/coupons/code/"+url.PathEscape(req.CouponCode), &c)
		if model.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	}, querycache.Options{StaleFor: h.staleFor})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	if coupon == nil {
		middleware.WriteAPIError(w, model.NewInvalidCouponError("coupon not found: "+req.CouponCode))
		return
	}
	if err := payment.ValidateCoupon(coupon, time.Now()); err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	payable := payment.Payable(req.Rent, coupon.DiscountPercentage)
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:              true,
		DiscountPercentage: coupon.DiscountPercentage,
		PayableAmount:      payable,
		DiscountAmount:     req.Rent - payable,
	})
}
