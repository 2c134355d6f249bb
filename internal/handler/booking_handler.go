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
	"github.com/hitoshi/buildia/internal/querycache"
)

// BookingHandler は入居申し込みのHTTPハンドラー。セッション必須。
type BookingHandler struct {
	secure   *api.SecureClient
	cache    *querycache.Cache
	staleFor time.Duration
}

// NewBookingHandler はBookingHandlerを生成する。
func NewBookingHandler(secure *api.SecureClient, cache *querycache.Cache, staleFor time.Duration) *BookingHandler {
	return &BookingHandler{secure: secure, cache: cache, staleFor: staleFor}
}

// applyRequest は入居申し込みリクエストのボディ。
type applyRequest struct {
	ApartmentID string  `json:"apartmentId"`
	ApartmentNo string  `json:"ApartmentNo"`
	FloorNo     int     `json:"FloorNo"`
	BlockName   string  `json:"BlockName"`
	Rent        float64 `json:"Rent"`
}

// Apply は物件への入居申し込みを送信する。
// すでに申し込み済みの場合は409を返す。
// POST /api/bookings
func (h *BookingHandler) Apply(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoSessionError())
		return
	}

	var req applyRequest
	if err := decodeJSON(r, &req); err != nil || req.ApartmentID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "物件の指定が正しくありません。",
			Category: "validation",
			Action:   "申し込む物件を選択し直してください。",
		})
		return
	}

	agreement := model.Agreement{
		ApartmentID: req.ApartmentID,
		ApartmentNo: req.ApartmentNo,
		FloorNo:     req.FloorNo,
		BlockName:   req.BlockName,
		Rent:        req.Rent,
		UserName:    sess.DisplayName,
		UserEmail:   sess.Email,
		Status:      model.AgreementPending,
	}

	err := h.cache.Mutate(r.Context(), mutationBookingApply, func(ctx context.Context) error {
		return h.secure.PatchJSON(ctx, "/addUserData", agreement, nil)
	})
	if err != nil {
		if model.IsConflict(err) {
			middleware.WriteErrorResponse(w, http.StatusConflict, model.NewAlreadyAppliedError())
			return
		}
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, agreement)
}

// Mine は自分の入居申し込み（契約）を返す。
// 申し込みが存在しない場合はnullを返す（エラーにしない）。
// GET /api/bookings/mine
func (h *BookingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoSessionError())
		return
	}

	key := cacheKeyAgreement + "/" + sess.Email
	agreement, err := querycache.ReadAs(r.Context(), h.cache, key, func(ctx context.Context) (*model.Agreement, error) {
		var a model.Agreement
		err := h.secure.GetJSON(ctx, "/agreement/"+url.PathEscape(sess.Email), &a)
		if model.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &a, nil
	}, querycache.Options{StaleFor: h.staleFor, RefetchOnFocus: true})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, agreement)
}
