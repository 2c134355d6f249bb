package handler

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/guard"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/querycache"
	"github.com/hitoshi/buildia/internal/security"
	"github.com/hitoshi/buildia/internal/stats"
)

// excerptMaxRunes はお知らせ一覧に表示する抜粋の最大文字数。
const excerptMaxRunes = 120

// AdminHandler は管理者向けのHTTPハンドラー。
// ルーターでロールゲートの後段に配置されるが、ロールはUI参考値であり、
// 最終的な権限の強制はバックエンド側でも行われる。
type AdminHandler struct {
	secure    *api.SecureClient
	cache     *querycache.Cache
	sanitizer security.AnnouncementSanitizer
	staleFor  time.Duration
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(secure *api.SecureClient, cache *querycache.Cache, sanitizer security.AnnouncementSanitizer, staleFor time.Duration) *AdminHandler {
	return &AdminHandler{secure: secure, cache: cache, sanitizer: sanitizer, staleFor: staleFor}
}

// dashboardResponse は管理者ダッシュボードのレスポンス。
type dashboardResponse struct {
	model.DashboardStats
	stats.Percentages
}

// Dashboard は管理者ダッシュボードの集計値を返す。
// GET /api/admin/stats
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	key := cacheKeyStats + "/dashboard"
	s, err := querycache.ReadAs(r.Context(), h.cache, key, func(ctx context.Context) (model.DashboardStats, error) {
		var s model.DashboardStats
		err := h.secure.GetJSON(ctx, "/admin/dashboard-stats", &s)
		return s, err
	}, querycache.Options{StaleFor: h.staleFor, RefetchOnFocus: true})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		DashboardStats: s,
		Percentages:    stats.RoomPercentages(s),
	})
}

// PendingBookings は承認待ちの入居申し込み一覧を返す。
// GET /api/admin/bookings/pending
func (h *AdminHandler) PendingBookings(w http.ResponseWriter, r *http.Request) {
	key := cacheKeyBookings + "/pending"
	pending, err := querycache.ReadAs(r.Context(), h.cache, key, func(ctx context.Context) ([]model.Agreement, error) {
		var agreements []model.Agreement
		if err := h.secure.GetJSON(ctx, "/agreements", &agreements); err != nil {
			return nil, err
		}
		pending := make([]model.Agreement, 0, len(agreements))
		for _, a := range agreements {
			if a.Status == model.AgreementPending {
				pending = append(pending, a)
			}
		}
		return pending, nil
	}, querycache.Options{StaleFor: h.staleFor, RefetchOnFocus: true})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pending)
}

// decideRequest は申し込みの承認・却下リクエストのボディ。
type decideRequest struct {
	UserEmail string `json:"userEmail"`
	Accept    bool   `json:"accept"`
}

// DecideBooking は入居申し込みを承認または却下する。
// 承認時は契約に承認日を記録し、ユーザーをmemberロールへ昇格する。
// PATCH /api/admin/bookings/decide
func (h *AdminHandler) DecideBooking(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := decodeJSON(r, &req); err != nil || req.UserEmail == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "対象ユーザーの指定が正しくありません。",
			Category: "validation",
			Action:   "申し込み一覧から操作してください。",
		})
		return
	}

	status := model.AgreementRejected
	payload := map[string]any{"status": status}
	if req.Accept {
		status = model.AgreementAccepted
		payload["status"] = status
		payload["acceptedDate"] = time.Now().UTC()
		payload["role"] = string(model.RoleMember)
	}

	err := h.cache.Mutate(r.Context(), mutationBookingDecide, func(ctx context.Context) error {
		return h.secure.PatchJSON(ctx, "/updateAgreementStatus?email="+url.QueryEscape(req.UserEmail), payload, nil)
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"userEmail": req.UserEmail, "status": status})
}

// Members は入居者（memberロール）の一覧を返す。
// GET /api/admin/members
func (h *AdminHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := querycache.ReadAs(r.Context(), h.cache, cacheKeyMembers, func(ctx context.Context) ([]model.BackendUser, error) {
		var users []model.BackendUser
		if err := h.secure.GetJSON(ctx, "/usersFilter", &users); err != nil {
			return nil, err
		}
		members := make([]model.BackendUser, 0, len(users))
		for _, u := range users {
			if model.ParseRole(u.Role) == model.RoleMember {
				members = append(members, u)
			}
		}
		return members, nil
	}, querycache.Options{StaleFor: h.staleFor, RefetchOnFocus: true})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, members)
}

// DemoteMember は入居者を一般ユーザーへ降格する。
// DELETE /api/admin/members/{email}
func (h *AdminHandler) DemoteMember(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if email == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewNotFoundError("member"))
		return
	}

	err := h.cache.Mutate(r.Context(), mutationMemberDemote, func(ctx context.Context) error {
		return h.secure.PatchJSON(ctx, "/users/update-role/"+url.PathEscape(email), map[string]string{
			"role": string(model.RoleUser),
		}, nil)
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"email": email, "role": string(model.RoleUser)})
}

// Coupons はクーポン一覧を返す。
// GET /api/admin/coupons
func (h *AdminHandler) Coupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := querycache.ReadAs(r.Context(), h.cache, cacheKeyCoupons, func(ctx context.Context) ([]model.Coupon, error) {
		var coupons []model.Coupon
		err := h.secure.GetJSON(ctx, "/coupons", &coupons)
		return coupons, err
	}, querycache.Options{StaleFor: h.staleFor, RefetchOnFocus: true})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, coupons)
}

// couponRequest はクーポン作成リクエストのボディ。
type couponRequest struct {
	Code               string    `json:"couponCode"`
	DiscountPercentage float64   `json:"discountPercentage"`
	Description        string    `json:"description"`
	ValidUntil         time.Time `json:"validUntil"`
}

// CreateCoupon は新しいクーポンを作成する。
// 割引率は[1,100]、有効期限は過去日不可。
// POST /api/admin/coupons
func (h *AdminHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		middleware.WriteAPIError(w, model.NewInvalidCouponError("coupon code is required"))
		return
	}
	if req.DiscountPercentage < 1 || req.DiscountPercentage > 100 {
		middleware.WriteAPIError(w, model.NewInvalidDiscountError(req.DiscountPercentage))
		return
	}
	if !req.ValidUntil.IsZero() && req.ValidUntil.Before(time.Now()) {
		middleware.WriteAPIError(w, model.NewCouponExpiredError(req.Code))
		return
	}

	coupon := model.Coupon{
		Code:               req.Code,
		DiscountPercentage: req.DiscountPercentage,
		Description:        req.Description,
		ValidUntil:         req.ValidUntil,
		IsActive:           true,
	}

	err := h.cache.Mutate(r.Context(), mutationCouponSave, func(ctx context.Context) error {
		return h.secure.PostJSON(ctx, "/newCoupons", coupon, &coupon)
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, coupon)
}

// availabilityRequest はクーポンの有効・無効切り替えリクエストのボディ。
type availabilityRequest struct {
	IsActive bool `json:"isActive"`
}

// UpdateCouponAvailability はクーポンの有効・無効を切り替える。
// PATCH /api/admin/coupons/{id}/availability
func (h *AdminHandler) UpdateCouponAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req availabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidCouponError("invalid request body"))
		return
	}

	err := h.cache.Mutate(r.Context(), mutationCouponSave, func(ctx context.Context) error {
		return h.secure.PatchJSON(ctx, "/coupons/"+url.PathEscape(id)+"/availability", req, nil)
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "isActive": req.IsActive})
}

// announcementRequest はお知らせ作成リクエストのボディ。
type announcementRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateAnnouncement はお知らせを作成する。
// 本文は保存前にサニタイズし、一覧表示用の抜粋を生成する。
// POST /api/admin/announcements
func (h *AdminHandler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoSessionError())
		return
	}

	var req announcementRequest
	if err := decodeJSON(r, &req); err != nil || req.Title == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "お知らせのタイトルは必須です。",
			Category: "validation",
			Action:   "タイトルを入力してください。",
		})
		return
	}

	sanitized := h.sanitizer.Sanitize(req.Description)
	announcement := model.Announcement{
		Title:       req.Title,
		Description: sanitized,
		Excerpt:     security.ExtractExcerpt(sanitized, excerptMaxRunes),
		SenderEmail: sess.Email,
		SenderName:  sess.DisplayName,
		Timestamp:   time.Now().UTC(),
	}

	err := h.cache.Mutate(r.Context(), mutationAnnouncementCreate, func(ctx context.Context) error {
		return h.secure.PostJSON(ctx, "/announcements", announcement, &announcement)
	})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, announcement)
}

// PaymentChart は全入居者の支払いを月単位で集計して返す。
// GET /api/admin/stats/payments
func (h *AdminHandler) PaymentChart(w http.ResponseWriter, r *http.Request) {
	key := cacheKeyStats + "/payments"
	totals, err := querycache.ReadAs(r.Context(), h.cache, key, func(ctx context.Context) ([]stats.MonthlyTotal, error) {
		var payments []model.Payment
		if err := h.secure.GetJSON(ctx, "/payments", &payments); err != nil {
			return nil, err
		}
		return stats.MonthlyTotals(payments), nil
	}, querycache.Options{StaleFor: h.staleFor, RefetchOnFocus: true})
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, totals)
}
