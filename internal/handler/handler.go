// Package handler はHTTPハンドラーを提供する。
// 各ハンドラーはセッションストア・ロール解決・クエリキャッシュの
// 出力を読み、バックエンドへの書き込みはキャッシュのミューテーション
// 経由で行う。
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/buildia/internal/querycache"
)

// キャッシュキーの接頭辞。ミューテーション種別ごとの無効化対象は
// RegisterInvalidationsに集約する。
const (
	cacheKeyApartments    = "apartments"
	cacheKeyAgreement     = "agreement"
	cacheKeyBookings      = "bookings"
	cacheKeyMembers       = "members"
	cacheKeyCoupons       = "coupons"
	cacheKeyAnnouncements = "announcements"
	cacheKeyPayments      = "payments"
	cacheKeyStats         = "stats"
	cacheKeyRole          = "role"
)

// ミューテーション種別。
const (
	mutationUserUpsert         = "user.upsert"
	mutationBookingApply       = "booking.apply"
	mutationBookingDecide      = "booking.decide"
	mutationMemberDemote       = "member.demote"
	mutationCouponSave         = "coupon.save"
	mutationAnnouncementCreate = "announcement.create"
	mutationPaymentRecord      = "payment.record"
)

// RegisterInvalidations はミューテーション種別ごとの無効化対象を登録する。
// 無効化の対応関係はここに一元化し、各ハンドラーには分散させない。
func RegisterInvalidations(cache *querycache.Cache) {
	cache.RegisterMutation(mutationUserUpsert, cacheKeyMembers, cacheKeyStats)
	cache.RegisterMutation(mutationBookingApply, cacheKeyAgreement, cacheKeyBookings)
	cache.RegisterMutation(mutationBookingDecide, cacheKeyBookings, cacheKeyAgreement, cacheKeyMembers, cacheKeyStats, cacheKeyRole)
	cache.RegisterMutation(mutationMemberDemote, cacheKeyMembers, cacheKeyRole)
	cache.RegisterMutation(mutationCouponSave, cacheKeyCoupons)
	cache.RegisterMutation(mutationAnnouncementCreate, cacheKeyAnnouncements)
	cache.RegisterMutation(mutationPaymentRecord, cacheKeyPayments, cacheKeyAgreement)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをデコードする。
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
