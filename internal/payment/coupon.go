// Package payment は決済プロセッサー連携とクーポン割引の計算を提供する。
package payment

import (
	"math"
	"time"

	"github.com/hitoshi/buildia/internal/model"
)

// Payable は元の賃料amountに割引率pct（パーセント）を適用した支払額を返す。
// 結果は負にならないよう0でクランプする。
func Payable(amount, pct float64) float64 {
	payable := amount - amount*pct/100
	if payable < 0 {
		return 0
	}
	// 通貨の最小単位（セント）で丸める
	return math.Round(payable*100) / 100
}

// ValidateDiscount は割引率が[1,100]の範囲にあるかを検証する。
func ValidateDiscount(pct float64) error {
	if pct < 1 || pct > 100 {
		return model.NewInvalidDiscountError(pct)
	}
	return nil
}

// ValidateCoupon はクーポンが適用可能かを検証する。
// 無効化済み・期限切れ・範囲外の割引率はエラー。
func ValidateCoupon(coupon *model.Coupon, now time.Time) error {
	if coupon == nil {
		return model.NewInvalidCouponError("coupon not found")
	}
	if !coupon.IsActive {
		return model.NewInvalidCouponError("coupon is inactive")
	}
	if !coupon.ValidUntil.IsZero() && coupon.ValidUntil.Before(now) {
		return model.NewCouponExpiredError(coupon.Code)
	}
	return ValidateDiscount(coupon.DiscountPercentage)
}
