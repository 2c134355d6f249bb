package handler

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/buildia/internal/model"
)

func acceptedAgreementFor(email string) model.Agreement {
	now := time.Now().UTC()
	return model.Agreement{
		ID:           "agreement-1",
		ApartmentID:  "apt-1",
		ApartmentNo:  "A-101",
		FloorNo:      1,
		BlockName:    "A",
		Rent:         450,
		UserEmail:    email,
		Status:       model.AgreementAccepted,
		AcceptedDate: &now,
	}
}

func TestPaymentFlow_IntentWithoutAgreement(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setUser("tenant@example.com", "member")
	env.signIn("tenant@example.com")

	w := env.do(http.MethodPost, "/api/payments/intent", map[string]any{
		"month": "January",
		"year":  2026,
	})
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("POST /api/payments/intent status = %d, want %d", w.Code, http.StatusPreconditionFailed)
	}

	var resp struct {
		Code string `json:"code"`
	}
	decodeInto(t, w, &resp)
	if resp.Code != "NO_AGREEMENT" {
		t.Errorf("code = %q, want %q", resp.Code, "NO_AGREEMENT")
	}
}

func TestPaymentFlow_IntentBeforeAcceptance(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setUser("tenant@example.com", "user")
	agreement := acceptedAgreementFor("tenant@example.com")
	agreement.Status = model.AgreementPending
	agreement.AcceptedDate = nil
	env.backend.setAgreement(agreement)
	env.signIn("tenant@example.com")

	w := env.do(http.MethodPost, "/api/payments/intent", map[string]any{
		"month": "January",
		"year":  2026,
	})
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("POST /api/payments/intent status = %d, want %d", w.Code, http.StatusPreconditionFailed)
	}

	var resp struct {
		Code string `json:"code"`
	}
	decodeInto(t, w, &resp)
	if resp.Code != "PAYMENT_NOT_READY" {
		t.Errorf("code = %q, want %q", resp.Code, "PAYMENT_NOT_READY")
	}
}

func TestPaymentFlow_IntentRejectsInvalidMonth(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setUser("tenant@example.com", "member")
	env.backend.setAgreement(acceptedAgreementFor("tenant@example.com"))
	env.signIn("tenant@example.com")

	w := env.do(http.MethodPost, "/api/payments/intent", map[string]any{
		"month": "Januember",
		"year":  2026,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("POST /api/payments/intent status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestPaymentFlow_IntentAndConfirm(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setUser("tenant@example.com", "member")
	env.backend.setAgreement(acceptedAgreementFor("tenant@example.com"))
	env.signIn("tenant@example.com")

	w := env.do(http.MethodPost, "/api/payments/intent", map[string]any{
		"month": "January",
		"year":  2026,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/payments/intent status = %d, want %d", w.Code, http.StatusOK)
	}

	var intent struct {
		ClientSecret  string  `json:"clientSecret"`
		PublicKey     string  `json:"publicKey"`
		IntentID      string  `json:"intentId"`
		PayableAmount float64 `json:"payableAmount"`
		PaidByCoupon  bool    `json:"paidByCoupon"`
	}
	decodeInto(t, w, &intent)
	if intent.ClientSecret != "cs_test" {
		t.Errorf("clientSecret = %q, want %q", intent.ClientSecret, "cs_test")
	}
	if intent.PublicKey != "pk_test" {
		t.Errorf("publicKey = %q, want %q", intent.PublicKey, "pk_test")
	}
	if intent.PayableAmount != 450 {
		t.Errorf("payableAmount = %v, want 450", intent.PayableAmount)
	}
	if intent.PaidByCoupon {
		t.Error("paidByCoupon = true, want false")
	}

	w = env.do(http.MethodPost, "/api/payments/confirm", map[string]any{
		"intentId": intent.IntentID,
		"month":    "January",
		"year":     2026,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/payments/confirm status = %d, want %d", w.Code, http.StatusOK)
	}

	var record model.Payment
	decodeInto(t, w, &record)
	if record.PaymentStatus != model.PaymentPaid {
		t.Errorf("paymentStatus = %q, want %q", record.PaymentStatus, model.PaymentPaid)
	}
	if record.TransactionID != "pi_test" {
		t.Errorf("transactionId = %q, want %q", record.TransactionID, "pi_test")
	}

	recorded := env.backend.recordedPayments()
	if len(recorded) != 1 {
		t.Fatalf("バックエンドの支払いレコード数 = %d, want 1", len(recorded))
	}

	// 支払い履歴に反映されること
	w = env.do(http.MethodGet, "/api/payments", nil)
	var history []model.Payment
	decodeInto(t, w, &history)
	if len(history) != 1 || history[0].PaidAmount != 450 {
		t.Errorf("history = %+v, want 1件（450）", history)
	}
}

func TestPaymentFlow_PartialCouponDiscount(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setUser("tenant@example.com", "member")
	env.backend.setAgreement(acceptedAgreementFor("tenant@example.com"))
	env.backend.addCoupon(model.Coupon{
		ID:                 "coupon-1",
		Code:               "SPRING20",
		DiscountPercentage: 20,
		ValidUntil:         time.Now().Add(24 * time.Hour),
		IsActive:           true,
	})
	env.signIn("tenant@example.com")

	w := env.do(http.MethodPost, "/api/payments/intent", map[string]any{
		"month":      "March",
		"year":       2026,
		"couponCode": "SPRING20",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/payments/intent status = %d, want %d", w.Code, http.StatusOK)
	}

	var intent struct {
		PayableAmount  float64 `json:"payableAmount"`
		DiscountAmount float64 `json:"discountAmount"`
		PaidByCoupon   bool    `json:"paidByCoupon"`
	}
	decodeInto(t, w, &intent)
	if intent.PayableAmount != 360 {
		t.Errorf("payableAmount = %v, want 360", intent.PayableAmount)
	}
	if intent.DiscountAmount != 90 {
		t.Errorf("discountAmount = %v, want 90", intent.DiscountAmount)
	}
	if intent.PaidByCoupon {
		t.Error("paidByCoupon = true, want false")
	}
}

// クーポン全額割引ではプロセッサーを経由せず、そのまま無償決済として記録される。
func TestPaymentFlow_FullCouponDiscountSkipsProcessor(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setUser("tenant@example.com", "member")
	env.backend.setAgreement(acceptedAgreementFor("tenant@example.com"))
	env.backend.addCoupon(model.Coupon{
		ID:                 "coupon-1",
		Code:               "FREEMONTH",
		DiscountPercentage: 100,
		ValidUntil:         time.Now().Add(24 * time.Hour),
		IsActive:           true,
	})
	env.signIn("tenant@example.com")

	w := env.do(http.MethodPost, "/api/payments/intent", map[string]any{
		"month":      "April",
		"year":       2026,
		"couponCode": "FREEMONTH",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/payments/intent status = %d, want %d", w.Code, http.StatusOK)
	}

	var intent struct {
		PayableAmount float64        `json:"payableAmount"`
		PaidByCoupon  bool           `json:"paidByCoupon"`
		Payment       *model.Payment `json:"payment"`
	}
	decodeInto(t, w, &intent)
	if !intent.PaidByCoupon {
		t.Error("paidByCoupon = false, want true")
	}
	if intent.PayableAmount != 0 {
		t.Errorf("payableAmount = %v, want 0", intent.PayableAmount)
	}
	if intent.Payment == nil {
		t.Fatal("payment = nil, want 記録済みレコード")
	}
	if intent.Payment.PaymentStatus != model.PaymentPaidByCoupon {
		t.Errorf("paymentStatus = %q, want %q", intent.Payment.PaymentStatus, model.PaymentPaidByCoupon)
	}
	if !strings.HasPrefix(intent.Payment.TransactionID, "COUPON_FULL_DISCOUNT_") {
		t.Errorf("transactionId = %q, want COUPON_FULL_DISCOUNT_接頭辞", intent.Payment.TransactionID)
	}

	if got := env.processor.intentCount(); got != 0 {
		t.Errorf("プロセッサーの呼び出し回数 = %d, want 0", got)
	}

	recorded := env.backend.recordedPayments()
	if len(recorded) != 1 {
		t.Fatalf("バックエンドの支払いレコード数 = %d, want 1", len(recorded))
	}
}

func TestPaymentFlow_ExpiredCouponRejected(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setUser("tenant@example.com", "member")
	env.backend.setAgreement(acceptedAgreementFor("tenant@example.com"))
	env.backend.addCoupon(model.Coupon{
		ID:                 "coupon-1",
		Code:               "OLDCODE",
		DiscountPercentage: 50,
		ValidUntil:         time.Now().Add(-24 * time.Hour),
		IsActive:           true,
	})
	env.signIn("tenant@example.com")

	w := env.do(http.MethodPost, "/api/payments/intent", map[string]any{
		"month":      "May",
		"year":       2026,
		"couponCode": "OLDCODE",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("POST /api/payments/intent status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}

	var resp struct {
		Code string `json:"code"`
	}
	decodeInto(t, w, &resp)
	if resp.Code != "COUPON_EXPIRED" {
		t.Errorf("code = %q, want %q", resp.Code, "COUPON_EXPIRED")
	}
}

func TestPaymentFlow_UnknownCouponRejected(t *testing.T) {
	env := newTestEnv(t)
	env.backend.setUser("tenant@example.com", "member")
	env.backend.setAgreement(acceptedAgreementFor("tenant@example.com"))
	env.signIn("tenant@example.com")

	w := env.do(http.MethodPost, "/api/payments/intent", map[string]any{
		"month":      "June",
		"year":       2026,
		"couponCode": "NOPE",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("POST /api/payments/intent status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}
