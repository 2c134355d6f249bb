package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/buildia/internal/model"
)

func TestPayable(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		pct    float64
		want   float64
	}{
		{"割引なし相当", 1000, 0, 1000},
		{"10%割引", 1000, 10, 900},
		{"25%割引", 1500, 25, 1125},
		{"全額割引", 1000, 100, 0},
		{"端数の丸め", 999, 33.33, 666.03},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Payable(tt.amount, tt.pct); got != tt.want {
				t.Errorf("Payable(%v, %v) = %v, want %v", tt.amount, tt.pct, got, tt.want)
			}
		})
	}
}

func TestPayable_NeverNegative(t *testing.T) {
	if got := Payable(100, 150); got != 0 {
		t.Errorf("Payable(100, 150) = %v, want 0", got)
	}
}

func TestValidateDiscount(t *testing.T) {
	tests := []struct {
		pct     float64
		wantErr bool
	}{
		{1, false},
		{50, false},
		{100, false},
		{0, true},
		{0.5, true},
		{101, true},
		{-10, true},
	}

	for _, tt := range tests {
		err := ValidateDiscount(tt.pct)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateDiscount(%v) = %v, wantErr %v", tt.pct, err, tt.wantErr)
		}
	}
}

func TestValidateCoupon(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		coupon   *model.Coupon
		wantCode string
	}{
		{
			"有効なクーポン",
			&model.Coupon{Code: "SUMMER10", DiscountPercentage: 10, ValidUntil: now.AddDate(0, 1, 0), IsActive: true},
			"",
		},
		{
			"存在しないクーポン",
			nil,
			model.ErrCodeInvalidCoupon,
		},
		{
			"無効化済み",
			&model.Coupon{Code: "OLD", DiscountPercentage: 10, ValidUntil: now.AddDate(0, 1, 0), IsActive: false},
			model.ErrCodeInvalidCoupon,
		},
		{
			"期限切れ",
			&model.Coupon{Code: "EXPIRED", DiscountPercentage: 10, ValidUntil: now.AddDate(0, -1, 0), IsActive: true},
			model.ErrCodeCouponExpired,
		},
		{
			"範囲外の割引率",
			&model.Coupon{Code: "BROKEN", DiscountPercentage: 120, ValidUntil: now.AddDate(0, 1, 0), IsActive: true},
			model.ErrCodeInvalidDiscount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoupon(tt.coupon, now)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("ValidateCoupon がエラーを返した: %v", err)
				}
				return
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Errorf("err = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func newTestProcessor(t *testing.T, handler http.HandlerFunc) *ProcessorClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewProcessorClient(server.Client(), server.URL, "sk_test_123", logger)
}

func TestProcessorClient_CreateIntent(t *testing.T) {
	var gotIdempotencyKey string
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Errorf("path = %s, want /v1/payment_intents", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test_123" {
			t.Errorf("Authorization = %q, want Bearer sk_test_123", auth)
		}
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")

		r.ParseForm()
		// 1125.00 はセント単位で112500として送信されること
		if got := r.Form.Get("amount"); got != "112500" {
			t.Errorf("amount = %s, want 112500", got)
		}

		json.NewEncoder(w).Encode(Intent{
			ID:           "pi_1",
			ClientSecret: "pi_1_secret",
			Amount:       112500,
			Currency:     "usd",
			Status:       "requires_payment_method",
		})
	})

	intent, err := c.CreateIntent(context.Background(), 1125.00, "usd")
	if err != nil {
		t.Fatalf("CreateIntent がエラーを返した: %v", err)
	}
	if intent.ClientSecret != "pi_1_secret" {
		t.Errorf("ClientSecret = %q, want pi_1_secret", intent.ClientSecret)
	}
	if gotIdempotencyKey == "" {
		t.Error("Idempotency-Key ヘッダーが付与されていない")
	}
}

func TestProcessorClient_CreateIntent_EmptySecretFails(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Intent{ID: "pi_1"})
	})

	_, err := c.CreateIntent(context.Background(), 100, "usd")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePaymentFailed {
		t.Errorf("err = %v, want PAYMENT_FAILED", err)
	}
}

func TestProcessorClient_Confirm(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents/pi_1/confirm" {
			t.Errorf("path = %s, want /v1/payment_intents/pi_1/confirm", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ConfirmResult{TransactionID: "pi_1", Status: "succeeded"})
	})

	result, err := c.Confirm(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("Confirm がエラーを返した: %v", err)
	}
	if result.TransactionID != "pi_1" {
		t.Errorf("TransactionID = %q, want pi_1", result.TransactionID)
	}
}

func TestProcessorClient_Confirm_NonSucceededFails(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ConfirmResult{TransactionID: "pi_1", Status: "requires_action"})
	})

	_, err := c.Confirm(context.Background(), "pi_1")
	if err == nil {
		t.Fatal("未確定の支払いがエラーにならなかった")
	}
}

func TestProcessorClient_ErrorStatusFails(t *testing.T) {
	c := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})

	_, err := c.CreateIntent(context.Background(), 100, "usd")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePaymentFailed {
		t.Errorf("err = %v, want PAYMENT_FAILED", err)
	}
}

func TestFreeTransactionID(t *testing.T) {
	id1 := FreeTransactionID()
	id2 := FreeTransactionID()

	if !strings.HasPrefix(id1, "COUPON_FULL_DISCOUNT_") {
		t.Errorf("id = %q, want COUPON_FULL_DISCOUNT_ 接頭辞", id1)
	}
	if id1 == id2 {
		t.Error("トランザクションIDが重複した")
	}
}
