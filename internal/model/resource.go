package model

import "time"

// Apartment はバックエンドが所有する物件リソース。
// クライアント側では表示用のフィールドをそのまま保持する。
type Apartment struct {
	ID          string  `json:"_id"`
	ApartmentNo string  `json:"ApartmentNo"`
	FloorNo     int     `json:"FloorNo"`
	BlockName   string  `json:"BlockName"`
	Rent        float64 `json:"Rent"`
	ImageURL    string  `json:"image"`
	Available   bool    `json:"available"`
}

// ApartmentPage は物件一覧のページングレスポンス。
type ApartmentPage struct {
	Apartments []Apartment `json:"apartments"`
	Count      int         `json:"count"`
}

// AgreementStatus は入居申し込みの状態。
type AgreementStatus string

const (
	// AgreementPending は申し込み済み・承認待ち。
	AgreementPending AgreementStatus = "pending"
	// AgreementAccepted は承認済み。
	AgreementAccepted AgreementStatus = "accepted"
	// AgreementRejected は却下。
	AgreementRejected AgreementStatus = "rejected"
)

// Agreement は入居申し込み（契約）リソース。
type Agreement struct {
	ID           string          `json:"_id"`
	ApartmentID  string          `json:"apartmentId"`
	ApartmentNo  string          `json:"ApartmentNo"`
	FloorNo      int             `json:"FloorNo"`
	BlockName    string          `json:"BlockName"`
	Rent         float64         `json:"Rent"`
	UserName     string          `json:"userName"`
	UserEmail    string          `json:"userEmail"`
	Status       AgreementStatus `json:"status"`
	AcceptedDate *time.Time      `json:"acceptedDate,omitempty"`
}

// PaymentStatus は家賃支払いレコードの状態。
type PaymentStatus string

const (
	// PaymentPending は支払い手続き開始前。
	PaymentPending PaymentStatus = "pending"
	// PaymentPaid は決済完了。
	PaymentPaid PaymentStatus = "paid"
	// PaymentPaidByCoupon はクーポン全額割引による無償決済。
	PaymentPaidByCoupon PaymentStatus = "paid_by_coupon"
)

// Payment は家賃支払いレコード。
type Payment struct {
	ID                 string        `json:"_id"`
	UserEmail          string        `json:"userEmail"`
	ApartmentID        string        `json:"apartmentId"`
	ApartmentNo        string        `json:"apartmentNo"`
	FloorNo            int           `json:"floorNo"`
	BlockName          string        `json:"blockName"`
	RentAmount         float64       `json:"rentAmount"`
	PaidAmount         float64       `json:"paidAmount"`
	OriginalRentAmount float64       `json:"originalRentAmount"`
	Month              string        `json:"month"`
	Year               int           `json:"year"`
	PaymentDate        time.Time     `json:"paymentDate"`
	PaymentStatus      PaymentStatus `json:"paymentStatus"`
	TransactionID      string        `json:"transactionId,omitempty"`
	CouponCode         string        `json:"couponCode,omitempty"`
	DiscountAmount     float64       `json:"discountAmount,omitempty"`
}

// Coupon はクーポンリソース。
type Coupon struct {
	ID                 string    `json:"_id"`
	Code               string    `json:"couponCode"`
	DiscountPercentage float64   `json:"discountPercentage"`
	Description        string    `json:"description"`
	ValidUntil         time.Time `json:"validUntil"`
	IsActive           bool      `json:"isActive"`
}

// Announcement はお知らせリソース。
// Descriptionは保存前にサニタイズ済みのHTML、Excerptは一覧表示用のプレーンテキスト。
type Announcement struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Excerpt     string    `json:"excerpt,omitempty"`
	SenderEmail string    `json:"senderEmail"`
	SenderName  string    `json:"senderName"`
	Timestamp   time.Time `json:"timestamp"`
}

// DashboardStats は管理者ダッシュボードの集計値。
type DashboardStats struct {
	TotalRooms       int `json:"totalRooms"`
	AvailableRooms   int `json:"availableRooms"`
	UnavailableRooms int `json:"unavailableRooms"`
	TotalUsers       int `json:"totalUsers"`
	TotalMembers     int `json:"totalMembers"`
}

// BackendUser はバックエンドのユーザーレコード。
type BackendUser struct {
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Image        string    `json:"image,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastLoggedIn time.Time `json:"lastLoggedIn"`
}
