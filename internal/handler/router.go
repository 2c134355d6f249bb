package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/guard"
	"github.com/hitoshi/buildia/internal/identity"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/payment"
	"github.com/hitoshi/buildia/internal/querycache"
	"github.com/hitoshi/buildia/internal/security"
	"github.com/hitoshi/buildia/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusObserver    middleware.StatusObserver
	MetricsHandler    http.Handler

	// セッション・認可
	Store *session.Store
	Guard *guard.Guard
	Roles guard.RoleSource

	// バックエンド・キャッシュ
	Backend *api.Client
	Secure  *api.SecureClient
	Cache   *querycache.Cache

	// 認証
	OAuth      *identity.GoogleOAuthExchanger
	PhotoGuard security.PhotoURLGuard
	AuthConfig AuthHandlerConfig

	// 決済
	Processor     payment.Processor
	PaymentConfig PaymentHandlerConfig

	// お知らせ
	Sanitizer security.AnnouncementSanitizer

	StaleFor     time.Duration
	CookieSecure bool
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS
//
// 認証・物件一覧・テーマなどの公開ルートはセッションガードの外に置き、
// それ以外は RequireSession と一般レート制限の配下に置く。
// 管理ルートはさらに RequireRole(admin) を重ねる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// ミューテーションごとのキャッシュ無効化対応を登録
	RegisterInvalidations(deps.Cache)

	authHandler := NewAuthHandler(deps.Store, deps.Guard, deps.Roles, deps.Backend, deps.Cache, deps.OAuth, deps.PhotoGuard, deps.AuthConfig, deps.Logger)
	apartmentHandler := NewApartmentHandler(deps.Backend, deps.Cache, deps.StaleFor)
	bookingHandler := NewBookingHandler(deps.Secure, deps.Cache, deps.StaleFor)
	paymentHandler := NewPaymentHandler(deps.Secure, deps.Cache, deps.Processor, deps.PaymentConfig)
	announcementHandler := NewAnnouncementHandler(deps.Secure, deps.Cache, deps.StaleFor)
	adminHandler := NewAdminHandler(deps.Secure, deps.Cache, deps.Sanitizer, deps.StaleFor)
	couponHandler := NewCouponHandler(deps.Backend, deps.Cache, deps.StaleFor)
	themeHandler := NewThemeHandler(deps.CookieSecure)

	// --- 公開ルート ---

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Get("/google/login", authHandler.GoogleLogin)
		r.Get("/google/callback", authHandler.GoogleCallback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// 物件一覧と有効クーポンはサインイン前でも閲覧できる
	r.Get("/api/apartments", apartmentHandler.List)
	r.Get("/api/coupons", couponHandler.ListActive)

	r.Route("/api/theme", func(r chi.Router) {
		r.Get("/", themeHandler.Get)
		r.Put("/", themeHandler.Put)
	})

	// フォーカス復帰通知（セッション有無に関わらず受け付ける）
	r.Post("/api/session/focus", authHandler.Focus)

	// --- セッションが必要なルート ---
	// ミドルウェアスタック: RequireSession → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.Guard.RequireSession())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/auth/role", authHandler.Role)
		r.Patch("/api/auth/profile", authHandler.UpdateProfile)

		// 入居申し込み
		r.Route("/api/bookings", func(r chi.Router) {
			r.Post("/", bookingHandler.Apply)
			r.Get("/mine", bookingHandler.Mine)
		})

		// 家賃支払い（作成・確定は決済専用レート制限を追加）
		r.Route("/api/payments", func(r chi.Router) {
			r.Get("/", paymentHandler.History)
			r.Get("/chart", paymentHandler.Chart)
			r.With(deps.RateLimiter.PaymentMiddleware()).Post("/intent", paymentHandler.CreateIntent)
			r.With(deps.RateLimiter.PaymentMiddleware()).Post("/confirm", paymentHandler.Confirm)
		})

		// クーポン検証（決済前のプレビュー）
		r.Post("/api/coupons/validate", couponHandler.Validate)

		// お知らせ
		r.Get("/api/announcements", announcementHandler.List)

		// --- 管理者専用ルート ---
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(deps.Guard.RequireRole(model.RoleAdmin))

			r.Get("/stats", adminHandler.Dashboard)
			r.Get("/stats/payments", adminHandler.PaymentChart)

			r.Route("/bookings", func(r chi.Router) {
				r.Get("/pending", adminHandler.PendingBookings)
				r.Patch("/decide", adminHandler.DecideBooking)
			})

			r.Route("/members", func(r chi.Router) {
				r.Get("/", adminHandler.Members)
				r.Delete("/{email}", adminHandler.DemoteMember)
			})

			r.Route("/coupons", func(r chi.Router) {
				r.Get("/", adminHandler.Coupons)
				r.Post("/", adminHandler.CreateCoupon)
				r.Patch("/{id}/availability", adminHandler.UpdateCouponAvailability)
			})

			r.Post("/announcements", adminHandler.CreateAnnouncement)
		})
	})

	return r
}
