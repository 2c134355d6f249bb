package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/guard"
	"github.com/hitoshi/buildia/internal/identity"
	"github.com/hitoshi/buildia/internal/metrics"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/payment"
	"github.com/hitoshi/buildia/internal/querycache"
	"github.com/hitoshi/buildia/internal/role"
	"github.com/hitoshi/buildia/internal/security"
	"github.com/hitoshi/buildia/internal/session"
)

// fakeProvider はテスト用のIDプロバイダー。
// サインイン操作の成功時は実プロバイダーと同様に変更通知を配信する。
type fakeProvider struct {
	mu        sync.Mutex
	changes   chan *model.Session
	last      *model.Session
	signInErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{changes: make(chan *model.Session, 8)}
}

func (p *fakeProvider) push(sess *model.Session) {
	p.mu.Lock()
	p.last = sess
	p.mu.Unlock()
	p.changes <- sess
}

func (p *fakeProvider) sessionFor(email string) *model.Session {
	return &model.Session{
		ID:          "uid-" + email,
		DisplayName: strings.SplitN(email, "@", 2)[0],
		Email:       email,
		Token:       "token-" + email,
	}
}

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	sess := p.sessionFor(email)
	p.push(sess)
	return sess, nil
}

func (p *fakeProvider) Register(ctx context.Context, email, password string) (*model.Session, error) {
	return p.SignIn(ctx, email, password)
}

func (p *fakeProvider) SignInWithGoogle(ctx context.Context, code string) (*model.Session, error) {
	return p.SignIn(ctx, code+"@example.com", "")
}

func (p *fakeProvider) SignOut(ctx context.Context, token string) error {
	p.push(nil)
	return nil
}

func (p *fakeProvider) UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.Session, error) {
	p.mu.Lock()
	current := p.last
	p.mu.Unlock()
	if current == nil {
		return nil, errors.New("no session")
	}

	updated := *current
	if update.DisplayName != nil {
		updated.DisplayName = *update.DisplayName
	}
	if update.PhotoURL != nil {
		updated.PhotoURL = *update.PhotoURL
	}
	p.push(&updated)
	return &updated, nil
}

func (p *fakeProvider) Changes() <-chan *model.Session {
	return p.changes
}

// fakeProcessor はテスト用の決済プロセッサー。呼び出し回数を記録する。
type fakeProcessor struct {
	mu       sync.Mutex
	intents  int
	confirms int
}

func (p *fakeProcessor) CreateIntent(ctx context.Context, amount float64, currency string) (*payment.Intent, error) {
	p.mu.Lock()
	p.intents++
	p.mu.Unlock()
	return &payment.Intent{
		ID:           "pi_test",
		ClientSecret: "cs_test",
		Amount:       int64(amount * 100),
		Currency:     currency,
		Status:       "requires_confirmation",
	}, nil
}

func (p *fakeProcessor) Confirm(ctx context.Context, intentID string) (*payment.ConfirmResult, error) {
	p.mu.Lock()
	p.confirms++
	p.mu.Unlock()
	return &payment.ConfirmResult{TransactionID: intentID, Status: "succeeded"}, nil
}

func (p *fakeProcessor) intentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intents
}

// fakeBackend はテスト用のリソースバックエンド。
// インメモリの状態に対して実バックエンドと同じエンドポイントを提供する。
type fakeBackend struct {
	mu            sync.Mutex
	users         map[string]*model.BackendUser
	agreements    map[string]*model.Agreement
	coupons       []model.Coupon
	payments      []model.Payment
	announcements []model.Announcement
	apartments    []model.Apartment
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:      make(map[string]*model.BackendUser),
		agreements: make(map[string]*model.Agreement),
	}
}

func (b *fakeBackend) setUser(email, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[email] = &model.BackendUser{Name: email, Email: email, Role: role}
}

func (b *fakeBackend) setAgreement(a model.Agreement) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := a
	b.agreements[a.UserEmail] = &copied
}

func (b *fakeBackend) addCoupon(c model.Coupon) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.coupons = append(b.coupons, c)
}

func (b *fakeBackend) recordedPayments() []model.Payment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Payment, len(b.payments))
	copy(out, b.payments)
	return out
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	writeBody := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		if _, exists := b.users[req.Email]; exists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		b.users[req.Email] = &model.BackendUser{Name: req.Name, Email: req.Email, Role: req.Role}
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("GET /users/role/{email}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		u, ok := b.users[r.PathValue("email")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeBody(w, map[string]string{"role": u.Role})
	})

	mux.HandleFunc("GET /usersFilter", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		users := make([]model.BackendUser, 0, len(b.users))
		for _, u := range b.users {
			users = append(users, *u)
		}
		writeBody(w, users)
	})

	mux.HandleFunc("PATCH /users/update-role/{email}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role string `json:"role"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		u, ok := b.users[r.PathValue("email")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		u.Role = req.Role
		writeBody(w, u)
	})

	mux.HandleFunc("PATCH /addUserData", func(w http.ResponseWriter, r *http.Request) {
		var a model.Agreement
		json.NewDecoder(r.Body).Decode(&a)

		b.mu.Lock()
		defer b.mu.Unlock()
		if _, exists := b.agreements[a.UserEmail]; exists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		b.agreements[a.UserEmail] = &a
		writeBody(w, a)
	})

	mux.HandleFunc("GET /agreement/{email}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		a, ok := b.agreements[r.PathValue("email")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeBody(w, a)
	})

	mux.HandleFunc("GET /agreements", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		agreements := make([]model.Agreement, 0, len(b.agreements))
		for _, a := range b.agreements {
			agreements = append(agreements, *a)
		}
		writeBody(w, agreements)
	})

	mux.HandleFunc("PATCH /updateAgreementStatus", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status       model.AgreementStatus `json:"status"`
			AcceptedDate *time.Time            `json:"acceptedDate"`
			Role         string                `json:"role"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		email := r.URL.Query().Get("email")

		b.mu.Lock()
		defer b.mu.Unlock()
		a, ok := b.agreements[email]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		a.Status = req.Status
		a.AcceptedDate = req.AcceptedDate
		if req.Role != "" {
			if u, ok := b.users[email]; ok {
				u.Role = req.Role
			}
		}
		writeBody(w, a)
	})

	mux.HandleFunc("GET /coupons", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeBody(w, b.coupons)
	})

	mux.HandleFunc("GET /coupons/code/{code}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, c := range b.coupons {
			if c.Code == r.PathValue("code") {
				writeBody(w, c)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("POST /newCoupons", func(w http.ResponseWriter, r *http.Request) {
		var c model.Coupon
		json.NewDecoder(r.Body).Decode(&c)

		b.mu.Lock()
		defer b.mu.Unlock()
		c.ID = "coupon-" + c.Code
		b.coupons = append(b.coupons, c)
		w.WriteHeader(http.StatusCreated)
		writeBody(w, c)
	})

	mux.HandleFunc("PATCH /coupons/{id}/availability", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IsActive bool `json:"isActive"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		for i := range b.coupons {
			if b.coupons[i].ID == r.PathValue("id") {
				b.coupons[i].IsActive = req.IsActive
				writeBody(w, b.coupons[i])
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	mux.HandleFunc("GET /payments", func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")

		b.mu.Lock()
		defer b.mu.Unlock()
		payments := make([]model.Payment, 0, len(b.payments))
		for _, p := range b.payments {
			if email == "" || p.UserEmail == email {
				payments = append(payments, p)
			}
		}
		writeBody(w, payments)
	})

	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		var p model.Payment
		json.NewDecoder(r.Body).Decode(&p)

		b.mu.Lock()
		defer b.mu.Unlock()
		p.ID = "payment-" + p.Month
		b.payments = append(b.payments, p)
		w.WriteHeader(http.StatusCreated)
		writeBody(w, p)
	})

	mux.HandleFunc("GET /apartments", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeBody(w, model.ApartmentPage{Apartments: b.apartments, Count: len(b.apartments)})
	})

	mux.HandleFunc("GET /announcements", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeBody(w, b.announcements)
	})

	mux.HandleFunc("POST /announcements", func(w http.ResponseWriter, r *http.Request) {
		var a model.Announcement
		json.NewDecoder(r.Body).Decode(&a)

		b.mu.Lock()
		defer b.mu.Unlock()
		a.ID = "announcement-1"
		b.announcements = append(b.announcements, a)
		w.WriteHeader(http.StatusCreated)
		writeBody(w, a)
	})

	mux.HandleFunc("GET /admin/dashboard-stats", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, model.DashboardStats{
			TotalRooms:       10,
			AvailableRooms:   6,
			UnavailableRooms: 4,
			TotalUsers:       20,
			TotalMembers:     5,
		})
	})

	return mux
}

// testEnv はルーターを実コンポーネントで組み立てたテスト環境。
type testEnv struct {
	t         *testing.T
	backend   *fakeBackend
	provider  *fakeProvider
	store     *session.Store
	processor *fakeProcessor
	router    http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := newFakeBackend()
	backendSrv := httptest.NewServer(backend.handler())
	t.Cleanup(backendSrv.Close)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	client := api.NewClient(backendSrv.Client(), backendSrv.URL, logger, collector)

	provider := newFakeProvider()
	store := session.NewStore(provider, logger)
	if err := store.Start(); err != nil {
		t.Fatalf("store.Start() error = %v", err)
	}
	t.Cleanup(store.Close)

	secure := api.NewSecureClient(client, store)
	cache := querycache.New(logger, collector, time.Millisecond)
	resolver := role.NewResolver(secure, store, cache, logger, time.Minute)
	g := guard.New(store, resolver, logger, "/signin", false)

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), middleware.RemoteIPKey)
	t.Cleanup(rateLimiter.Stop)

	processor := &fakeProcessor{}

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rateLimiter,
		StatusObserver:    collector,
		MetricsHandler:    metrics.Handler(registry),
		Store:             store,
		Guard:             g,
		Roles:             resolver,
		Backend:           client,
		Secure:            secure,
		Cache:             cache,
		OAuth: identity.NewGoogleOAuthExchanger(identity.GoogleOAuthConfig{
			ClientID:    "test-client",
			RedirectURL: "http://localhost:8080/api/auth/google/callback",
		}),
		PhotoGuard: security.NewPhotoURLGuard(false, time.Second),
		AuthConfig: AuthHandlerConfig{BaseURL: "http://localhost:3000"},
		Processor:  processor,
		PaymentConfig: PaymentHandlerConfig{
			PublicKey: "pk_test",
			Currency:  "usd",
			StaleFor:  time.Minute,
		},
		Sanitizer: security.NewAnnouncementSanitizer(),
		StaleFor:  time.Minute,
	})

	return &testEnv{
		t:         t,
		backend:   backend,
		provider:  provider,
		store:     store,
		processor: processor,
		router:    router,
	}
}

// waitForSnapshot はストアの状態が条件を満たすまで待つ。
func (e *testEnv) waitForSnapshot(match func(sess *model.Session, loading bool) bool) {
	e.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if match(e.store.Current()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.t.Fatal("セッションストアが期待する状態になりませんでした")
}

// signIn は指定ユーザーでのサインイン済み状態を作る。
func (e *testEnv) signIn(email string) *model.Session {
	e.t.Helper()
	sess := e.provider.sessionFor(email)
	e.provider.push(sess)
	e.waitForSnapshot(func(s *model.Session, loading bool) bool {
		return !loading && s != nil && s.Email == email
	})
	return sess
}

// resolveAnonymous は未サインイン（解決済み）状態を作る。
func (e *testEnv) resolveAnonymous() {
	e.t.Helper()
	e.provider.push(nil)
	e.waitForSnapshot(func(s *model.Session, loading bool) bool {
		return !loading && s == nil
	})
}

// do はルーターにリクエストを送る。
func (e *testEnv) do(method, target string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decodeInto はレスポンスボディをデコードする。
func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}
