package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/buildia/internal/api"
	"github.com/hitoshi/buildia/internal/guard"
	"github.com/hitoshi/buildia/internal/identity"
	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/querycache"
	"github.com/hitoshi/buildia/internal/security"
	"github.com/hitoshi/buildia/internal/session"
)

const oauthStateCookie = "oauth_state"

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieSecure bool
}

// AuthHandler はサインイン・登録・プロフィール関連のHTTPハンドラー。
type AuthHandler struct {
	store      *session.Store
	guard      *guard.Guard
	roles      guard.RoleSource
	backend    *api.Client
	cache      *querycache.Cache
	oauth      *identity.GoogleOAuthExchanger
	photoGuard security.PhotoURLGuard
	config     AuthHandlerConfig
	logger     *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(store *session.Store, g *guard.Guard, roles guard.RoleSource, backend *api.Client, cache *querycache.Cache, oauth *identity.GoogleOAuthExchanger, photoGuard security.PhotoURLGuard, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		store:      store,
		guard:      g,
		roles:      roles,
		backend:    backend,
		cache:      cache,
		oauth:      oauth,
		photoGuard: photoGuard,
		config:     config,
		logger:     logger,
	}
}

// credentialsRequest はサインイン・登録リクエストのボディ。
type credentialsRequest struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse はサインイン成功時のレスポンス。
type sessionResponse struct {
	Session    *model.Session `json:"session"`
	RedirectTo string         `json:"redirectTo"`
}

// Register は新規アカウントを作成してサインインする。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCredentialsError("email and password are required"))
		return
	}

	sess, err := h.store.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	// 表示名はプロバイダーへのプロフィール更新で反映する
	if req.Name != "" {
		if updated, err := h.store.UpdateProfile(r.Context(), model.ProfileUpdate{DisplayName: &req.Name}); err == nil {
			sess = updated
		} else {
			h.logger.Warn("登録直後の表示名設定に失敗しました",
				slog.String("email", req.Email),
				slog.String("error", err.Error()),
			)
		}
	}

	h.upsertUser(r.Context(), req.Name, req.Email)

	writeJSON(w, http.StatusCreated, sessionResponse{
		Session:    sess,
		RedirectTo: h.guard.ConsumeReturnTo(w, r, "/"),
	})
}

// Login はメールアドレスとパスワードでサインインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCredentialsError("email and password are required"))
		return
	}

	sess, err := h.store.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.upsertUser(r.Context(), sess.DisplayName, sess.Email)

	writeJSON(w, http.StatusOK, sessionResponse{
		Session:    sess,
		RedirectTo: h.guard.ConsumeReturnTo(w, r, "/"),
	})
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /api/auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.oauth.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		h.logger.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCredentialsError("invalid state parameter"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCredentialsError("missing authorization code"))
		return
	}

	// 3. フェデレーテッドサインイン
	sess, err := h.store.SignInWithGoogle(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback failed", slog.String("error", err.Error()))
		h.writeProviderError(w, err)
		return
	}

	h.upsertUser(r.Context(), sess.DisplayName, sess.Email)

	// 4. 記憶済みの遷移先へ戻す
	http.Redirect(w, r, h.config.BaseURL+h.guard.ConsumeReturnTo(w, r, "/"), http.StatusFound)
}

// Logout は現在のセッションを破棄する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SignOut(r.Context()); err != nil {
		h.writeProviderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッションを返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, loading := h.store.Current()
	if loading {
		w.Header().Set("Retry-After", "1")
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewSessionPendingError())
		return
	}
	if sess == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoSessionError())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Role は現在のセッションのロールを返す。
// GET /api/auth/role
func (h *AuthHandler) Role(w http.ResponseWriter, r *http.Request) {
	role, err := h.roles.Resolve(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]model.Role{"role": role})
}

// profileRequest はプロフィール更新リクエストのボディ。
type profileRequest struct {
	DisplayName *string `json:"displayName,omitempty"`
	PhotoURL    *string `json:"photoUrl,omitempty"`
}

// UpdateProfile は表示名・プロフィール画像URLを更新する。
// PATCH /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCredentialsError("invalid request body"))
		return
	}

	if req.PhotoURL != nil && *req.PhotoURL != "" {
		if err := h.photoGuard.Validate(r.Context(), *req.PhotoURL); err != nil {
			middleware.WriteAPIError(w, model.NewInvalidPhotoURLError(err.Error()))
			return
		}
	}

	sess, err := h.store.UpdateProfile(r.Context(), model.ProfileUpdate{
		DisplayName: req.DisplayName,
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		h.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Focus はウィンドウのフォーカス復帰を通知し、再検証対象の
// キャッシュエントリをステイルにする。
// POST /api/session/focus
func (h *AuthHandler) Focus(w http.ResponseWriter, r *http.Request) {
	h.cache.NotifyFocus()
	w.WriteHeader(http.StatusNoContent)
}

// upsertUser はバックエンドにユーザーレコードを登録する。
// 既存ユーザーの場合のコンフリクトは無視する（ロールは上書きしない）。
func (h *AuthHandler) upsertUser(ctx context.Context, name, email string) {
	err := h.cache.Mutate(ctx, mutationUserUpsert, func(ctx context.Context) error {
		return h.backend.PostJSON(ctx, "/users", map[string]string{
			"name":  name,
			"email": email,
			"role":  string(model.RoleUser),
		}, nil)
	})
	if err != nil && !model.IsConflict(err) {
		h.logger.Warn("ユーザーレコードの登録に失敗しました",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}
}

// writeProviderError はIDプロバイダーのエラーをフォーム表示用に変換する。
// プロバイダーのメッセージはそのまま含める。
func (h *AuthHandler) writeProviderError(w http.ResponseWriter, err error) {
	if provErr, ok := identity.AsProviderError(err); ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError(provErr.Message))
		return
	}
	middleware.WriteAPIError(w, err)
}

// generateState はOAuthのstateパラメータを生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
