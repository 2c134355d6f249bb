// Package guard はセッション必須の経路を保護するミドルウェアを提供する。
// セッション解決中・サインイン済み・未サインインの3状態を区別し、
// 未サインインはサインイン画面へリダイレクトして元の遷移先を記憶する。
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/buildia/internal/middleware"
	"github.com/hitoshi/buildia/internal/model"
)

// ReturnToCookie はサインイン後に復帰する遷移先を記憶するCookie名。
const ReturnToCookie = "return_to"

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
type contextKey string

var sessionContextKey = contextKey("session")

// SessionSource はセッションストアの読み取りインターフェース。
type SessionSource interface {
	Current() (*model.Session, bool)
}

// RoleSource は現在のセッションのロールを解決する。
type RoleSource interface {
	Resolve(ctx context.Context) (model.Role, error)
}

// Guard はセッション必須経路のミドルウェア群。
type Guard struct {
	sessions     SessionSource
	roles        RoleSource
	logger       *slog.Logger
	signInPath   string
	cookieSecure bool
}

// New はGuardを生成する。
func New(sessions SessionSource, roles RoleSource, logger *slog.Logger, signInPath string, cookieSecure bool) *Guard {
	return &Guard{
		sessions:     sessions,
		roles:        roles,
		logger:       logger,
		signInPath:   signInPath,
		cookieSecure: cookieSecure,
	}
}

// RequireSession はセッションの存在を要求するミドルウェアを返す。
// セッション解決中は503（Retry-After付き）、未サインインは
// サインイン画面へのリダイレクトと遷移先の記憶、サインイン済みは
// セッションをコンテキストに注入して後続へ渡す。
// プロバイダーが解決しない限り503が続く（タイムアウトは設けない）。
func (g *Guard) RequireSession() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, loading := g.sessions.Current()

			if loading {
				w.Header().Set("Retry-After", "1")
				middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewSessionPendingError())
				return
			}

			if sess == nil {
				g.rememberDestination(w, r)
				http.Redirect(w, r, g.signInPath, http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rememberDestination は元の遷移先をCookieに記憶する。
// サインイン成功後にConsumeReturnToで復元される。
func (g *Guard) rememberDestination(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ReturnToCookie,
		Value:    url.QueryEscape(target),
		Path:     "/",
		HttpOnly: true,
		Secure:   g.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	g.logger.Debug("未サインインのため遷移先を記憶しました",
		slog.String("path", target),
	)
}

// ConsumeReturnTo は記憶済みの遷移先を取り出してCookieを破棄する。
// 記憶がない、または外部サイトへのリダイレクトになりうる値の場合は
// fallbackを返す。
func (g *Guard) ConsumeReturnTo(w http.ResponseWriter, r *http.Request, fallback string) string {
	cookie, err := r.Cookie(ReturnToCookie)
	if err != nil || cookie.Value == "" {
		return fallback
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ReturnToCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	target, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return fallback
	}
	// オープンリダイレクト対策: サイト内のパスのみ許可
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return fallback
	}
	return target
}

// RequireRole は指定ロールを要求するミドルウェアを返す。
// RequireSessionの後段に配置する。ロールはUI参考値であり、
// 最終的な権限の強制はバックエンド側で行われる。
func (g *Guard) RequireRole(required model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := g.roles.Resolve(r.Context())
			if err != nil {
				middleware.WriteAPIError(w, err)
				return
			}
			if role != required {
				g.logger.Warn("ロール不足のためアクセスを拒否しました",
					slog.String("path", r.URL.Path),
					slog.String("role", string(role)),
					slog.String("required", string(required)),
				)
				middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenRoleError(required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// RequireSessionを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*model.Session)
	return sess, ok
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
