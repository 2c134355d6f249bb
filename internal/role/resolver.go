// Package role は現在のセッションの認可ロールを解決する。
// ロールはUI表示のための参考値であり、権限の強制は
// バックエンド側の責任とする。
package role

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/hitoshi/buildia/internal/model"
	"github.com/hitoshi/buildia/internal/querycache"
)

// backendClient はロール解決に必要なバックエンド操作。
type backendClient interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// sessionSource はセッションストアの読み取りインターフェース。
type sessionSource interface {
	Current() (*model.Session, bool)
}

// Resolver はメールアドレスからロールを解決し、キャッシュする。
type Resolver struct {
	backend  backendClient
	sessions sessionSource
	cache    *querycache.Cache
	logger   *slog.Logger
	staleFor time.Duration
}

// NewResolver はResolverを生成する。
func NewResolver(backend backendClient, sessions sessionSource, cache *querycache.Cache, logger *slog.Logger, staleFor time.Duration) *Resolver {
	return &Resolver{
		backend:  backend,
		sessions: sessions,
		cache:    cache,
		logger:   logger,
		staleFor: staleFor,
	}
}

// roleResponse はロール照会エンドポイントのレスポンス。
type roleResponse struct {
	Role string `json:"role"`
}

// Resolve は現在のセッションのロールを返す。
// セッション解決中はSESSION_PENDING、未サインインはNO_SESSIONを返し、
// どちらの場合もネットワークへは一切アクセスしない。
// ロール記録が存在しないユーザーは"user"として扱う。
func (r *Resolver) Resolve(ctx context.Context) (model.Role, error) {
	sess, loading := r.sessions.Current()
	if loading {
		return "", model.NewSessionPendingError()
	}
	if sess == nil {
		return "", model.NewNoSessionError()
	}
	return r.ResolveEmail(ctx, sess.Email)
}

// ResolveEmail は指定メールアドレスのロールを解決する。
func (r *Resolver) ResolveEmail(ctx context.Context, email string) (model.Role, error) {
	return querycache.ReadAs(ctx, r.cache, "role/"+email, func(ctx context.Context) (model.Role, error) {
		return r.fetch(ctx, email)
	}, querycache.Options{
		StaleFor:       r.staleFor,
		RefetchOnFocus: true,
		Retries:        1,
	})
}

// fetch はバックエンドにロールを照会する。
func (r *Resolver) fetch(ctx context.Context, email string) (model.Role, error) {
	var resp roleResponse
	err := r.backend.GetJSON(ctx, "/users/role/"+url.PathEscape(email), &resp)
	if model.IsNotFound(err) {
		// ロール記録のないユーザーは一般ユーザーとして扱う
		r.logger.Debug("ロール記録が存在しないため user として扱います",
			slog.String("email", email),
		)
		return model.RoleUser, nil
	}
	if err != nil {
		return "", err
	}
	return model.ParseRole(resp.Role), nil
}
