// Package identity はリモートIDプロバイダーとの連携を提供する。
// 認証情報サインイン、フェデレーテッドサインイン、登録、サインアウト、
// プロフィール更新と、セッション変更のプッシュ通知を含む。
package identity

import (
	"context"

	"github.com/hitoshi/buildia/internal/model"
)

// Provider はIDプロバイダーのインターフェース。
// セッションの所有者はプロバイダーであり、アプリケーションは
// Changes経由で届くセッションの読み取り専用コピーだけを保持する。
type Provider interface {
	// SignIn はメールアドレスとパスワードでサインインする。
	// 失敗時はプロバイダーが返したメッセージをそのまま含むエラーを返す。
	SignIn(ctx context.Context, email, password string) (*model.Session, error)

	// Register は新規アカウントを作成し、そのままサインインする。
	Register(ctx context.Context, email, password string) (*model.Session, error)

	// SignInWithGoogle はOAuth認可コードを使ってフェデレーテッドサインインする。
	SignInWithGoogle(ctx context.Context, code string) (*model.Session, error)

	// SignOut は現在のセッションを破棄する。
	SignOut(ctx context.Context, token string) error

	// UpdateProfile はプロフィールを更新し、置き換え後のセッションを返す。
	UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.Session, error)

	// Changes はセッション変更通知のチャネルを返す。
	// サインイン・登録・プロフィール更新時は新しいセッション、
	// サインアウト時はnilが届く。購読開始直後に現在値（未サインインならnil）が1回届く。
	Changes() <-chan *model.Session
}
