// Package session はアプリケーションスコープのセッションストアを提供する。
// IDプロバイダーのセッション変更通知を購読し、現在のセッションと
// ローディングフラグを保持する。グローバル変数ではなく、
// 依存として各コンポーネントに注入して使用する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/buildia/internal/identity"
	"github.com/hitoshi/buildia/internal/model"
)

// Snapshot はセッションストアの観測可能な状態。
type Snapshot struct {
	Session *model.Session
	Loading bool
}

// Store は現在のセッションを保持するアプリケーションスコープのストア。
// プロバイダーへの購読はアプリケーションのライフタイムで正確に1つだけ張り、
// Closeで解放する。各操作はプロバイダーへのパススルーで、
// 呼び出し中はローディングフラグを立てる。
type Store struct {
	provider identity.Provider
	logger   *slog.Logger

	mu       sync.RWMutex
	current  *model.Session
	loading  bool
	watchers []chan Snapshot

	expiryTimer *time.Timer

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewStore はStoreを生成する。購読はStartを呼ぶまで開始されない。
// セッションが解決するまでローディングフラグはtrue。
func NewStore(provider identity.Provider, logger *slog.Logger) *Store {
	return &Store{
		provider: provider,
		logger:   logger,
		loading:  true,
		done:     make(chan struct{}),
	}
}

// Start はプロバイダーの変更通知の購読を開始する。
// 購読はアプリケーションのライフタイムで正確に1つ。2回目以降の呼び出しはエラー。
func (s *Store) Start() error {
	var err error
	started := false
	s.startOnce.Do(func() {
		started = true
		go s.watchProvider()
	})
	if !started {
		err = fmt.Errorf("session store is already started")
	}
	return err
}

// Close は購読を解放する。複数回呼んでも安全。
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.expiryTimer != nil {
			s.expiryTimer.Stop()
			s.expiryTimer = nil
		}
		s.mu.Unlock()
	})
}

// watchProvider はプロバイダーの通知を消費し、ストアの状態へ反映する。
func (s *Store) watchProvider() {
	for {
		select {
		case <-s.done:
			return
		case sess := <-s.provider.Changes():
			s.apply(sess)
		}
	}
}

// apply は通知されたセッションでストアの状態を置き換え、
// ローディングフラグをクリアして監視者へ配信する。
func (s *Store) apply(sess *model.Session) {
	s.mu.Lock()
	s.current = sess
	s.loading = false
	s.scheduleExpiryLocked(sess)
	snapshot := Snapshot{Session: sess, Loading: false}
	watchers := make([]chan Snapshot, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	if sess != nil {
		s.logger.Info("session updated",
			slog.String("user_id", sess.ID),
			slog.String("email", sess.Email),
		)
	} else {
		s.logger.Info("session cleared")
	}

	for _, w := range watchers {
		// 監視者には常に最新スナップショットだけ届けばよい
		select {
		case w <- snapshot:
		default:
			select {
			case <-w:
			default:
			}
			select {
			case w <- snapshot:
			default:
			}
		}
	}
}

// scheduleExpiryLocked はトークンのexpクレームに基づいて
// プロバイダー側失効のセルフクリアを予約する。
// expが読めないトークンは失効管理をプロバイダーの通知に委ねる。
func (s *Store) scheduleExpiryLocked(sess *model.Session) {
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	if sess == nil || sess.Token == "" {
		return
	}

	claims := &jwt.RegisteredClaims{}
	// トークンの検証はバックエンドの責任。ここでは失効時刻の読み取りだけ行う。
	if _, _, err := jwt.NewParser().ParseUnverified(sess.Token, claims); err != nil {
		return
	}
	if claims.ExpiresAt == nil {
		return
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return
	}

	s.expiryTimer = time.AfterFunc(remaining, func() {
		select {
		case <-s.done:
			return
		default:
		}
		s.logger.Info("session expired", slog.String("email", sess.Email))
		s.apply(nil)
	})
}

// Current は現在のセッションとローディングフラグを返す。
func (s *Store) Current() (*model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.loading
}

// Token は現在のセッションのBearerトークンを返す。
// 第2戻り値はセッションが存在するかどうか。
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return "", false
	}
	return s.current.Token, true
}

// Watch はセッション変更のスナップショットを受け取るチャネルを返す。
// チャネルには常に最新のスナップショットが届く（中間状態は欠落しうる）。
func (s *Store) Watch() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}

// setLoading はローディングフラグを設定する。
func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

// SignIn はメールアドレスとパスワードでサインインする。
// 呼び出し中はローディングフラグを立てる。成功時のフラグ解除は
// プロバイダーの変更通知で行われ、失敗時はここで解除して
// プロバイダーのエラーをそのまま返す。
func (s *Store) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	s.setLoading(true)
	sess, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		s.setLoading(false)
		return nil, err
	}
	return sess, nil
}

// Register は新規アカウントを作成してサインインする。
func (s *Store) Register(ctx context.Context, email, password string) (*model.Session, error) {
	s.setLoading(true)
	sess, err := s.provider.Register(ctx, email, password)
	if err != nil {
		s.setLoading(false)
		return nil, err
	}
	return sess, nil
}

// SignInWithGoogle はOAuth認可コードでフェデレーテッドサインインする。
func (s *Store) SignInWithGoogle(ctx context.Context, code string) (*model.Session, error) {
	s.setLoading(true)
	sess, err := s.provider.SignInWithGoogle(ctx, code)
	if err != nil {
		s.setLoading(false)
		return nil, err
	}
	return sess, nil
}

// UpdateProfile は現在のセッションのプロフィールを更新する。
func (s *Store) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.Session, error) {
	token, ok := s.Token()
	if !ok {
		return nil, model.NewNoSessionError()
	}

	s.setLoading(true)
	sess, err := s.provider.UpdateProfile(ctx, token, update)
	if err != nil {
		s.setLoading(false)
		return nil, err
	}
	return sess, nil
}

// SignOut は現在のセッションを破棄する。
func (s *Store) SignOut(ctx context.Context) error {
	token, ok := s.Token()
	if !ok {
		// 未サインインでのサインアウトは何もしない
		return nil
	}

	s.setLoading(true)
	if err := s.provider.SignOut(ctx, token); err != nil {
		s.setLoading(false)
		return err
	}
	return nil
}
