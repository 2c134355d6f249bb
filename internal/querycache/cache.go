// Package querycache はバックエンド読み取り結果のプロセス共有キャッシュを提供する。
// 同一キーの同時読み取りは1つのフェッチを共有し（重複排除）、
// エントリはステイルネスウィンドウ・フォーカス復帰・明示的な無効化で
// 再検証される。ミューテーションは登録済みのキー接頭辞を一括で無効化する。
package querycache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MetricsRecorder はキャッシュの動作を計測する。
type MetricsRecorder interface {
	IncCacheHit()
	IncCacheMiss()
	IncCacheDedup()
	IncCacheInvalidation()
}

// Options は読み取りごとのキャッシュポリシー。
type Options struct {
	// StaleFor はエントリを新鮮とみなす期間。
	StaleFor time.Duration
	// RefetchOnFocus はフォーカス復帰通知でエントリを再検証対象にする。
	RefetchOnFocus bool
	// Retries はフェッチ失敗時の自動リトライ回数。
	Retries int
}

// Fetcher はキャッシュミス時に実データを取得する。
type Fetcher func(ctx context.Context) (any, error)

// flight は進行中のフェッチ。同一キーの読み取りはこれを共有する。
type flight struct {
	done  chan struct{}
	gen   uint64
	value any
	err   error
}

// entry はキャッシュエントリ。
type entry struct {
	value          any
	err            error
	fetchedAt      time.Time
	stale          bool
	refetchOnFocus bool
	gen            uint64
	flight         *flight
}

// Cache はキー付きの読み取りキャッシュ。
type Cache struct {
	logger     *slog.Logger
	metrics    MetricsRecorder
	retryDelay time.Duration

	mu        sync.Mutex
	entries   map[string]*entry
	mutations map[string][]string
}

// New はCacheを生成する。metricsはnil可。
func New(logger *slog.Logger, metrics MetricsRecorder, retryDelay time.Duration) *Cache {
	return &Cache{
		logger:     logger,
		metrics:    metrics,
		retryDelay: retryDelay,
		entries:    make(map[string]*entry),
		mutations:  make(map[string][]string),
	}
}

// Read はキーに対応する値を返す。新鮮なエントリがあれば即座に返し、
// なければfetcherを起動する。同一キーの進行中フェッチがあれば
// 新たなフェッチは起こさず結果を共有する。
func (c *Cache) Read(ctx context.Context, key string, fetch Fetcher, opts Options) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.refetchOnFocus = opts.RefetchOnFocus

	// 進行中のフェッチがあれば結果を共有する
	if e.flight != nil {
		f := e.flight
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.IncCacheDedup()
		}
		return c.wait(ctx, f)
	}

	// 新鮮なエントリはそのまま返す
	if !e.fetchedAt.IsZero() && e.err == nil && !e.stale && time.Since(e.fetchedAt) < opts.StaleFor {
		value := e.value
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.IncCacheHit()
		}
		return value, nil
	}

	f := &flight{done: make(chan struct{}), gen: e.gen}
	e.flight = f
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncCacheMiss()
	}

	// 呼び出し元のキャンセルは共有フェッチを巻き込まない
	go c.run(context.WithoutCancel(ctx), key, f, fetch, opts)

	return c.wait(ctx, f)
}

// wait はフェッチの完了または呼び出し元のキャンセルを待つ。
func (c *Cache) wait(ctx context.Context, f *flight) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run はフェッチをリトライ付きで実行し、結果をエントリへ反映する。
// 最後に完了したフェッチの結果が勝つ。
func (c *Cache) run(ctx context.Context, key string, f *flight, fetch Fetcher, opts Options) {
	var value any
	var err error
	for attempt := 0; ; attempt++ {
		value, err = fetch(ctx)
		if err == nil || attempt >= opts.Retries {
			break
		}
		c.logger.Warn("フェッチに失敗したためリトライします",
			slog.String("key", key),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		time.Sleep(c.retryDelay)
	}

	f.value = value
	f.err = err

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.flight == f {
		e.flight = nil
		e.value = value
		e.err = err
		e.fetchedAt = time.Now()
		// フェッチ開始後に無効化されていたらステイルのままにする
		e.stale = e.gen != f.gen
	}
	c.mu.Unlock()

	close(f.done)
}

// Invalidate は接頭辞に一致するエントリをステイルにする。
// 進行中のフェッチはキャンセルせず、その結果の着地後も
// 次の読み取りで再フェッチされる。
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	n := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			e.stale = true
			e.gen++
			n++
		}
	}
	c.mu.Unlock()

	if n > 0 {
		if c.metrics != nil {
			c.metrics.IncCacheInvalidation()
		}
		c.logger.Debug("キャッシュを無効化しました",
			slog.String("prefix", prefix),
			slog.Int("entries", n),
		)
	}
}

// NotifyFocus はフォーカス復帰を通知し、再検証対象のエントリをステイルにする。
// 進行中のフェッチがあるエントリはその結果が十分新しいため対象外。
func (c *Cache) NotifyFocus() {
	c.mu.Lock()
	for _, e := range c.entries {
		if e.refetchOnFocus && e.flight == nil {
			e.stale = true
		}
	}
	c.mu.Unlock()
}

// RegisterMutation はミューテーション種別に対して無効化するキー接頭辞を登録する。
// 個々のミューテーション呼び出し地点に無効化を分散させず、ここに集約する。
func (c *Cache) RegisterMutation(kind string, prefixes ...string) {
	c.mu.Lock()
	c.mutations[kind] = append(c.mutations[kind], prefixes...)
	c.mu.Unlock()
}

// Mutate は書き込みを実行し、成功時に登録済みの接頭辞を無効化する。
// 無効化はfnの成功後にのみ行われる。書き込みは自動リトライしない。
func (c *Cache) Mutate(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	prefixes := make([]string, len(c.mutations[kind]))
	copy(prefixes, c.mutations[kind])
	c.mu.Unlock()

	for _, prefix := range prefixes {
		c.Invalidate(prefix)
	}
	return nil
}

// ReadAs はReadの型付きラッパー。
func ReadAs[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error), opts Options) (T, error) {
	value, err := c.Read(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, nil
	}
	return typed, nil
}
