package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// QuotaChecker はクライアント単位のリクエスト割当を判定する。
// Allowは許可可否と、拒否時に推奨する再試行までの待ち時間を返す。
type QuotaChecker interface {
	Allow(key string) (bool, time.Duration)
}

// AllowAll はすべてのリクエストを許可するQuotaChecker。
// レート制限が無効化されている場合に使用する（フェイルオープン）。
type AllowAll struct{}

// Allow は常に許可する。
func (AllowAll) Allow(string) (bool, time.Duration) {
	return true, 0
}

// clientHits はクライアントごとのリクエスト時刻列を保持する。
type clientHits struct {
	times []time.Time
}

// SlidingWindowChecker はスライディングウィンドウ方式のQuotaChecker。
// 直近window内のリクエスト数がlimitに達したクライアントを拒否する。
// 固定ウィンドウと異なり、ウィンドウ境界をまたいだバーストを許さない。
type SlidingWindowChecker struct {
	limit  int
	window time.Duration
	now    func() time.Time // テストで差し替える

	mu   sync.Mutex
	hits map[string]*clientHits

	stopCh chan struct{}
}

// NewSlidingWindowChecker はSlidingWindowCheckerを生成する。
// バックグラウンドで古いエントリのクリーンアップを開始する。
func NewSlidingWindowChecker(limit int, window time.Duration) *SlidingWindowChecker {
	c := &SlidingWindowChecker{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string]*clientHits),
		stopCh: make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (c *SlidingWindowChecker) Stop() {
	close(c.stopCh)
}

// Allow はクライアントキーに対するリクエストを判定し、許可なら記録する。
// 拒否時は最も古い記録がウィンドウから外れるまでの時間を返す。
func (c *SlidingWindowChecker) Allow(key string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-c.window)

	h, ok := c.hits[key]
	if !ok {
		h = &clientHits{}
		c.hits[key] = h
	}

	// ウィンドウ外の記録を捨てる
	kept := h.times[:0]
	for _, t := range h.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.times = kept

	if len(h.times) >= c.limit {
		retryAfter := h.times[0].Sub(cutoff)
		return false, retryAfter
	}

	h.times = append(h.times, now)
	return true, 0
}

// ClientCount は現在管理されているクライアントエントリ数を返す。
// テストおよびメトリクス用。
func (c *SlidingWindowChecker) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hits)
}

// cleanupLoop はバックグラウンドで空になったエントリを定期的にクリーンアップする。
func (c *SlidingWindowChecker) cleanupLoop() {
	ticker := time.NewTicker(c.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup はウィンドウ内の記録を持たないクライアントを削除する。
func (c *SlidingWindowChecker) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.window)
	for key, h := range c.hits {
		live := false
		for _, t := range h.times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(c.hits, key)
		}
	}
}

// NewRateLimitMiddleware はクライアント単位のレート制限ミドルウェアを返す。
// onRejectは拒否時に呼ばれる（メトリクス用、nil可）。
func NewRateLimitMiddleware(checker QuotaChecker, onReject func()) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)

			ok, retryAfter := checker.Allow(key)
			if !ok {
				writeRateLimitResponse(w, retryAfter)
				if onReject != nil {
					onReject()
				}
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("path", r.URL.Path),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey はレート制限のキーとなるクライアントIPを導出する。
// X-Forwarded-Forがあれば先頭の値を使い、なければ接続元アドレスを使う。
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "127.0.0.1"
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"error": "リクエストが多すぎます。しばらく待ってから再度お試しください。",
	})
}
