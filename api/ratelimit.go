package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	visitorTTL      = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ownerLimiter 以使用者為單位的 token bucket，長時間沒有請求的使用者會被清除
type ownerLimiter struct {
	limit      rate.Limit
	burst      int
	visitors   map[string]*visitor
	mu         sync.Mutex
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

func newOwnerLimiter(config RateLimitConfig) *ownerLimiter {
	if config.RequestsPerSecond <= 0 {
		return nil
	}
	burst := config.Burst
	if burst <= 0 {
		burst = int(config.RequestsPerSecond) + 1
	}
	return &ownerLimiter{
		limit:    rate.Limit(config.RequestsPerSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (l *ownerLimiter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelFunc = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.evict(time.Now())
			}
		}
	}()
}

func (l *ownerLimiter) Close() {
	if l.cancelFunc == nil {
		return
	}
	l.cancelFunc()
	l.wg.Wait()
}

func (l *ownerLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for owner, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, owner)
		}
	}
}

func (l *ownerLimiter) allow(owner string) bool {
	l.mu.Lock()
	v, ok := l.visitors[owner]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[owner] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

func (l *ownerLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(ownerID(c)) {
			abort(c, http.StatusTooManyRequests, "Too many requests. Please wait a moment.")
			return
		}
		c.Next()
	}
}
