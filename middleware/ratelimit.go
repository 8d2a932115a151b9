package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// RateLimiter is a token bucket per user and client IP. A full bucket holds
// capacity tokens and refills completely over one window.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	window   time.Duration
	capacity int
	now      func() time.Time
	swept    time.Time
}

func NewRateLimiter(window time.Duration, capacity int) *RateLimiter {
	if window <= 0 {
		window = 10 * time.Second
	}
	if capacity <= 0 {
		capacity = 5
	}
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		window:   window,
		capacity: capacity,
		now:      time.Now,
	}
}

func clientIP(c *gin.Context) string {
	ip := strings.TrimSpace(c.ClientIP())
	if ip == "" {
		host, _, _ := net.SplitHostPort(strings.TrimSpace(c.Request.RemoteAddr))
		ip = host
	}
	return ip
}

// LimitKey is the rate limit key for the authenticated user of c.
func LimitKey(c *gin.Context) string {
	return CurrentUser(c) + "@" + clientIP(c)
}

// Allow takes one token for key.
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepNoLock(now)
	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		add := int(float64(l.capacity) * (float64(elapsed) / float64(l.window)))
		if add > 0 {
			b.tokens = min(b.tokens+add, l.capacity)
			b.lastRefill = now
		}
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// sweepNoLock drops buckets idle for a whole window. They would have refilled
// to capacity, which is what a new bucket starts with.
func (l *RateLimiter) sweepNoLock(now time.Time) {
	if now.Sub(l.swept) < l.window {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastRefill) >= l.window {
			delete(l.buckets, k)
		}
	}
	l.swept = now
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(LimitKey(c)) {
			c.Header("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"msg": "too many requests"})
			return
		}
		c.Next()
	}
}

// ConcurrencyGuard bounds how many requests one user may have in flight.
// A user's semaphore is dropped once nobody holds or waits for it.
type ConcurrencyGuard struct {
	mu    sync.Mutex
	limit int64
	sems  map[string]*userSem
}

type userSem struct {
	*semaphore.Weighted
	refs int
}

func NewConcurrencyGuard(limit int) *ConcurrencyGuard {
	if limit <= 0 {
		limit = 2
	}
	return &ConcurrencyGuard{limit: int64(limit), sems: make(map[string]*userSem)}
}

// Acquire blocks until uid has a free slot or ctx is done.
func (g *ConcurrencyGuard) Acquire(ctx context.Context, uid string) (release func(), err error) {
	g.mu.Lock()
	sem := g.sems[uid]
	if sem == nil {
		sem = &userSem{Weighted: semaphore.NewWeighted(g.limit)}
		g.sems[uid] = sem
	}
	sem.refs++
	g.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		g.unref(uid, sem)
		return nil, err
	}
	return func() {
		sem.Release(1)
		g.unref(uid, sem)
	}, nil
}

func (g *ConcurrencyGuard) unref(uid string, sem *userSem) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem.refs--
	if sem.refs == 0 {
		delete(g.sems, uid)
	}
}

func (g *ConcurrencyGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sems)
}

func (g *ConcurrencyGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		release, err := g.Acquire(c.Request.Context(), CurrentUser(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"msg": "request canceled while waiting", "retryable": true})
			return
		}
		defer release()
		c.Next()
	}
}
