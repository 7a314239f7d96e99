package stream

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// streamLimiter tracks concurrent streams per IP and globally.
type streamLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	total       int
	maxPerIP    int
	maxTotal    int
}

func newStreamLimiter(maxPerIP int) *streamLimiter {
	return &streamLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
		maxTotal:    1000, // Default global cap.
	}
}

// acquire registers a stream for ip. It returns false when the IP or the
// global limit has been reached.
func (l *streamLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal || l.connections[ip] >= l.maxPerIP {
		return false
	}
	l.connections[ip]++
	l.total++
	return true
}

func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connections[ip]--
	l.total--
	if l.connections[ip] <= 0 {
		delete(l.connections, ip)
	}
}

func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

// idleLimiterTTL is how long an unused per-IP bucket is kept.
const idleLimiterTTL = 10 * time.Minute

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// openLimiter is a per-IP token bucket on stream opens.
type openLimiter struct {
	mu        sync.Mutex
	ips       map[string]*ipBucket
	r         rate.Limit
	b         int
	lastSweep time.Time
	now       func() time.Time
}

func newOpenLimiter(r rate.Limit, b int) *openLimiter {
	return &openLimiter{
		ips: make(map[string]*ipBucket),
		r:   r,
		b:   b,
		now: time.Now,
	}
}

// allow reports whether ip may open a stream now, consuming a token if so.
func (l *openLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, bucket := range l.ips {
			if now.Sub(bucket.lastSeen) > idleLimiterTTL {
				delete(l.ips, k)
			}
		}
		l.lastSweep = now
	}

	bucket, ok := l.ips[ip]
	if !ok {
		bucket = &ipBucket{limiter: rate.NewLimiter(l.r, l.b)}
		l.ips[ip] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

func (l *openLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}
