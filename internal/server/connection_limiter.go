package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterIdleTTL       = 10 * time.Minute
	rateLimiterSweepInterval = 5 * time.Minute
)

// Limits configures admission control for new WebSocket connections.
// A zero field disables the corresponding check.
type Limits struct {
	MaxConnections      int
	MaxConnectionsPerIP int
	ConnectionRate      float64 // new connections per second per IP
	ConnectionBurst     int
}

// Enabled reports whether any limit is active.
func (l Limits) Enabled() bool {
	return l.MaxConnections > 0 || l.MaxConnectionsPerIP > 0 || l.ConnectionRate > 0
}

// GlobalConnectionLimiter limits total concurrent connections per instance.
type GlobalConnectionLimiter struct {
	current atomic.Int64
	max     int64
}

// NewGlobalConnectionLimiter creates a limiter with the specified maximum connections.
func NewGlobalConnectionLimiter(max int64) *GlobalConnectionLimiter {
	return &GlobalConnectionLimiter{max: max}
}

// Acquire attempts to acquire a connection slot.
func (l *GlobalConnectionLimiter) Acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release releases a connection slot.
func (l *GlobalConnectionLimiter) Release() {
	l.current.Add(-1)
}

// Current returns the current number of connections.
func (l *GlobalConnectionLimiter) Current() int64 {
	return l.current.Load()
}

// IPConnectionLimiter limits concurrent connections per IP address.
type IPConnectionLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

// NewIPConnectionLimiter creates a limiter with the specified per-IP maximum.
func NewIPConnectionLimiter(maxPer int) *IPConnectionLimiter {
	return &IPConnectionLimiter{
		ips:    make(map[string]int),
		maxPer: maxPer,
	}
}

// Acquire attempts to acquire a connection slot for the given IP.
func (l *IPConnectionLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

// Release releases a connection slot for the given IP.
func (l *IPConnectionLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

// Count returns the current connection count for the given IP.
func (l *IPConnectionLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

// ConnectionRateLimiter limits the rate of new connections per IP with a
// token bucket per address. Idle buckets are swept lazily.
type ConnectionRateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	nextSweep time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionRateLimiter creates a rate limiter allowing connectionsPerSecond
// sustained and burst immediate connections per IP.
func NewConnectionRateLimiter(clock clockwork.Clock, connectionsPerSecond float64, burst int) *ConnectionRateLimiter {
	return &ConnectionRateLimiter{
		clock:     clock,
		limiters:  make(map[string]*rateLimiterEntry),
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		nextSweep: clock.Now().Add(rateLimiterSweepInterval),
	}
}

// Allow reports whether a new connection from ip may proceed, consuming a token if so.
func (l *ConnectionRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.nextSweep) {
		l.sweep(now)
		l.nextSweep = now.Add(rateLimiterSweepInterval)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep must be called with mu held.
func (l *ConnectionRateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rateLimiterIdleTTL)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// ActiveLimiters returns the number of tracked IPs.
func (l *ConnectionRateLimiter) ActiveLimiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits combines the enabled limiters. Disabled limiters are nil.
type ConnectionLimits struct {
	global *GlobalConnectionLimiter
	perIP  *IPConnectionLimiter
	rate   *ConnectionRateLimiter
}

// NewConnectionLimits builds the limiters enabled in cfg.
func NewConnectionLimits(cfg Limits, clock clockwork.Clock) *ConnectionLimits {
	l := &ConnectionLimits{}
	if cfg.MaxConnections > 0 {
		l.global = NewGlobalConnectionLimiter(int64(cfg.MaxConnections))
	}
	if cfg.MaxConnectionsPerIP > 0 {
		l.perIP = NewIPConnectionLimiter(cfg.MaxConnectionsPerIP)
	}
	if cfg.ConnectionRate > 0 {
		l.rate = NewConnectionRateLimiter(clock, cfg.ConnectionRate, cfg.ConnectionBurst)
	}
	return l
}

// Acquire attempts to acquire every enabled limit for ip.
// On failure nothing stays acquired and the failing limit is reported.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if l.rate != nil && !l.rate.Allow(ip) {
		return false, LimitReasonRate
	}
	if l.global != nil && !l.global.Acquire() {
		return false, LimitReasonGlobal
	}
	if l.perIP != nil && !l.perIP.Acquire(ip) {
		if l.global != nil {
			l.global.Release()
		}
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release releases the slots taken by a successful Acquire for ip.
func (l *ConnectionLimits) Release(ip string) {
	if l.perIP != nil {
		l.perIP.Release(ip)
	}
	if l.global != nil {
		l.global.Release()
	}
}
