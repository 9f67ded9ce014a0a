package gateway

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// authFailBurst failed attempts are tolerated before an address is
	// refused. One more attempt is earned every authFailRefill.
	authFailBurst  = 10
	authFailRefill = 30 * time.Second

	authFailMaxHosts = 10000
)

// failedAuthLimiter keeps a token bucket per remote host. Only failures
// spend tokens; a host with an empty bucket is refused even with a valid
// token.
type failedAuthLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

func newFailedAuthLimiter() *failedAuthLimiter {
	return &failedAuthLimiter{
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

func (l *failedAuthLimiter) allow(remoteAddr string) bool {
	host := remoteHost(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok {
		return true
	}
	tokens := b.TokensAt(l.now())
	if tokens >= authFailBurst {
		delete(l.buckets, host)
		return true
	}
	return tokens >= 1
}

func (l *failedAuthLimiter) recordFailure(remoteAddr string) {
	host := remoteHost(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[host]
	if !ok {
		if len(l.buckets) >= authFailMaxHosts {
			l.sweep(now)
		}
		b = rate.NewLimiter(rate.Every(authFailRefill), authFailBurst)
		l.buckets[host] = b
	}
	b.AllowN(now, 1)
}

// sweep drops refilled buckets. When none has refilled, the fullest one
// goes so the map stays bounded.
func (l *failedAuthLimiter) sweep(now time.Time) {
	fullest, most := "", -1.0
	for host, b := range l.buckets {
		tokens := b.TokensAt(now)
		if tokens >= authFailBurst {
			delete(l.buckets, host)
			continue
		}
		if tokens > most {
			fullest, most = host, tokens
		}
	}
	if len(l.buckets) >= authFailMaxHosts && fullest != "" {
		delete(l.buckets, fullest)
	}
}

func (l *failedAuthLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
