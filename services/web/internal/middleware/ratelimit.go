package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/TP-Master1-GL/TERRABIA/pkg/httputil"
	"github.com/TP-Master1-GL/TERRABIA/pkg/logger"
	pkgmiddleware "github.com/TP-Master1-GL/TERRABIA/pkg/middleware"
)

// MsgTooManyAttempts is shown when a client submits forms too quickly.
const MsgTooManyAttempts = "Trop de tentatives, réessayez dans quelques instants"

var rejectedAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "web_form_attempts_rejected_total",
		Help: "Form submissions rejected by the per-IP limiter.",
	},
	[]string{"path"},
)

func init() {
	prometheus.MustRegister(rejectedAttempts)
}

// client tracks the attempt limiter of one IP.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// attemptStore keeps per-IP limiters and forgets clients idle for ttl.
type attemptStore struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	nowFunc func() time.Time // injectable clock for testing
}

func newAttemptStore(perMinute, burst int, ttl time.Duration) *attemptStore {
	s := &attemptStore{
		clients: make(map[string]*client),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		ttl:     ttl,
		nowFunc: time.Now,
	}
	go s.cleanupLoop()
	return s
}

// limiter returns (or creates) the limiter of ip and marks it as seen.
func (s *attemptStore) limiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[ip] = c
	}
	c.lastSeen = s.nowFunc()
	return c.limiter
}

func (s *attemptStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for range ticker.C {
		s.cleanup()
	}
}

// cleanup evicts clients whose last attempt is older than the TTL.
func (s *attemptStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for ip, c := range s.clients {
		if now.Sub(c.lastSeen) > s.ttl {
			delete(s.clients, ip)
		}
	}
}

func (s *attemptStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// FormAttempts throttles state-changing submissions (login, register,
// password reset) per client IP with a token bucket refilled at perMinute.
// Forwarding headers are only honored from peers in trustedProxies.
// Safe methods pass through untouched. Rejected requests get 429 with a
// Retry-After hint.
func FormAttempts(perMinute, burst int, trustedProxies []string, log *slog.Logger) func(http.Handler) http.Handler {
	const cleanupInterval = 3 * time.Minute
	store := newAttemptStore(perMinute, burst, cleanupInterval)
	trusted := pkgmiddleware.ParseCIDRs(trustedProxies, log)

	retryAfter := "60"
	if perMinute > 0 {
		retryAfter = strconv.Itoa(max(1, 60/perMinute))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r, trusted)
			if !store.limiter(ip).Allow() {
				logger.WithContext(r.Context(), log).WarnContext(r.Context(), "form attempt rate limited",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				rejectedAttempts.WithLabelValues(r.URL.Path).Inc()
				w.Header().Set("Retry-After", retryAfter)
				httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:      "RATE_LIMITED",
						Message:   MsgTooManyAttempts,
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// clientIP returns the address a request came from. The peer address is used
// unless the peer is a trusted proxy, in which case X-Forwarded-For is read
// right to left and the first untrusted hop wins, then X-Real-IP.
func clientIP(r *http.Request, trusted []*net.IPNet) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !pkgmiddleware.ContainsIP(trusted, net.ParseIP(peer)) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				continue
			}
			if !pkgmiddleware.ContainsIP(trusted, ip) {
				return ip.String()
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}
	return peer
}
