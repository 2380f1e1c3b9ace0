package middleware

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"jms/internal/config"
	"jms/internal/database"
	"jms/internal/logger"
	"jms/internal/models"
)

// Context keys set by the middleware.
const (
	UserKey      = "user"
	RequestIDKey = "request_id"
)

type rateLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one token bucket per client IP.
type limiterSet struct {
	mu      sync.Mutex
	clients map[string]*rateLimiter
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

func newLimiterSet(limit rate.Limit, burst int, idle time.Duration) *limiterSet {
	return &limiterSet{
		clients: make(map[string]*rateLimiter),
		limit:   limit,
		burst:   burst,
		idle:    idle,
	}
}

func (s *limiterSet) allow(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	client, exists := s.clients[ip]
	if !exists {
		client = &rateLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[ip] = client
	}
	client.lastSeen = now

	for other, c := range s.clients {
		if now.Sub(c.lastSeen) > s.idle {
			delete(s.clients, other)
		}
	}
	return client.limiter.Allow()
}

func limitWith(cfg *config.Config, set *limiterSet, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip rate limiting in development mode
		if cfg.IsDevelopment() {
			c.Next()
			return
		}

		if !set.allow(c.ClientIP()) {
			logger.Warn("Rate limit exceeded", "ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": message})
			return
		}
		c.Next()
	}
}

// RateLimit applies the configured per-client request rate.
func RateLimit(cfg *config.Config) gin.HandlerFunc {
	return limitWith(cfg, newLimiterSet(rate.Limit(cfg.RateLimit), cfg.RateBurst, 10*time.Minute), "Rate limit exceeded")
}

// AuthRateLimit guards password and master key endpoints: five attempts,
// then one per minute.
func AuthRateLimit(cfg *config.Config) gin.HandlerFunc {
	return limitWith(cfg, newLimiterSet(rate.Every(time.Minute), 5, 30*time.Minute), "Authentication rate limit exceeded")
}

func CORS(allowedOrigins string) gin.HandlerFunc {
	origins := strings.Split(allowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, allowedOrigin := range origins {
			if origin != "" && origin == allowedOrigin {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				break
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func SecurityHeaders(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		if !cfg.IsDevelopment() {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// RequestID tags each request so log lines can be correlated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func LogRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
			"request_id", c.GetString(RequestIDKey),
		}
		if user := CurrentUser(c); user != nil {
			kv = append(kv, "user", user.Username)
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request failed", kv...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("Request rejected", kv...)
		default:
			logger.Info("Request handled", kv...)
		}
	}
}

// BasicAuth verifies HTTP basic credentials against the users table.
func BasicAuth(store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="jms"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		user, err := store.VerifyUser(c.Request.Context(), username, password)
		if err != nil {
			if !errors.Is(err, database.ErrUnauthorized) {
				logger.Error("Failed to verify credentials", "username", username, "error", err)
			}
			c.Header("WWW-Authenticate", `Basic realm="jms"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

// AdminRequired must run after BasicAuth.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !user.IsAdmin() {
			logger.Warn("Admin access denied", "username", user.Username, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *models.User {
	v, exists := c.Get(UserKey)
	if !exists {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
