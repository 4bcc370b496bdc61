// Package httpapi serves health, metrics and read-only status endpoints over gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reward-bot/internal/metrics"
	"reward-bot/internal/model"
	"reward-bot/internal/pkg/ratelimit"
	"reward-bot/internal/service"
)

// Pinger checks database reachability. *db.Pool satisfies it.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Accounts reads user accounts.
type Accounts interface {
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
}

// Memberships reads premium memberships.
type Memberships interface {
	Membership(ctx context.Context, userID int64) (*model.PremiumMembership, error)
	IsPremium(ctx context.Context, userID int64) bool
	IsVerified(ctx context.Context, userID int64) bool
}

// Spins reads the daily spin state.
type Spins interface {
	Status(ctx context.Context, userID int64) service.SpinStatus
}

// Presence answers online questions.
type Presence interface {
	IsOnline(userID int64) bool
	LastActive(userID int64) (time.Time, bool)
	OnlineUserIDs() []int64
	OnlineCount() int
}

// Sessions exposes live chat reward sessions.
type Sessions interface {
	Snapshot(userID int64) (service.SessionSnapshot, bool)
	ActiveSessions() int
}

// Dependencies holds what the router reads from.
type Dependencies struct {
	DB          Pinger
	Accounts    Accounts
	Memberships Memberships
	Spins       Spins
	Presence    Presence
	Sessions    Sessions
	Limiter     *ratelimit.Keyed
}

// SetupRouter wires middleware, the ops endpoints and the /api/v1 status API.
func SetupRouter(deps Dependencies) *gin.Engine {
	h := &handler{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	if deps.Limiter != nil {
		r.Use(RateLimit(deps.Limiter))
	}

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.GET("/presence", h.presence)
	api.GET("/users/:id/status", h.userStatus)
	api.GET("/users/:id/spin", h.spinStatus)

	return r
}

// RateLimit rejects requests over the per client+route budget with 429.
func RateLimit(limiter *ratelimit.Keyed) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !limiter.Allow(c.ClientIP() + "|" + route) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
