package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"reward-bot/internal/repository"
)

const pingTimeout = 2 * time.Second

type handler struct {
	deps Dependencies
}

func (h *handler) healthz(c *gin.Context) {
	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := h.deps.DB.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Msg("health check db ping")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "down"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) presence(c *gin.Context) {
	ids := h.deps.Presence.OnlineUserIDs()
	c.JSON(http.StatusOK, gin.H{
		"online_users": ids,
		"users":        len(ids),
		"connections":  h.deps.Presence.OnlineCount(),
		"sessions":     h.deps.Sessions.ActiveSessions(),
	})
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

type sessionDTO struct {
	ConversationID    int64     `json:"conversation_id"`
	StartedAt         time.Time `json:"started_at"`
	LastActivity      time.Time `json:"last_activity"`
	ElapsedMinutes    int64     `json:"elapsed_minutes"`
	TotalPointsEarned int64     `json:"total_points_earned"`
}

type premiumDTO struct {
	Active                bool      `json:"active"`
	ExpiresAt             time.Time `json:"expires_at"`
	TotalChatPointsEarned int64     `json:"total_chat_points_earned"`
}

type statusDTO struct {
	UserID     int64       `json:"user_id"`
	Username   string      `json:"username"`
	Points     int64       `json:"points"`
	Online     bool        `json:"online"`
	LastActive *time.Time  `json:"last_active,omitempty"`
	Verified   bool        `json:"verified"`
	Premium    *premiumDTO `json:"premium,omitempty"`
	Session    *sessionDTO `json:"session,omitempty"`
}

func (h *handler) userStatus(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, err := h.deps.Accounts.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Int64("user_id", id).Msg("status get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	out := statusDTO{
		UserID:   user.TelegramID,
		Username: user.Username,
		Points:   user.Points,
		Online:   h.deps.Presence.IsOnline(id),
	}
	if at, ok := h.deps.Presence.LastActive(id); ok {
		out.LastActive = &at
	}

	m, err := h.deps.Memberships.Membership(ctx, id)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", id).Msg("status get membership")
	}
	out.Verified = h.deps.Memberships.IsVerified(ctx, id)
	if m != nil {
		out.Premium = &premiumDTO{
			Active:                h.deps.Memberships.IsPremium(ctx, id),
			ExpiresAt:             m.ExpiresAt,
			TotalChatPointsEarned: m.TotalChatPointsEarned,
		}
	}

	if s, ok := h.deps.Sessions.Snapshot(id); ok {
		out.Session = &sessionDTO{
			ConversationID:    s.ConversationID,
			StartedAt:         s.StartedAt,
			LastActivity:      s.LastActivity,
			ElapsedMinutes:    s.ElapsedMinutes,
			TotalPointsEarned: s.TotalPointsEarned,
		}
	}

	c.JSON(http.StatusOK, out)
}

func (h *handler) spinStatus(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	status := h.deps.Spins.Status(c.Request.Context(), id)
	resp := gin.H{
		"can_spin":     status.CanSpin,
		"next_spin_at": status.NextSpinAt,
	}
	if r := status.TodayRecord; r != nil {
		resp["today"] = gin.H{
			"spin_date":  r.SpinDate,
			"points_won": r.PointsWon,
			"created_at": r.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, resp)
}
