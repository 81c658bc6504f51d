package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"flexiID/internal/api/middleware"
	"flexiID/internal/auth"
	"flexiID/internal/database"
)

// AuthHandler 处理登录与当前用户查询。
type AuthHandler struct {
	db          *gorm.DB
	authService *auth.AuthService
	limiter     *loginLimiter
	logger      *slog.Logger
	now         func() time.Time
}

// NewAuthHandler 构造认证处理器；limiter 为 nil 时不做限流。
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, limiter redisRateCounter, logger *slog.Logger, loginRateLimitPerHour int) *AuthHandler {
	return &AuthHandler{
		db:          db,
		authService: authService,
		limiter:     newLoginLimiter(limiter, loginRateLimitPerHour),
		logger:      logger,
		now:         time.Now,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login 校验邮箱口令并返回访问令牌。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	// Redis 不可用时放行。
	allowed, err := h.limiter.allow(ctx, loginRateKey(c.ClientIP(), email, h.now()))
	if err != nil {
		logger.Warn("login rate limiter unavailable", slog.Any("error", err))
	}
	if !allowed {
		TooManyRequests(c, "rate limit exceeded")
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.authService.CheckPasswordHash(req.Password, "")
			logger.Info("login failed: user not found")
			Unauthorized(c)
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		Unauthorized(c)
		return
	}

	token, err := h.authService.GenerateAccessToken(user.ID, user.Role)
	if err != nil {
		logger.Error("generate access token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("user logged in", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.authService.AccessTokenTTL().Seconds()),
	})
}

// Me 返回当前登录用户。
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Unauthorized(c)
			return
		}
		h.loggerFromContext(c).Error("load current user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  user.Role,
	})
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	logger := middleware.LoggerFromContext(c)
	if logger == slog.Default() && h.logger != nil {
		return h.logger
	}
	return logger
}
