package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"flexiID/internal/api/middleware"
	"flexiID/internal/database"
)

// StatsHandler 汇总首页统计。
type StatsHandler struct {
	db *gorm.DB
}

func NewStatsHandler(db *gorm.DB) *StatsHandler {
	return &StatsHandler{db: db}
}

type statsResponse struct {
	TotalEmployees  int64 `json:"total_employees"`
	CardsGenerated  int64 `json:"cards_generated"`
	TemplatesActive int64 `json:"templates_active"`
	PendingCards    int64 `json:"pending_cards"`
}

// GET /v1/stats
// 只统计在职员工；待生成数 = 总数 - 已生成。
func (h *StatsHandler) GetStats(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	var resp statsResponse

	if err := db.Model(&database.Employee{}).Where("is_active = ?", true).Count(&resp.TotalEmployees).Error; err != nil {
		h.fail(c, err)
		return
	}
	if err := db.Model(&database.Employee{}).Where("is_active = ? AND card_generated = ?", true, true).Count(&resp.CardsGenerated).Error; err != nil {
		h.fail(c, err)
		return
	}
	if err := db.Model(&database.Template{}).Where("is_active = ?", true).Count(&resp.TemplatesActive).Error; err != nil {
		h.fail(c, err)
		return
	}
	resp.PendingCards = resp.TotalEmployees - resp.CardsGenerated

	c.JSON(http.StatusOK, resp)
}

func (h *StatsHandler) fail(c *gin.Context, err error) {
	middleware.LoggerFromContext(c).Error("load stats failed", slog.Any("error", err))
	Internal(c, "Failed to fetch stats")
}
