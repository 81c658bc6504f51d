package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"flexiID/internal/api/middleware"
	"flexiID/internal/auth"
	"flexiID/internal/card"
	"flexiID/internal/database"
	"flexiID/internal/importer"
)

// Deps 汇总注册路由所需的依赖。
type Deps struct {
	DB             *gorm.DB
	Redis          redis.UniversalClient
	AuthService    *auth.AuthService
	Storage        ObjectStorage
	Cards          *card.Service
	Enqueuer       TaskEnqueuer
	Scanner        VirusScanner
	Logger         *slog.Logger
	AllowedOrigins []string
	MaxUploadBytes int64
	LoginRateLimit int
}

// RegisterRoutes 注册 /v1 路由。除登录与 WebSocket 外都要求访问令牌，
// 删除类与批量写操作仅限管理员。
func RegisterRoutes(router *gin.Engine, d Deps) {
	var limiter redisRateCounter
	if d.Redis != nil {
		limiter = d.Redis
	}

	authHandler := NewAuthHandler(d.DB, d.AuthService, limiter, d.Logger, d.LoginRateLimit)
	employeeHandler := NewEmployeeHandler(d.DB, d.Storage)
	importHandler := NewImportHandler(importer.New(d.DB, d.Logger))
	uploadHandler := NewUploadHandler(d.DB, d.Storage, d.Scanner, d.MaxUploadBytes)
	templateHandler := NewTemplateHandler(d.DB, d.Storage, d.Scanner, d.MaxUploadBytes)
	cardHandler := NewCardHandler(d.DB, d.Cards, d.Storage, d.Enqueuer)
	statsHandler := NewStatsHandler(d.DB)

	authMiddleware := middleware.AuthMiddleware(d.AuthService)
	adminOnly := middleware.RequireRole(database.RoleAdmin)

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/login", authHandler.Login)
		if d.Redis != nil {
			wsHandler := NewWsHandler(d.Redis, d.DB, d.AuthService, d.Logger, d.AllowedOrigins)
			v1.GET("/ws", wsHandler.HandleConnection)
		}

		protected := v1.Group("")
		protected.Use(authMiddleware)
		{
			protected.GET("/auth/me", authHandler.Me)
			protected.GET("/stats", statsHandler.GetStats)

			employees := protected.Group("/employees")
			{
				employees.GET("", employeeHandler.ListEmployees)
				employees.POST("", employeeHandler.CreateEmployee)
				employees.POST("/import", importHandler.ImportEmployees)
				employees.GET("/:id", employeeHandler.GetEmployee)
				employees.PUT("/:id", employeeHandler.UpdateEmployee)
				employees.DELETE("/:id", adminOnly, employeeHandler.DeleteEmployee)
			}

			uploads := protected.Group("/uploads")
			{
				uploads.POST("/photo", uploadHandler.UploadPhoto)
				uploads.POST("/photos", uploadHandler.UploadPhotos)
			}
			protected.GET("/files/url", uploadHandler.GetFileURL)

			templates := protected.Group("/templates")
			{
				templates.GET("", templateHandler.ListTemplates)
				templates.POST("", adminOnly, templateHandler.CreateTemplate)
				templates.PUT("/:id", adminOnly, templateHandler.UpdateTemplate)
				templates.DELETE("/:id", adminOnly, templateHandler.DeleteTemplate)
			}

			cards := protected.Group("/cards")
			{
				cards.POST("/generate/:id", cardHandler.Generate)
				cards.POST("/batch", adminOnly, cardHandler.CreateBatch)
				cards.GET("/batch/:id", cardHandler.GetBatch)
				cards.POST("/download", cardHandler.Download)
				// /cards/:id/preview 由 GetCard 分派。
				cards.GET("/:id/:side", cardHandler.GetCard)
			}
		}
	}
}
