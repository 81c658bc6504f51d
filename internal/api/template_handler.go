package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"flexiID/internal/api/middleware"
	"flexiID/internal/database"
	"flexiID/internal/storage"
)

// TemplateHandler 负责工牌底图模板。
type TemplateHandler struct {
	db        *gorm.DB
	storage   ObjectStorage
	validator imageValidator
	now       func() time.Time
}

func NewTemplateHandler(db *gorm.DB, storage ObjectStorage, scanner VirusScanner, maxBytes int64) *TemplateHandler {
	return &TemplateHandler{
		db:        db,
		storage:   storage,
		validator: imageValidator{maxBytes: maxBytes, scanner: scanner},
		now:       time.Now,
	}
}

type templateResponse struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	ImagePath  string    `json:"image_path"`
	IsActive   bool      `json:"is_active"`
	PreviewURL string    `json:"preview_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (h *TemplateHandler) response(c *gin.Context, t database.Template) templateResponse {
	return templateResponse{
		ID:         t.ID,
		Name:       t.Name,
		Type:       t.Type,
		ImagePath:  t.ImagePath,
		IsActive:   t.IsActive,
		PreviewURL: presign(c.Request.Context(), h.storage, middleware.LoggerFromContext(c), t.ImagePath),
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func validTemplateType(t string) bool {
	return t == database.TemplateFront || t == database.TemplateBack
}

// deactivateOthers 停用同类型的其它模板，必须在事务内调用。
func deactivateOthers(tx *gorm.DB, templateType string, exceptID uint) error {
	q := tx.Model(&database.Template{}).Where("type = ? AND is_active = ?", templateType, true)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	return q.Update("is_active", false).Error
}

// POST /v1/templates
// 上传新模板并设为该类型唯一启用的模板。
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	templateType := strings.ToLower(strings.TrimSpace(c.PostForm("type")))
	fh, err := c.FormFile("file")
	if err != nil || templateType == "" {
		BadRequest(c, "File and type are required")
		return
	}
	if !validTemplateType(templateType) {
		BadRequest(c, "type must be front or back")
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c).With(slog.String("type", templateType))

	img, err := h.validator.validate(ctx, fh)
	if err != nil {
		if isClientUploadError(err) {
			BadRequest(c, err.Error())
			return
		}
		log.Error("validate template failed", slog.Any("error", err))
		Internal(c, "Failed to upload template")
		return
	}

	key := fmt.Sprintf("%s%s_%d%s", storage.TemplatePrefix, templateType, h.now().UnixMilli(), img.ext)
	if _, err := h.storage.UploadFile(ctx, key, bytes.NewReader(img.data), int64(len(img.data)), img.contentType); err != nil {
		log.Error("upload template failed", slog.Any("error", err))
		Internal(c, "Failed to upload template")
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = templateType + " template"
	}
	model := database.Template{
		Name:      name,
		Type:      templateType,
		ImagePath: key,
		IsActive:  true,
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deactivateOthers(tx, templateType, 0); err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		log.Error("create template failed", slog.Any("error", err))
		deleteObjects(ctx, h.storage, log, key)
		Internal(c, "Failed to upload template")
		return
	}

	log.Info("template created", slog.Uint64("template_id", uint64(model.ID)))
	c.JSON(http.StatusCreated, h.response(c, model))
}

// GET /v1/templates
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	var templates []database.Template
	if err := h.db.WithContext(c.Request.Context()).
		Order("created_at DESC").Order("id DESC").
		Find(&templates).Error; err != nil {
		middleware.LoggerFromContext(c).Error("list templates failed", slog.Any("error", err))
		Internal(c, "Failed to fetch templates")
		return
	}

	items := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		items = append(items, h.response(c, t))
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type updateTemplateRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

// PUT /v1/templates/:id
// 重命名或切换启用状态；启用时在同一事务中停用同类型的其它模板。
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	model, ok := h.loadTemplate(c)
	if !ok {
		return
	}

	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			BadRequest(c, "name cannot be empty")
			return
		}
		updates["name"] = name
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, h.response(c, *model))
		return
	}

	ctx := c.Request.Context()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IsActive != nil && *req.IsActive {
			if err := deactivateOthers(tx, model.Type, model.ID); err != nil {
				return err
			}
		}
		if err := tx.Model(&database.Template{}).Where("id = ?", model.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(model, model.ID).Error
	})
	if err != nil {
		middleware.LoggerFromContext(c).Error("update template failed",
			slog.Uint64("template_id", uint64(model.ID)),
			slog.Any("error", err),
		)
		Internal(c, "Failed to update template")
		return
	}

	c.JSON(http.StatusOK, h.response(c, *model))
}

// DELETE /v1/templates/:id
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	model, ok := h.loadTemplate(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c).With(slog.Uint64("template_id", uint64(model.ID)))
	if err := h.db.WithContext(ctx).Unscoped().Delete(&database.Template{}, model.ID).Error; err != nil {
		log.Error("delete template failed", slog.Any("error", err))
		Internal(c, "Failed to delete template")
		return
	}
	deleteObjects(ctx, h.storage, log, model.ImagePath)

	c.Status(http.StatusNoContent)
}

func (h *TemplateHandler) loadTemplate(c *gin.Context) (*database.Template, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	var model database.Template
	if err := h.db.WithContext(c.Request.Context()).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "Template not found")
			return nil, false
		}
		middleware.LoggerFromContext(c).Error("load template failed", slog.Any("error", err))
		Internal(c, "Failed to fetch template")
		return nil, false
	}
	return &model, true
}
