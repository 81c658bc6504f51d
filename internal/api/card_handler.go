package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flexiID/internal/api/middleware"
	"flexiID/internal/card"
	"flexiID/internal/database"
	"flexiID/internal/storage"
	"flexiID/internal/tasks"
)

// TaskEnqueuer 由 *asynq.Client 实现。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CardHandler 负责工牌生成、批量任务与下载。
type CardHandler struct {
	db       *gorm.DB
	service  *card.Service
	storage  ObjectStorage
	enqueuer TaskEnqueuer
	now      func() time.Time
}

func NewCardHandler(db *gorm.DB, service *card.Service, storage ObjectStorage, enqueuer TaskEnqueuer) *CardHandler {
	return &CardHandler{
		db:       db,
		service:  service,
		storage:  storage,
		enqueuer: enqueuer,
		now:      time.Now,
	}
}

// POST /v1/cards/generate/:id
// 同步生成单个员工的正反面工牌。
func (h *CardHandler) Generate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	log := middleware.LoggerFromContext(c).With(slog.Uint64("employee_row_id", uint64(id)))
	emp, err := h.service.Generate(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, card.ErrEmployeeNotFound) {
			NotFound(c, "Employee not found")
			return
		}
		log.Error("generate card failed", slog.Any("error", err))
		Internal(c, err.Error())
		return
	}

	log.Info("card generated", slog.String("employee_id", emp.EmployeeID))
	ctx := c.Request.Context()
	resp := newEmployeeResponse(*emp)
	resp.CardFrontURL = presign(ctx, h.storage, log, emp.CardFrontPath)
	resp.CardBackURL = presign(ctx, h.storage, log, emp.CardBackPath)
	c.JSON(http.StatusOK, resp)
}

type employeeIDsRequest struct {
	EmployeeIDs []uint `json:"employee_ids"`
}

// bindEmployeeIDs 允许空请求体，等价于不限定员工。
func bindEmployeeIDs(c *gin.Context) (employeeIDsRequest, bool) {
	var req employeeIDsRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		// chunked 空请求体长度未知，解码时才会遇到 EOF
		if errors.Is(err, io.EOF) {
			return employeeIDsRequest{}, true
		}
		BadRequest(c, err.Error())
		return req, false
	}
	return req, true
}

type batchResponse struct {
	ID            uint              `json:"id"`
	Status        string            `json:"status"`
	Total         int               `json:"total"`
	Succeeded     int               `json:"succeeded"`
	Failed        int               `json:"failed"`
	Errors        []card.BatchError `json:"errors"`
	TaskID        string            `json:"task_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
}

// POST /v1/cards/batch
// 创建批量生成任务并投递到队列，立即返回 202。
func (h *CardHandler) CreateBatch(c *gin.Context) {
	req, ok := bindEmployeeIDs(c)
	if !ok {
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	query := h.db.WithContext(ctx).Model(&database.Employee{}).Where("is_active = ?", true)
	if len(req.EmployeeIDs) > 0 {
		query = query.Where("id IN ?", req.EmployeeIDs)
	}
	var ids []uint
	if err := query.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		log.Error("select batch employees failed", slog.Any("error", err))
		Internal(c, "Failed to create batch")
		return
	}
	if len(ids) == 0 {
		NotFound(c, "No employees found")
		return
	}

	idsJSON, err := json.Marshal(ids)
	if err != nil {
		Internal(c, "Failed to create batch")
		return
	}
	correlationID := middleware.GetCorrelationID(c)
	batch := database.CardBatch{
		Status:        database.BatchQueued,
		EmployeeIDs:   datatypes.JSON(idsJSON),
		Total:         len(ids),
		Errors:        datatypes.JSON("[]"),
		UserID:        userID,
		CorrelationID: correlationID,
	}
	if err := h.db.WithContext(ctx).Create(&batch).Error; err != nil {
		log.Error("create card batch failed", slog.Any("error", err))
		Internal(c, "Failed to create batch")
		return
	}
	log = log.With(slog.Uint64("batch_id", uint64(batch.ID)))

	task, err := tasks.NewCardBatchTask(batch.ID, correlationID)
	if err != nil {
		log.Error("build batch task failed", slog.Any("error", err))
		h.failBatch(ctx, log, batch.ID, "build task failed")
		Internal(c, "Failed to enqueue batch")
		return
	}
	info, err := h.enqueuer.EnqueueContext(ctx, task)
	if err != nil {
		log.Error("enqueue batch task failed", slog.Any("error", err))
		h.failBatch(ctx, log, batch.ID, "enqueue failed")
		Internal(c, "Failed to enqueue batch")
		return
	}

	if err := h.db.WithContext(ctx).Model(&database.CardBatch{}).Where("id = ?", batch.ID).
		Update("task_id", info.ID).Error; err != nil {
		log.Warn("save batch task id failed", slog.Any("error", err))
	}

	log.Info("card batch enqueued", slog.String("task_id", info.ID), slog.Int("total", len(ids)))
	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batch.ID,
		"task_id":  info.ID,
		"total":    len(ids),
	})
}

func (h *CardHandler) failBatch(ctx context.Context, log *slog.Logger, batchID uint, reason string) {
	now := h.now()
	errs, _ := json.Marshal([]card.BatchError{{Error: reason}})
	err := h.db.WithContext(context.WithoutCancel(ctx)).Model(&database.CardBatch{}).Where("id = ?", batchID).
		Updates(map[string]any{
			"status":      database.BatchFailed,
			"errors":      datatypes.JSON(errs),
			"finished_at": now,
		}).Error
	if err != nil {
		log.Error("mark batch failed", slog.Any("error", err))
	}
}

// GET /v1/cards/batch/:id
// 非管理员只能查看自己创建的批次。
func (h *CardHandler) GetBatch(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var batch database.CardBatch
	if err := h.db.WithContext(c.Request.Context()).First(&batch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "Batch not found")
			return
		}
		middleware.LoggerFromContext(c).Error("load card batch failed", slog.Any("error", err))
		Internal(c, "Failed to fetch batch")
		return
	}
	if batch.UserID != userID && c.GetString(middleware.UserRoleKey) != database.RoleAdmin {
		NotFound(c, "Batch not found")
		return
	}

	resp := batchResponse{
		ID:            batch.ID,
		Status:        batch.Status,
		Total:         batch.Total,
		Succeeded:     batch.Succeeded,
		Failed:        batch.Failed,
		Errors:        []card.BatchError{},
		TaskID:        batch.TaskID,
		CorrelationID: batch.CorrelationID,
		CreatedAt:     batch.CreatedAt,
		FinishedAt:    batch.FinishedAt,
	}
	if len(batch.Errors) > 0 {
		if err := json.Unmarshal(batch.Errors, &resp.Errors); err != nil {
			middleware.LoggerFromContext(c).Warn("decode batch errors failed", slog.Any("error", err))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// POST /v1/cards/download
// 打包已生成的工牌为 ZIP。
func (h *CardHandler) Download(c *gin.Context) {
	req, ok := bindEmployeeIDs(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	query := h.db.WithContext(ctx).Where("is_active = ? AND card_generated = ?", true, true)
	if len(req.EmployeeIDs) > 0 {
		query = query.Where("id IN ?", req.EmployeeIDs)
	}
	var employees []database.Employee
	if err := query.Order("id ASC").Find(&employees).Error; err != nil {
		log.Error("select cards for download failed", slog.Any("error", err))
		Internal(c, "Failed to download cards")
		return
	}
	if len(employees) == 0 {
		NotFound(c, "No cards found to download")
		return
	}

	var buf bytes.Buffer
	entries, err := h.service.WriteArchive(ctx, &buf, employees)
	if err != nil {
		log.Error("write card archive failed", slog.Any("error", err))
		Internal(c, "Failed to download cards")
		return
	}
	if entries == 0 {
		NotFound(c, "No cards found to download")
		return
	}

	filename := fmt.Sprintf("employee_cards_%d.zip", h.now().UnixMilli())
	log.Info("card archive built", slog.Int("employees", len(employees)), slog.Int("entries", entries))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// GET /v1/cards/:id/:side
// side 为 front 或 back 时返回 PNG；为 preview 时返回 HTML 预览页。
func (h *CardHandler) GetCard(c *gin.Context) {
	if c.Param("side") == "preview" {
		h.Preview(c)
		return
	}

	side, err := card.ParseSide(c.Param("side"))
	if err != nil {
		BadRequest(c, "side must be front or back")
		return
	}
	emp, ok := h.loadEmployee(c)
	if !ok {
		return
	}

	key := emp.CardFrontPath
	if side == card.SideBack {
		key = emp.CardBackPath
	}
	if !emp.CardGenerated || key == "" {
		NotFound(c, "Card not generated")
		return
	}

	data, err := h.storage.ReadObject(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			NotFound(c, "Card not generated")
			return
		}
		middleware.LoggerFromContext(c).Error("read card object failed", slog.String("key", key), slog.Any("error", err))
		Internal(c, "Failed to read card")
		return
	}

	filename := card.FileBase(emp.EmployeeID, h.now()) + "_" + string(side) + ".png"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "image/png", data)
}

// GET /v1/cards/:id/preview?side=
// 返回浏览器渲染器使用的同一份 HTML。
func (h *CardHandler) Preview(c *gin.Context) {
	side, err := card.ParseSide(c.DefaultQuery("side", string(card.SideFront)))
	if err != nil {
		BadRequest(c, "side must be front or back")
		return
	}
	emp, ok := h.loadEmployee(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	templates, err := h.service.ActiveTemplates(ctx)
	if err != nil {
		log.Error("load active templates failed", slog.Any("error", err))
		Internal(c, "Failed to render preview")
		return
	}
	var photo []byte
	if side == card.SideFront {
		photo = h.service.LoadPhoto(ctx, emp)
	}

	page, err := card.PreviewHTML(*emp, side, templates[side], photo)
	if err != nil {
		log.Error("render preview failed", slog.Any("error", err))
		Internal(c, "Failed to render preview")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (h *CardHandler) loadEmployee(c *gin.Context) (*database.Employee, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	var emp database.Employee
	if err := h.db.WithContext(c.Request.Context()).First(&emp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "Employee not found")
			return nil, false
		}
		middleware.LoggerFromContext(c).Error("load employee failed", slog.Any("error", err))
		Internal(c, "Failed to fetch employee")
		return nil, false
	}
	return &emp, true
}
