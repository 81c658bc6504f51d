package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"flexiID/internal/api/middleware"
	"flexiID/internal/card"
	"flexiID/internal/database"
	"flexiID/internal/storage"
)

const maxBulkPhotos = 500

// UploadHandler 处理员工照片上传与对象访问链接。
type UploadHandler struct {
	db        *gorm.DB
	storage   ObjectStorage
	validator imageValidator
}

// NewUploadHandler 返回 UploadHandler；scanner 为 nil 时跳过病毒扫描。
func NewUploadHandler(db *gorm.DB, storage ObjectStorage, scanner VirusScanner, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		db:        db,
		storage:   storage,
		validator: imageValidator{maxBytes: maxBytes, scanner: scanner},
	}
}

// POST /v1/uploads/photo
// 上传单张照片；employee_id 指向已有员工时挂到该员工并重置工牌状态。
func (h *UploadHandler) UploadPhoto(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "No file provided")
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c).With(slog.String("file", fh.Filename))

	img, err := h.validator.validate(ctx, fh)
	if err != nil {
		if isClientUploadError(err) {
			BadRequest(c, err.Error())
			return
		}
		log.Error("validate photo failed", slog.Any("error", err))
		Internal(c, "Failed to upload photo")
		return
	}

	key := storage.PhotoPrefix + uuid.NewString() + img.ext
	if _, err := h.storage.UploadFile(ctx, key, bytes.NewReader(img.data), int64(len(img.data)), img.contentType); err != nil {
		log.Error("upload photo failed", slog.Any("error", err))
		Internal(c, "Failed to upload photo")
		return
	}

	if employeeID := strings.TrimSpace(c.PostForm("employee_id")); employeeID != "" {
		var emp database.Employee
		err := h.db.WithContext(ctx).Where("employee_id = ?", employeeID).First(&emp).Error
		switch {
		case err == nil:
			if err := h.attachPhoto(c, &emp, key); err != nil {
				log.Error("attach photo failed", slog.String("employee_id", employeeID), slog.Any("error", err))
				Internal(c, "Failed to upload photo")
				return
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			log.Info("photo uploaded for unknown employee", slog.String("employee_id", employeeID))
		default:
			log.Error("lookup employee failed", slog.Any("error", err))
			Internal(c, "Failed to upload photo")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"path": key})
}

type bulkPhotoItem struct {
	File       string `json:"file"`
	Digits     string `json:"digits,omitempty"`
	EmployeeID string `json:"employee_id,omitempty"`
	PhotoPath  string `json:"photo_path,omitempty"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

type bulkPhotoResult struct {
	Total   int             `json:"total"`
	Success int             `json:"success"`
	Failed  int             `json:"failed"`
	Items   []bulkPhotoItem `json:"items"`
}

func (r *bulkPhotoResult) add(item bulkPhotoItem) {
	if item.Status == "success" {
		r.Success++
	} else {
		r.Failed++
	}
	r.Items = append(r.Items, item)
}

// POST /v1/uploads/photos
// 按文件名末尾数字匹配员工编号末尾数字段，逐个上传。
func (h *UploadHandler) UploadPhotos(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		BadRequest(c, "No files provided")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["files[]"]
	}
	if len(files) == 0 {
		BadRequest(c, "No files provided")
		return
	}
	if len(files) > maxBulkPhotos {
		BadRequest(c, fmt.Sprintf("too many files, at most %d per request", maxBulkPhotos))
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	var employees []database.Employee
	if err := h.db.WithContext(ctx).Select("id", "employee_id", "photo_path").Find(&employees).Error; err != nil {
		log.Error("load employees for photo matching failed", slog.Any("error", err))
		Internal(c, "Failed to upload photos")
		return
	}
	byDigits := make(map[string][]int, len(employees))
	for i, emp := range employees {
		if d := card.LastDigits(emp.EmployeeID); d != "" {
			byDigits[d] = append(byDigits[d], i)
		}
	}

	result := bulkPhotoResult{Total: len(files), Items: make([]bulkPhotoItem, 0, len(files))}
	for _, fh := range files {
		item := bulkPhotoItem{File: fh.Filename, Status: "failed"}

		item.Digits = card.LastDigits(strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename)))
		if item.Digits == "" {
			item.Reason = "Could not extract digits from filename"
			result.add(item)
			continue
		}

		matches := byDigits[item.Digits]
		switch len(matches) {
		case 0:
			item.Reason = "No employee found with employee ID ending in " + item.Digits
			result.add(item)
			continue
		case 1:
		default:
			item.Reason = fmt.Sprintf("%d employees have employee IDs ending in %s", len(matches), item.Digits)
			result.add(item)
			continue
		}
		emp := &employees[matches[0]]
		item.EmployeeID = emp.EmployeeID

		img, err := h.validator.validate(ctx, fh)
		if err != nil {
			if !isClientUploadError(err) {
				log.Error("validate photo failed", slog.String("file", fh.Filename), slog.Any("error", err))
			}
			item.Reason = uploadReason(err)
			result.add(item)
			continue
		}

		key := storage.PhotoPrefix + uuid.NewString() + img.ext
		if _, err := h.storage.UploadFile(ctx, key, bytes.NewReader(img.data), int64(len(img.data)), img.contentType); err != nil {
			log.Error("upload photo failed", slog.String("file", fh.Filename), slog.Any("error", err))
			item.Reason = "Failed to store photo"
			result.add(item)
			continue
		}
		if err := h.attachPhoto(c, emp, key); err != nil {
			log.Error("attach photo failed", slog.String("employee_id", emp.EmployeeID), slog.Any("error", err))
			deleteObjects(ctx, h.storage, log, key)
			item.Reason = "Failed to update employee"
			result.add(item)
			continue
		}

		item.PhotoPath = key
		item.Status = "success"
		result.add(item)
	}

	log.Info("bulk photos processed",
		slog.Int("total", result.Total),
		slog.Int("success", result.Success),
		slog.Int("failed", result.Failed),
	)
	c.JSON(http.StatusOK, result)
}

// attachPhoto 更新员工照片并要求重新生成工牌，旧照片对象尽力删除。
func (h *UploadHandler) attachPhoto(c *gin.Context, emp *database.Employee, key string) error {
	ctx := c.Request.Context()
	err := h.db.WithContext(ctx).Model(&database.Employee{}).Where("id = ?", emp.ID).Updates(map[string]any{
		"photo_path":     key,
		"card_status":    database.CardStatusPending,
		"card_generated": false,
	}).Error
	if err != nil {
		return fmt.Errorf("update employee %d photo: %w", emp.ID, err)
	}

	old := emp.PhotoPath
	emp.PhotoPath = key
	if old != "" && old != key && strings.HasPrefix(old, storage.PhotoPrefix) {
		deleteObjects(ctx, h.storage, middleware.LoggerFromContext(c), old)
	}
	return nil
}

func uploadReason(err error) string {
	if isClientUploadError(err) {
		return err.Error()
	}
	return "Failed to process photo"
}

// GET /v1/files/url?key=&download=
// 为已知前缀下的对象生成临时链接；download=1 时浏览器以附件形式保存。
func (h *UploadHandler) GetFileURL(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		BadRequest(c, "missing key")
		return
	}
	if !isReadableObjectKey(key) {
		Forbidden(c, "access denied")
		return
	}

	var url string
	var err error
	if download, _ := strconv.ParseBool(c.DefaultQuery("download", "false")); download {
		url, err = h.storage.GeneratePresignedDownloadURL(c.Request.Context(), key, presignTTL, path.Base(key))
	} else {
		url, err = h.storage.GeneratePresignedURL(c.Request.Context(), key, presignTTL)
	}
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate presigned url failed", slog.String("key", key), slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(presignTTL.Seconds())})
}
