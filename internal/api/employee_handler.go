package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"flexiID/internal/api/middleware"
	"flexiID/internal/database"
	"flexiID/internal/importer"
	"flexiID/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var errDuplicateEmployeeID = errors.New("employee id already exists")

// EmployeeHandler 负责员工的增删改查。
type EmployeeHandler struct {
	db      *gorm.DB
	storage ObjectStorage
}

func NewEmployeeHandler(db *gorm.DB, storage ObjectStorage) *EmployeeHandler {
	return &EmployeeHandler{db: db, storage: storage}
}

// employeeRequest 同时用于创建与更新；更新时 nil 字段保持不变。
type employeeRequest struct {
	EmployeeID       *string `json:"employee_id"`
	FirstName        *string `json:"first_name"`
	LastName         *string `json:"last_name"`
	Designation      *string `json:"designation"`
	Department       *string `json:"department"`
	City             *string `json:"city"`
	ContactNumber    *string `json:"contact_number"`
	MobileNumber     *string `json:"mobile_number"`
	CNIC             *string `json:"cnic"`
	BloodGroup       *string `json:"blood_group"`
	EmergencyContact *string `json:"emergency_contact"`
	DateOfBirth      *string `json:"date_of_birth"`
	DateOfJoining    *string `json:"date_of_joining"`
	PhotoPath        *string `json:"photo_path"`
	IsActive         *bool   `json:"is_active"`
}

type employeeResponse struct {
	ID               uint       `json:"id"`
	EmployeeID       string     `json:"employee_id"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Designation      string     `json:"designation"`
	Department       string     `json:"department"`
	City             string     `json:"city"`
	ContactNumber    string     `json:"contact_number"`
	MobileNumber     string     `json:"mobile_number"`
	CNIC             string     `json:"cnic"`
	BloodGroup       string     `json:"blood_group"`
	EmergencyContact string     `json:"emergency_contact"`
	DateOfBirth      time.Time  `json:"date_of_birth"`
	DateOfJoining    time.Time  `json:"date_of_joining"`
	PhotoPath        string     `json:"photo_path,omitempty"`
	IsActive         bool       `json:"is_active"`
	CardGenerated    bool       `json:"card_generated"`
	CardStatus       string     `json:"card_status"`
	CardError        string     `json:"card_error,omitempty"`
	CardFrontPath    string     `json:"card_front_path,omitempty"`
	CardBackPath     string     `json:"card_back_path,omitempty"`
	CardGeneratedAt  *time.Time `json:"card_generated_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	PhotoURL     string `json:"photo_url,omitempty"`
	CardFrontURL string `json:"card_front_url,omitempty"`
	CardBackURL  string `json:"card_back_url,omitempty"`
}

func newEmployeeResponse(e database.Employee) employeeResponse {
	return employeeResponse{
		ID:               e.ID,
		EmployeeID:       e.EmployeeID,
		FirstName:        e.FirstName,
		LastName:         e.LastName,
		Designation:      e.Designation,
		Department:       e.Department,
		City:             e.City,
		ContactNumber:    e.ContactNumber,
		MobileNumber:     e.MobileNumber,
		CNIC:             e.CNIC,
		BloodGroup:       e.BloodGroup,
		EmergencyContact: e.EmergencyContact,
		DateOfBirth:      e.DateOfBirth,
		DateOfJoining:    e.DateOfJoining,
		PhotoPath:        e.PhotoPath,
		IsActive:         e.IsActive,
		CardGenerated:    e.CardGenerated,
		CardStatus:       e.CardStatus,
		CardError:        e.CardError,
		CardFrontPath:    e.CardFrontPath,
		CardBackPath:     e.CardBackPath,
		CardGeneratedAt:  e.CardGeneratedAt,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

type employeeListResponse struct {
	Data       []employeeResponse `json:"data"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
}

// ListEmployees GET /v1/employees
// 仅返回在职员工，按创建时间倒序。
func (h *EmployeeHandler) ListEmployees(c *gin.Context) {
	page := positiveQuery(c, "page", 1)
	pageSize := positiveQuery(c, "page_size", defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := h.db.WithContext(c.Request.Context()).Model(&database.Employee{}).Where("is_active = ?", true)
	if q := strings.ToLower(strings.TrimSpace(c.Query("q"))); q != "" {
		like := "%" + escapeLike(q) + "%"
		query = query.Where(
			"LOWER(employee_id) LIKE ? ESCAPE '\\' OR LOWER(first_name) LIKE ? ESCAPE '\\' OR LOWER(last_name) LIKE ? ESCAPE '\\'",
			like, like, like,
		)
	}
	if dept := strings.TrimSpace(c.Query("department")); dept != "" {
		query = query.Where("department = ?", dept)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		Internal(c, "failed to count employees")
		return
	}

	var employees []database.Employee
	if err := query.Order("created_at DESC").Order("id DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&employees).Error; err != nil {
		Internal(c, "failed to list employees")
		return
	}

	items := make([]employeeResponse, 0, len(employees))
	for _, e := range employees {
		items = append(items, newEmployeeResponse(e))
	}
	c.JSON(http.StatusOK, employeeListResponse{
		Data:       items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	})
}

// GetEmployee GET /v1/employees/:id
func (h *EmployeeHandler) GetEmployee(c *gin.Context) {
	emp, ok := h.loadEmployee(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	resp := newEmployeeResponse(*emp)
	resp.PhotoURL = presign(ctx, h.storage, log, emp.PhotoPath)
	if emp.CardGenerated {
		resp.CardFrontURL = presign(ctx, h.storage, log, emp.CardFrontPath)
		resp.CardBackURL = presign(ctx, h.storage, log, emp.CardBackPath)
	}
	c.JSON(http.StatusOK, resp)
}

// CreateEmployee POST /v1/employees
func (h *EmployeeHandler) CreateEmployee(c *gin.Context) {
	var req employeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	required := []struct {
		name  string
		value *string
	}{
		{"employee_id", req.EmployeeID},
		{"first_name", req.FirstName},
		{"designation", req.Designation},
	}
	for _, f := range required {
		if f.value == nil || strings.TrimSpace(*f.value) == "" {
			BadRequest(c, f.name+" is required")
			return
		}
	}

	emp := database.Employee{
		IsActive:   true,
		CardStatus: database.CardStatusPending,
	}
	if _, err := applyEmployeeRequest(&emp, req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	if err := h.ensureUniqueEmployeeID(ctx, emp.EmployeeID, 0); err != nil {
		if errors.Is(err, errDuplicateEmployeeID) {
			Conflict(c, "Employee ID already exists")
			return
		}
		log.Error("check employee id failed", slog.Any("error", err))
		Internal(c, "failed to create employee")
		return
	}

	if err := h.db.WithContext(ctx).Create(&emp).Error; err != nil {
		log.Error("create employee failed", slog.Any("error", err))
		Internal(c, "failed to create employee")
		return
	}
	if !emp.IsActive {
		// gorm 会用列默认值覆盖 bool 零值。
		if err := h.db.WithContext(ctx).Model(&emp).Update("is_active", false).Error; err != nil {
			log.Error("deactivate employee failed", slog.Any("error", err))
		}
	}

	log.Info("employee created", slog.String("employee_id", emp.EmployeeID), slog.Uint64("id", uint64(emp.ID)))
	c.JSON(http.StatusCreated, newEmployeeResponse(emp))
}

// UpdateEmployee PUT /v1/employees/:id
// 影响工牌内容的修改会把状态重置为 pending。
func (h *EmployeeHandler) UpdateEmployee(c *gin.Context) {
	emp, ok := h.loadEmployee(c)
	if !ok {
		return
	}

	var req employeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	updated := *emp
	cardChanged, err := applyEmployeeRequest(&updated, req)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(updated.EmployeeID) == "" || strings.TrimSpace(updated.FirstName) == "" || strings.TrimSpace(updated.Designation) == "" {
		BadRequest(c, "employee_id, first_name and designation cannot be empty")
		return
	}

	if updated.EmployeeID != emp.EmployeeID {
		if err := h.ensureUniqueEmployeeID(ctx, updated.EmployeeID, emp.ID); err != nil {
			if errors.Is(err, errDuplicateEmployeeID) {
				Conflict(c, "Employee ID already exists")
				return
			}
			log.Error("check employee id failed", slog.Any("error", err))
			Internal(c, "failed to update employee")
			return
		}
	}

	if cardChanged {
		updated.CardStatus = database.CardStatusPending
		updated.CardGenerated = false
	}

	if err := h.db.WithContext(ctx).Model(&database.Employee{}).Where("id = ?", emp.ID).
		Select("*").Omit("id", "created_at", "deleted_at").
		Updates(&updated).Error; err != nil {
		log.Error("update employee failed", slog.Any("error", err))
		Internal(c, "failed to update employee")
		return
	}

	if err := h.db.WithContext(ctx).First(&updated, emp.ID).Error; err != nil {
		Internal(c, "failed to reload employee")
		return
	}
	c.JSON(http.StatusOK, newEmployeeResponse(updated))
}

// DeleteEmployee DELETE /v1/employees/:id
// 物理删除，编号可再次使用；对象存储中的照片与工牌尽力清理。
func (h *EmployeeHandler) DeleteEmployee(c *gin.Context) {
	emp, ok := h.loadEmployee(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	if err := h.db.WithContext(ctx).Unscoped().Delete(&database.Employee{}, emp.ID).Error; err != nil {
		log.Error("delete employee failed", slog.Any("error", err))
		Internal(c, "failed to delete employee")
		return
	}

	if h.ownsPhoto(ctx, emp) {
		deleteObjects(ctx, h.storage, log, emp.PhotoPath)
	}
	cardDir := storage.CardDir(emp.ID)
	if err := h.storage.DeletePrefix(ctx, cardDir); err != nil {
		log.Warn("delete card objects failed", slog.String("prefix", cardDir), slog.Any("error", err))
	}
	c.Status(http.StatusNoContent)
}

// ownsPhoto 判断照片对象是否只属于该员工，其它记录仍在引用时不删除。
func (h *EmployeeHandler) ownsPhoto(ctx context.Context, emp *database.Employee) bool {
	if !isPhotoObjectKey(emp.PhotoPath) {
		return false
	}
	var count int64
	if err := h.db.WithContext(ctx).Unscoped().Model(&database.Employee{}).
		Where("photo_path = ? AND id <> ?", emp.PhotoPath, emp.ID).
		Count(&count).Error; err != nil {
		return false
	}
	return count == 0
}

func (h *EmployeeHandler) loadEmployee(c *gin.Context) (*database.Employee, bool) {
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
		Internal(c, "failed to query employee")
		return nil, false
	}
	return &emp, true
}

func (h *EmployeeHandler) ensureUniqueEmployeeID(ctx context.Context, employeeID string, exceptID uint) error {
	var count int64
	if err := h.db.WithContext(ctx).Unscoped().Model(&database.Employee{}).
		Where("employee_id = ? AND id <> ?", employeeID, exceptID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errDuplicateEmployeeID
	}
	return nil
}

// applyEmployeeRequest 把非 nil 字段写入 emp，返回是否有影响工牌内容的变化。
func applyEmployeeRequest(emp *database.Employee, req employeeRequest) (bool, error) {
	changed := false
	setString := func(dst *string, v *string) {
		if v == nil {
			return
		}
		s := strings.TrimSpace(*v)
		if *dst != s {
			*dst = s
			changed = true
		}
	}
	setDate := func(dst *time.Time, v *string, field string) error {
		if v == nil {
			return nil
		}
		raw := strings.TrimSpace(*v)
		var t time.Time
		if raw != "" {
			parsed, ok := importer.ParseDate(raw)
			if !ok {
				return errors.New("invalid " + field)
			}
			t = parsed
		}
		if !dst.Equal(t) {
			*dst = t
			changed = true
		}
		return nil
	}

	setString(&emp.EmployeeID, req.EmployeeID)
	setString(&emp.FirstName, req.FirstName)
	setString(&emp.LastName, req.LastName)
	setString(&emp.Designation, req.Designation)
	setString(&emp.Department, req.Department)
	setString(&emp.City, req.City)
	setString(&emp.ContactNumber, req.ContactNumber)
	setString(&emp.MobileNumber, req.MobileNumber)
	setString(&emp.CNIC, req.CNIC)
	setString(&emp.BloodGroup, req.BloodGroup)
	setString(&emp.EmergencyContact, req.EmergencyContact)
	if req.PhotoPath != nil {
		if key := strings.TrimSpace(*req.PhotoPath); key != "" && !isPhotoObjectKey(key) {
			return false, errors.New("invalid photo_path")
		}
		setString(&emp.PhotoPath, req.PhotoPath)
	}
	if err := setDate(&emp.DateOfBirth, req.DateOfBirth, "date_of_birth"); err != nil {
		return false, err
	}
	if err := setDate(&emp.DateOfJoining, req.DateOfJoining, "date_of_joining"); err != nil {
		return false, err
	}
	if req.IsActive != nil {
		emp.IsActive = *req.IsActive
	}
	return changed, nil
}

func positiveQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
