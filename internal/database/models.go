package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 工牌生成状态。
const (
	CardStatusPending   = "pending"
	CardStatusGenerated = "generated"
	CardStatusFailed    = "failed"
)

// 模板类型。
const (
	TemplateFront = "front"
	TemplateBack  = "back"
)

// 批量任务状态。
const (
	BatchQueued    = "queued"
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
)

// 用户角色。
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// User 表示可以登录后台的账号。
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;size:255"`
	Name         string `gorm:"size:255"`
	Role         string `gorm:"size:32;default:admin"`
	PasswordHash string `gorm:"size:255"`
}

// Employee 表示一名员工及其工牌生成状态。
type Employee struct {
	gorm.Model
	EmployeeID       string    `gorm:"uniqueIndex;size:64;not null"`
	FirstName        string    `gorm:"size:128"`
	LastName         string    `gorm:"size:128"`
	Designation      string    `gorm:"size:128"`
	Department       string    `gorm:"size:128;index"`
	City             string    `gorm:"size:128"`
	ContactNumber    string    `gorm:"size:64"`
	MobileNumber     string    `gorm:"size:64"`
	CNIC             string    `gorm:"column:cnic;size:64"`
	BloodGroup       string    `gorm:"size:16"`
	EmergencyContact string    `gorm:"size:64"`
	DateOfBirth      time.Time
	DateOfJoining    time.Time
	PhotoPath        string `gorm:"size:512"`
	IsActive         bool   `gorm:"default:true;index"`

	CardGenerated   bool   `gorm:"default:false"`
	CardStatus      string `gorm:"size:32;default:pending"`
	CardError       string `gorm:"size:1024"`
	CardFrontPath   string `gorm:"size:512"`
	CardBackPath    string `gorm:"size:512"`
	CardGeneratedAt *time.Time
}

// FullName 返回以空格连接的姓名。
func (e Employee) FullName() string {
	switch {
	case e.FirstName == "":
		return e.LastName
	case e.LastName == "":
		return e.FirstName
	default:
		return e.FirstName + " " + e.LastName
	}
}

// Template 表示工牌正面或背面的底图。
// 同一类型最多只有一个处于启用状态。
type Template struct {
	gorm.Model
	Name      string `gorm:"size:255"`
	Type      string `gorm:"size:16;index"`
	ImagePath string `gorm:"size:512"`
	IsActive  bool   `gorm:"default:false"`
}

// CardBatch 记录一次异步批量生成任务。
type CardBatch struct {
	gorm.Model
	Status        string         `gorm:"size:32;index"`
	EmployeeIDs   datatypes.JSON `gorm:"type:jsonb"`
	Total         int
	Succeeded     int
	Failed        int
	Errors        datatypes.JSON `gorm:"type:jsonb"`
	UserID        uint           `gorm:"index"`
	CorrelationID string         `gorm:"size:64"`
	TaskID        string         `gorm:"size:128"`
	FinishedAt    *time.Time
}

// AllModels 返回需要 AutoMigrate 的全部模型。
func AllModels() []any {
	return []any{&User{}, &Employee{}, &Template{}, &CardBatch{}}
}
