// Package importer 从 CSV/XLSX 批量导入员工。
package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"flexiID/internal/database"
	"flexiID/internal/metrics"
)

const (
	placeholder       = "—"
	defaultDepartment = "General"
)

var defaultBirthDate = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// Result 汇总一次导入。
type Result struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

func (r *Result) fail(line int, format string, args ...any) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("Row %d: ", line)+fmt.Sprintf(format, args...))
}

// Importer 逐行校验并写入员工，行与行之间互不影响。
type Importer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *gorm.DB, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{db: db, logger: logger, now: time.Now}
}

// Import 解析文件并导入。
func (im *Importer) Import(ctx context.Context, filename string, r io.Reader) (Result, error) {
	records, err := Read(filename, r)
	if err != nil {
		return Result{Errors: []string{}}, err
	}
	return im.Run(ctx, records)
}

// Run 导入已解析的行。只有 ctx 取消会返回错误，单行失败记入 Result。
func (im *Importer) Run(ctx context.Context, records []Record) (Result, error) {
	res := Result{Errors: []string{}}
	header, start := detect(records)
	cols := positionalColumns(widest(records[start:]))
	if header != nil {
		cols = *header
	}
	now := im.now()
	seen := make(map[string]struct{})

	for i := start; i < len(records); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec := records[i]

		r := extract(rec.Cells, cols)

		emp, reason := build(r, rec.parseDate, i, now)
		if reason != "" {
			res.fail(rec.Line, "%s", reason)
			metrics.ImportRows.WithLabelValues("failed").Inc()
			continue
		}

		if _, dup := seen[emp.EmployeeID]; dup {
			res.fail(rec.Line, "Employee ID %s already exists", emp.EmployeeID)
			metrics.ImportRows.WithLabelValues("failed").Inc()
			continue
		}

		var count int64
		if err := im.db.WithContext(ctx).Unscoped().Model(&database.Employee{}).
			Where("employee_id = ?", emp.EmployeeID).Count(&count).Error; err != nil {
			im.logger.Error("import lookup failed", slog.Int("row", rec.Line), slog.Any("error", err))
			res.fail(rec.Line, "Failed to import")
			metrics.ImportRows.WithLabelValues("failed").Inc()
			continue
		}
		if count > 0 {
			res.fail(rec.Line, "Employee ID %s already exists", emp.EmployeeID)
			metrics.ImportRows.WithLabelValues("failed").Inc()
			continue
		}

		if err := im.db.WithContext(ctx).Create(emp).Error; err != nil {
			im.logger.Error("import insert failed",
				slog.Int("row", rec.Line),
				slog.String("employee_id", emp.EmployeeID),
				slog.Any("error", err),
			)
			res.fail(rec.Line, "Failed to import")
			metrics.ImportRows.WithLabelValues("failed").Inc()
			continue
		}

		seen[emp.EmployeeID] = struct{}{}
		res.Success++
		metrics.ImportRows.WithLabelValues("success").Inc()
	}

	im.logger.Info("employee import finished",
		slog.Int("success", res.Success),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

// build 把一行转换为员工记录；reason 非空表示该行无效。
func build(r row, parseDate func(string) (time.Time, bool), offset int, now time.Time) (*database.Employee, string) {
	name := r[colName]
	designation := r[colDesignation]
	if name == "" || designation == "" {
		return nil, "Missing name/designation"
	}

	employeeID := r[colEmployeeID]
	if employeeID == "" {
		employeeID = GenerateEmployeeID(now, offset)
	}

	first, last := SplitName(name)

	dob, ok := parseDate(r[colBirth])
	if !ok {
		dob = defaultBirthDate
	}
	doj, ok := parseDate(r[colJoining])
	if !ok {
		doj = now
	}

	contact := orDefault(r[colContact], placeholder)
	blood := r[colBlood]
	if blood == "" || strings.EqualFold(blood, "#N/A") {
		blood = placeholder
	}

	return &database.Employee{
		EmployeeID:       employeeID,
		FirstName:        first,
		LastName:         last,
		Designation:      designation,
		Department:       orDefault(r[colDepartment], defaultDepartment),
		City:             orDefault(r[colCity], placeholder),
		ContactNumber:    contact,
		MobileNumber:     contact,
		CNIC:             orDefault(r[colCNIC], placeholder),
		BloodGroup:       blood,
		EmergencyContact: orDefault(r[colEmergency], placeholder),
		DateOfBirth:      dob,
		DateOfJoining:    doj,
		IsActive:         true,
		CardStatus:       database.CardStatusPending,
	}, ""
}

// SplitName 第一个词作为名，其余作为姓；空输入返回占位符。
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return placeholder, ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// GenerateEmployeeID 用时间戳加行偏移的末 7 位生成编号。
func GenerateEmployeeID(now time.Time, offset int) string {
	s := strconv.FormatInt(now.UnixMilli()+int64(offset), 10)
	if len(s) > 7 {
		s = s[len(s)-7:]
	}
	return s
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
