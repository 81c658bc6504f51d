package card

import (
	"strings"
	"time"

	"flexiID/internal/database"
)

// Placeholder 用于缺失字段。
const Placeholder = "—"

// DateLayout 是工牌背面日期的显示格式。
const DateLayout = "02 Jan 2006"

// Field 是背面的一行标签与取值。
type Field struct {
	Label string
	Value string
}

// FrontFields 汇总正面需要的文字。
type FrontFields struct {
	FirstName   string
	LastName    string
	Designation string
	Details     []Field
}

func orPlaceholder(v string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return Placeholder
}

// FormatDate 按 DateLayout 格式化日期，零值返回占位符。
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return Placeholder
	}
	return t.Format(DateLayout)
}

// MobileOf 返回手机号，缺失时退回联系电话。
func MobileOf(emp database.Employee) string {
	if strings.TrimSpace(emp.MobileNumber) != "" && emp.MobileNumber != Placeholder {
		return emp.MobileNumber
	}
	return orPlaceholder(emp.ContactNumber)
}

// Front 返回正面文字内容。
func Front(emp database.Employee) FrontFields {
	first := strings.TrimSpace(emp.FirstName)
	last := strings.TrimSpace(emp.LastName)
	if first == "" && last == "" {
		first = Placeholder
	}
	return FrontFields{
		FirstName:   first,
		LastName:    last,
		Designation: strings.ToUpper(orPlaceholder(emp.Designation)),
		Details: []Field{
			{Label: "EMPLOYEE ID:", Value: orPlaceholder(emp.EmployeeID)},
			{Label: "DEPARTMENT:", Value: orPlaceholder(emp.Department)},
			{Label: "CONTACT:", Value: orPlaceholder(emp.ContactNumber)},
		},
	}
}

// Back 返回背面的行。
func Back(emp database.Employee) []Field {
	return []Field{
		{Label: "Employee ID:", Value: orPlaceholder(emp.EmployeeID)},
		{Label: "Department:", Value: orPlaceholder(emp.Department)},
		{Label: "City:", Value: orPlaceholder(emp.City)},
		{Label: "Date of Joining:", Value: FormatDate(emp.DateOfJoining)},
		{Label: "Date of Birth:", Value: FormatDate(emp.DateOfBirth)},
		{Label: "Mobile:", Value: MobileOf(emp)},
		{Label: "CNIC:", Value: orPlaceholder(emp.CNIC)},
		{Label: "Blood Group:", Value: orPlaceholder(emp.BloodGroup)},
		{Label: "Emergency #:", Value: orPlaceholder(emp.EmergencyContact)},
	}
}
