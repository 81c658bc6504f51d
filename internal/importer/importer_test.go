package importer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"flexiID/internal/database"
	"flexiID/internal/dbtest"
)

func newTestImporter(t *testing.T) *Importer {
	t.Helper()
	im := New(dbtest.New(t), nil)
	im.now = func() time.Time { return time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC) }
	return im
}

func loadEmployee(t *testing.T, im *Importer, employeeID string) database.Employee {
	t.Helper()
	var emp database.Employee
	if err := im.db.Where("employee_id = ?", employeeID).First(&emp).Error; err != nil {
		t.Fatalf("load %s: %v", employeeID, err)
	}
	return emp
}

func TestImport_PositionalWithTitleRow(t *testing.T) {
	im := newTestImporter(t)
	csv := strings.Join([]string{
		"Employee Card Data,,,,,,,,,,,",
		"1,HRPSP/BI/0210,Ayesha Noor Khan,Senior Analyst,Finance,10-Jul-2025,Lahore,14/03/1992,0300-1234567,35202-1234567-1,#N/A,0301-7654321",
		"2,HRPSP/BI/0211,,Engineer,IT,,,,,,,",
		"3,HRPSP/BI/0212,Bilal,Driver,,,,,,,,",
	}, "\n")

	res, err := im.Import(context.Background(), "staff.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Errors[0] != "Row 3: Missing name/designation" {
		t.Fatalf("unexpected error %q", res.Errors[0])
	}

	emp := loadEmployee(t, im, "HRPSP/BI/0210")
	if emp.FirstName != "Ayesha" || emp.LastName != "Noor Khan" {
		t.Fatalf("unexpected name split %q %q", emp.FirstName, emp.LastName)
	}
	if emp.BloodGroup != placeholder {
		t.Fatalf("expected #N/A blood group to become placeholder, got %q", emp.BloodGroup)
	}
	if emp.MobileNumber != "0300-1234567" {
		t.Fatalf("expected mobile to mirror contact, got %q", emp.MobileNumber)
	}
	if !emp.DateOfBirth.Equal(time.Date(1992, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected dob %v", emp.DateOfBirth)
	}

	bilal := loadEmployee(t, im, "HRPSP/BI/0212")
	if bilal.Department != defaultDepartment || bilal.City != placeholder || bilal.CNIC != placeholder {
		t.Fatalf("expected defaults, got %+v", bilal)
	}
	if !bilal.DateOfBirth.Equal(defaultBirthDate) {
		t.Fatalf("expected default dob, got %v", bilal.DateOfBirth)
	}
	if !bilal.DateOfJoining.Equal(im.now()) {
		t.Fatalf("expected import time as doj, got %v", bilal.DateOfJoining)
	}
	if !bilal.IsActive || bilal.CardStatus != database.CardStatusPending {
		t.Fatalf("expected active pending employee, got %+v", bilal)
	}
}

func TestImport_ElevenColumnsWithoutSerial(t *testing.T) {
	im := newTestImporter(t)
	csv := "E-9,Sara Ahmed,Designer,Art,2025-01-05,Karachi,1995-06-01,0333,4210,O+,0334\n"

	res, err := im.Import(context.Background(), "staff.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	emp := loadEmployee(t, im, "E-9")
	if emp.Designation != "Designer" || emp.BloodGroup != "O+" || emp.EmergencyContact != "0334" {
		t.Fatalf("unexpected employee %+v", emp)
	}
}

func TestImport_ShortTrailingRowKeepsFileLayout(t *testing.T) {
	im := newTestImporter(t)
	csv := strings.Join([]string{
		"1,E-1,Ali Raza,Clerk,IT,2025-01-05,Lahore,1990-05-01,0300,4210,A+,0301",
		"2,E-2,Bina Shah,Accountant,Finance,2025-01-06,Karachi,1991-06-02,0311,4220,B+",
	}, "\n")

	res, err := im.Import(context.Background(), "staff.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	bina := loadEmployee(t, im, "E-2")
	if bina.Designation != "Accountant" || bina.BloodGroup != "B+" || bina.EmergencyContact != placeholder {
		t.Fatalf("unexpected employee %+v", bina)
	}
}

// writeXLSX 把 rows 写入 Sheet1，style 可在保存前调整单元格。
func writeXLSX(t *testing.T, rows [][]any, style func(f *excelize.File)) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if style != nil {
		style(f)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestImport_XLSXShortTrailingRow(t *testing.T) {
	im := newTestImporter(t)
	in := writeXLSX(t, [][]any{
		{"Employee Card Data"},
		{1, "HRPSP/BI/0210", "Ayesha Khan", "Senior Analyst", "Finance", "10-Jul-2025", "Lahore", "14/03/1992", "0300-1234567", "35202-1234567-1", "B+", "0301-7654321"},
		{2, "HRPSP/BI/0211", "Bilal Ahmed", "Driver", "Transport", "11-Jul-2025", "Karachi", "01/02/1990", "0311-1111111", "42101-7654321-1", "O+"},
	}, nil)

	res, err := im.Import(context.Background(), "staff.xlsx", in)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	ayesha := loadEmployee(t, im, "HRPSP/BI/0210")
	if ayesha.EmergencyContact != "0301-7654321" || ayesha.BloodGroup != "B+" {
		t.Fatalf("unexpected employee %+v", ayesha)
	}
	bilal := loadEmployee(t, im, "HRPSP/BI/0211")
	if bilal.FirstName != "Bilal" || bilal.Designation != "Driver" || bilal.Department != "Transport" {
		t.Fatalf("columns shifted: %+v", bilal)
	}
	if bilal.CNIC != "42101-7654321-1" || bilal.BloodGroup != "O+" || bilal.EmergencyContact != placeholder {
		t.Fatalf("columns shifted: %+v", bilal)
	}
	if !bilal.DateOfBirth.Equal(time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected dob %v", bilal.DateOfBirth)
	}
}

func TestImport_XLSXDateCells(t *testing.T) {
	im := newTestImporter(t)
	in := writeXLSX(t, [][]any{
		{"Employee ID", "Name", "Designation", "Date of Birth", "Date of Joining"},
		{"E-1", "Sara Ahmed", "Designer", time.Date(1992, 3, 14, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
	}, func(f *excelize.File) {
		// 14 为内置的短日期格式，默认渲染成 "03-14-92"
		id, err := f.NewStyle(&excelize.Style{NumFmt: 14})
		if err != nil {
			t.Fatalf("new style: %v", err)
		}
		if err := f.SetCellStyle("Sheet1", "D2", "D2", id); err != nil {
			t.Fatalf("set style: %v", err)
		}
	})

	res, err := im.Import(context.Background(), "staff.xlsx", in)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	emp := loadEmployee(t, im, "E-1")
	if !emp.DateOfBirth.Equal(time.Date(1992, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected dob %v", emp.DateOfBirth)
	}
	if !emp.DateOfJoining.Equal(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected doj %v", emp.DateOfJoining)
	}
}

func TestImport_HeaderMapping(t *testing.T) {
	im := newTestImporter(t)
	csv := strings.Join([]string{
		"Employee Card Data",
		"Full Name,Emp. ID,Designation,DOB,Blood Group,Contact #",
		"Usman Ali,X-100,Manager,Dec 1 1990,A-,0321",
	}, "\n")

	res, err := im.Import(context.Background(), "staff.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	emp := loadEmployee(t, im, "X-100")
	if emp.FirstName != "Usman" || emp.Designation != "Manager" || emp.BloodGroup != "A-" || emp.ContactNumber != "0321" {
		t.Fatalf("unexpected employee %+v", emp)
	}
}

func TestImport_Duplicates(t *testing.T) {
	im := newTestImporter(t)
	if err := im.db.Create(&database.Employee{EmployeeID: "E-1", FirstName: "Old"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	csv := strings.Join([]string{
		"1,E-1,Ali,Clerk",
		"2,E-2,Bina,Clerk",
		"3,E-2,Chand,Clerk",
	}, "\n")

	res, err := im.Import(context.Background(), "staff.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 1 || res.Failed != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []string{
		"Row 1: Employee ID E-1 already exists",
		"Row 3: Employee ID E-2 already exists",
	}
	for i, msg := range want {
		if res.Errors[i] != msg {
			t.Fatalf("error %d: expected %q got %q", i, msg, res.Errors[i])
		}
	}
}

func TestImport_GeneratesMissingEmployeeID(t *testing.T) {
	im := newTestImporter(t)
	res, err := im.Import(context.Background(), "staff.csv", strings.NewReader("1,,Ali,Clerk\n"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := GenerateEmployeeID(im.now(), 0)
	if len(want) != 7 {
		t.Fatalf("expected 7 digit id, got %q", want)
	}
	loadEmployee(t, im, want)
}

func TestImport_InvalidCSV(t *testing.T) {
	im := newTestImporter(t)
	if _, err := im.Import(context.Background(), "staff.csv", strings.NewReader("a,b\"c\n")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSplitName(t *testing.T) {
	cases := []struct{ in, first, last string }{
		{"Ali", "Ali", ""},
		{"  Ali   Raza  Khan ", "Ali", "Raza Khan"},
		{"", placeholder, ""},
	}
	for _, tc := range cases {
		first, last := SplitName(tc.in)
		if first != tc.first || last != tc.last {
			t.Fatalf("SplitName(%q) = %q,%q", tc.in, first, last)
		}
	}
}

func TestDetect(t *testing.T) {
	records := []Record{
		{Line: 1, Cells: []string{"Employee Card Data"}},
		{Line: 2, Cells: []string{"Employee List 2025"}},
		{Line: 3, Cells: []string{"1", "E1", "Ali", "Clerk"}},
	}
	header, start := detect(records)
	if header != nil || start != 2 {
		t.Fatalf("unexpected detection header=%v start=%d", header, start)
	}
}
