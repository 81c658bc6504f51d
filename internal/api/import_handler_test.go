package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"flexiID/internal/database"
	"flexiID/internal/dbtest"
	"flexiID/internal/importer"
)

func newImportTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	h := NewImportHandler(importer.New(db, nil))
	r := newTestRouter(1, database.RoleAdmin)
	r.POST("/v1/employees/import", h.ImportEmployees)
	return r, db
}

func TestImportEmployees_CSV(t *testing.T) {
	r, db := newImportTestRouter(t)
	seedEmployee(t, db, database.Employee{EmployeeID: "HRPSP/BI/0001", FirstName: "Old", Designation: "X", IsActive: true})

	csv := strings.Join([]string{
		"Employee Card Data",
		"Employee ID,Name,Designation,Department,DOJ,City,DOB,Contact,CNIC,Blood Group,Emergency",
		"HRPSP/BI/0210,Ayesha Khan,Engineer,Product,10-Jul-2025,Lahore,08/04/1994,0300 1234567,35202-1234567-1,B+,0300 7654321",
		"HRPSP/BI/0001,Dup Person,Engineer,,,,,,,,",
		",No Designation,,,,,,,,,",
	}, "\n")

	w := doMultipart(t, r, "/v1/employees/import", nil, formFile{field: "file", filename: "staff.csv", data: []byte(csv)})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	res := decodeBody[importer.Result](t, w)
	if res.Success != 1 || res.Failed != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Errors) != 2 ||
		res.Errors[0] != "Row 4: Employee ID HRPSP/BI/0001 already exists" ||
		res.Errors[1] != "Row 5: Missing name/designation" {
		t.Fatalf("errors = %q", res.Errors)
	}

	var emp database.Employee
	if err := db.Where("employee_id = ?", "HRPSP/BI/0210").First(&emp).Error; err != nil {
		t.Fatalf("imported employee: %v", err)
	}
	if emp.FirstName != "Ayesha" || emp.LastName != "Khan" || emp.City != "Lahore" {
		t.Fatalf("imported = %+v", emp)
	}
}

func TestImportEmployees_Rejects(t *testing.T) {
	r, _ := newImportTestRouter(t)

	cases := []struct {
		name     string
		filename string
		data     string
		want     string
	}{
		{"malformed csv", "bad.csv", "a,\"b\nc,d", "invalid CSV format"},
		{"unsupported extension", "staff.txt", "a,b", importer.ErrUnsupportedFormat.Error()},
		{"empty file", "empty.csv", "\n\n", importer.ErrEmptyFile.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doMultipart(t, r, "/v1/employees/import", nil, formFile{field: "file", filename: tc.filename, data: []byte(tc.data)})
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
			}
			if got := decodeBody[map[string]string](t, w)["error"]; got != tc.want {
				t.Fatalf("error = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestImportEmployees_MissingFile(t *testing.T) {
	r, _ := newImportTestRouter(t)
	w := doMultipart(t, r, "/v1/employees/import", map[string]string{"other": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}
