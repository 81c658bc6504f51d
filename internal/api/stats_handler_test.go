package api

import (
	"net/http"
	"testing"

	"flexiID/internal/database"
	"flexiID/internal/dbtest"
)

func TestGetStats(t *testing.T) {
	db := dbtest.New(t)
	h := NewStatsHandler(db)
	r := newTestRouter(1, database.RoleOperator)
	r.GET("/v1/stats", h.GetStats)

	seedEmployee(t, db, database.Employee{EmployeeID: "1", FirstName: "A", Designation: "B", IsActive: true, CardGenerated: true})
	seedEmployee(t, db, database.Employee{EmployeeID: "2", FirstName: "C", Designation: "D", IsActive: true})
	seedEmployee(t, db, database.Employee{EmployeeID: "3", FirstName: "E", Designation: "F", IsActive: true})
	gone := seedEmployee(t, db, database.Employee{EmployeeID: "4", FirstName: "G", Designation: "H", IsActive: true, CardGenerated: true})
	db.Model(&gone).Update("is_active", false)

	db.Create(&database.Template{Name: "f", Type: database.TemplateFront, ImagePath: "templates/f.png", IsActive: true})
	db.Create(&database.Template{Name: "old", Type: database.TemplateBack, ImagePath: "templates/b.png"})

	w := doJSON(t, r, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decodeBody[statsResponse](t, w)
	want := statsResponse{TotalEmployees: 3, CardsGenerated: 1, TemplatesActive: 1, PendingCards: 2}
	if got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
}
