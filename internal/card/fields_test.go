package card

import (
	"testing"

	"flexiID/internal/database"
)

func TestFront(t *testing.T) {
	f := Front(sampleEmployee())
	if f.FirstName != "Ayesha" || f.LastName != "Khan" {
		t.Fatalf("unexpected name %q %q", f.FirstName, f.LastName)
	}
	if f.Designation != "SENIOR ANALYST" {
		t.Fatalf("expected uppercase designation, got %q", f.Designation)
	}
	if len(f.Details) != 3 || f.Details[0].Value != "HRPSP/BI/0210" {
		t.Fatalf("unexpected details %+v", f.Details)
	}
}

func TestFront_EmptyEmployee(t *testing.T) {
	f := Front(database.Employee{})
	if f.FirstName != Placeholder || f.Designation != Placeholder {
		t.Fatalf("expected placeholders, got %+v", f)
	}
	for _, d := range f.Details {
		if d.Value != Placeholder {
			t.Fatalf("expected placeholder for %s, got %q", d.Label, d.Value)
		}
	}
}

func TestBack(t *testing.T) {
	rows := Back(sampleEmployee())
	want := map[string]string{
		"Date of Joining:": "10 Jul 2025",
		"Date of Birth:":   "14 Mar 1992",
		"Mobile:":          "0300-1234567",
		"Emergency #:":     Placeholder,
	}
	got := map[string]string{}
	for _, r := range rows {
		got[r.Label] = r.Value
	}
	for label, value := range want {
		if got[label] != value {
			t.Fatalf("%s: expected %q got %q", label, value, got[label])
		}
	}
	if len(rows) != 9 {
		t.Fatalf("expected 9 rows got %d", len(rows))
	}
}

func TestMobileOf(t *testing.T) {
	emp := database.Employee{ContactNumber: "111", MobileNumber: "222"}
	if got := MobileOf(emp); got != "222" {
		t.Fatalf("expected mobile, got %q", got)
	}
	emp.MobileNumber = Placeholder
	if got := MobileOf(emp); got != "111" {
		t.Fatalf("expected contact fallback, got %q", got)
	}
}
