package card

import (
	"testing"
	"time"
)

func TestLastDigits(t *testing.T) {
	cases := map[string]string{
		"HRPSP/BI/0210": "0210",
		"EMP-42":        "42",
		"1234567":       "1234567",
		"A12B":          "",
		"":              "",
		" X/007 ":       "007",
	}
	for in, want := range cases {
		if got := LastDigits(in); got != want {
			t.Fatalf("LastDigits(%q) = %q want %q", in, got, want)
		}
	}
}

func TestFileBase(t *testing.T) {
	now := time.UnixMilli(1752130000000)
	cases := []struct {
		in, want string
	}{
		{"HRPSP/BI/0210", "0210"},
		{"AB/CD", "AB_CD"},
		{`a:b*c?"d<e>f|g h`, "a_b_c_d_e_f_g_h"},
		{"   ", "emp_1752130000000"},
	}
	for _, tc := range cases {
		if got := FileBase(tc.in, now); got != tc.want {
			t.Fatalf("FileBase(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey(7, "0210", SideBack); got != "cards/7/0210_back.png" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestArchiveEntryName(t *testing.T) {
	got := ArchiveEntryName("HRPSP/BI/0210", "Ayesha", "Khan", SideFront)
	if got != "HRPSP_BI_0210_Ayesha_Khan_front.png" {
		t.Fatalf("unexpected entry name %q", got)
	}
}
