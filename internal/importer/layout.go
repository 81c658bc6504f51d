package importer

import (
	"regexp"
	"strings"
)

type column int

const (
	colEmployeeID column = iota
	colName
	colDesignation
	colDepartment
	colJoining
	colCity
	colBirth
	colContact
	colCNIC
	colBlood
	colEmergency
	numColumns
)

// columnMap 记录每个字段所在的列下标，-1 表示缺失。
type columnMap [numColumns]int

var headerAliases = map[string]column{
	"employee id":       colEmployeeID,
	"emp id":            colEmployeeID,
	"id":                colEmployeeID,
	"employee code":     colEmployeeID,
	"name":              colName,
	"full name":         colName,
	"employee name":     colName,
	"designation":       colDesignation,
	"department":        colDepartment,
	"dept":              colDepartment,
	"date of joining":   colJoining,
	"doj":               colJoining,
	"joining date":      colJoining,
	"city":              colCity,
	"date of birth":     colBirth,
	"dob":               colBirth,
	"contact":           colContact,
	"contact number":    colContact,
	"contact no":        colContact,
	"mobile":            colContact,
	"mobile number":     colContact,
	"phone":             colContact,
	"cnic":              colCNIC,
	"blood group":       colBlood,
	"blood":             colBlood,
	"emergency":         colEmergency,
	"emergency contact": colEmergency,
	"emergency no":      colEmergency,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeHeader(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

// headerColumns 判断该行是否为表头，并返回按名称映射的列。
func headerColumns(cells []string) (columnMap, bool) {
	var m columnMap
	for i := range m {
		m[i] = -1
	}
	for i, cell := range cells {
		col, ok := headerAliases[normalizeHeader(cell)]
		if ok && m[col] == -1 {
			m[col] = i
		}
	}
	return m, m[colName] >= 0 && m[colDesignation] >= 0
}

// isTitleRow 识别 "Employee Card Data" 这类标题行。
func isTitleRow(cells []string) bool {
	return len(cells) > 0 && strings.Contains(strings.ToLower(cells[0]), "employee")
}

// positionalColumns 按列数推断固定布局：恰好 11 列时没有序号列。
// width 取整个文件最宽的数据行，末尾缺格的短行沿用同一布局。
func positionalColumns(width int) columnMap {
	offset := 1
	if width == 11 {
		offset = 0
	}
	var m columnMap
	for i := range m {
		m[i] = i + offset
	}
	return m
}

// detect 跳过开头的标题行，返回表头映射（若有）与数据起始下标。
func detect(records []Record) (header *columnMap, start int) {
	for i, rec := range records {
		if m, ok := headerColumns(rec.Cells); ok {
			return &m, i + 1
		}
		if isTitleRow(rec.Cells) {
			continue
		}
		return nil, i
	}
	return nil, len(records)
}

func widest(records []Record) int {
	w := 0
	for _, rec := range records {
		w = max(w, len(rec.Cells))
	}
	return w
}

// row 是按字段取值后的一行原始数据。
type row [numColumns]string

func extract(cells []string, m columnMap) row {
	var r row
	for col, idx := range m {
		if idx >= 0 && idx < len(cells) {
			r[col] = strings.TrimSpace(cells[idx])
		}
	}
	return r
}
