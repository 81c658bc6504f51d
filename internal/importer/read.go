package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrInvalidCSV 表示 CSV 无法解析。
	ErrInvalidCSV = errors.New("invalid CSV format")
	// ErrUnsupportedFormat 表示既不是 .csv 也不是 .xlsx。
	ErrUnsupportedFormat = errors.New("unsupported file format, expected .csv or .xlsx")
	// ErrEmptyFile 表示文件中没有任何非空行。
	ErrEmptyFile = errors.New("file contains no rows")
)

// Record 是文件中的一行，Line 为 1 起始的原始行号。
type Record struct {
	Line  int
	Cells []string

	// 来自 xlsx 时日期单元格是未格式化的序列号
	excelDates bool
	date1904   bool
}

func (r Record) parseDate(raw string) (time.Time, bool) {
	if r.excelDates {
		if t, ok := ExcelSerialDate(raw, r.date1904); ok {
			return t, true
		}
	}
	return ParseDate(raw)
}

// Read 按扩展名选择解析器，跳过所有单元格都为空的行。
func Read(filename string, r io.Reader) ([]Record, error) {
	var (
		records []Record
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		records, err = ReadCSV(r)
	case ".xlsx":
		records, err = ReadXLSX(r)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}
	return records, nil
}

// ReadCSV 读取逗号分隔文件，允许各行列数不同。
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Record
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		line, _ := cr.FieldPos(0)
		if len(out) == 0 && len(cells) > 0 {
			cells[0] = strings.TrimPrefix(cells[0], "\ufeff")
		}
		if blank(cells) {
			continue
		}
		out = append(out, Record{Line: line, Cells: cells})
	}
	return out, nil
}

// ReadXLSX 读取工作簿的第一个工作表。
func ReadXLSX(r io.Reader) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	// 按数字格式渲染的日期是 "03-14-92" 这类月在前的短格式，取原始序列号
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	props, err := f.GetWorkbookProps()
	if err != nil {
		return nil, fmt.Errorf("read workbook props: %w", err)
	}
	date1904 := props.Date1904 != nil && *props.Date1904

	out := make([]Record, 0, len(rows))
	for i, cells := range rows {
		if blank(cells) {
			continue
		}
		out = append(out, Record{Line: i + 1, Cells: cells, excelDates: true, date1904: date1904})
	}
	return out, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
