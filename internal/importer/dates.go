package importer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/xuri/excelize/v2"
)

// 按顺序尝试的日期格式；数字日期一律按日在前解析。
var dateLayouts = []string{
	"2-Jan-2006",
	"2-Jan-06",
	"2006-01-02",
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"Monday, 2 January 2006",
	"Mon, 2 Jan 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var ambiguousNumeric = regexp.MustCompile(`^\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}$`)

// ParseDate 尽量宽松地解析日期，返回 UTC 零点。
func ParseDate(raw string) (time.Time, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return midnight(t), true
		}
	}

	// 未命中上面格式的 dd/mm/yy 不交给 dateparse，避免被当成月在前。
	if ambiguousNumeric.MatchString(s) {
		return time.Time{}, false
	}
	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return midnight(t), true
	}
	return time.Time{}, false
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// 9999-12-31 对应的序列号，Excel 能表示的最后一天。
const maxExcelSerial = 2958465

// ExcelSerialDate 把 Excel 日期序列号（如 33677）转换为 UTC 零点，忽略小数部分的时间。
func ExcelSerialDate(raw string, date1904 bool) (time.Time, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || !(v >= 1 && v <= maxExcelSerial) {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(v, date1904)
	if err != nil {
		return time.Time{}, false
	}
	return midnight(t), true
}
