package card

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"flexiID/internal/storage"
)

var (
	trailingDigits  = regexp.MustCompile(`(\d+)\s*$`)
	unsafeFileChars = regexp.MustCompile(`[/\\:*?"<>|\s]+`)
)

// LastDigits 返回员工编号末尾的数字段："HRPSP/BI/0210" -> "0210"。
func LastDigits(employeeID string) string {
	m := trailingDigits.FindStringSubmatch(strings.TrimSpace(employeeID))
	if m == nil {
		return ""
	}
	return m[1]
}

// SanitizeFileName 把路径分隔符、Windows 保留字符与空白替换为下划线。
func SanitizeFileName(name string) string {
	return unsafeFileChars.ReplaceAllString(strings.TrimSpace(name), "_")
}

// FileBase 计算生成图片的文件名前缀：优先末尾数字，其次清洗后的编号。
func FileBase(employeeID string, now time.Time) string {
	if digits := LastDigits(employeeID); digits != "" {
		return digits
	}
	if safe := SanitizeFileName(employeeID); safe != "" {
		return safe
	}
	return fmt.Sprintf("emp_%d", now.UnixMilli())
}

// ObjectKey 返回某一面工牌在对象存储中的 key。
// 以数据库行 ID 分目录，避免不同编号共享末尾数字时互相覆盖。
func ObjectKey(rowID uint, base string, side Side) string {
	return fmt.Sprintf("%s%s_%s.png", storage.CardDir(rowID), base, side)
}

// ArchiveEntryName 返回 ZIP 中的文件名。
func ArchiveEntryName(employeeID, firstName, lastName string, side Side) string {
	return SanitizeFileName(fmt.Sprintf("%s_%s_%s_%s.png", employeeID, firstName, lastName, side))
}
