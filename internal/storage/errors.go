package storage

import (
	"errors"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ErrObjectNotFound 表示对象不存在；ReadObject 返回的错误可用 errors.Is 判断。
var ErrObjectNotFound = errors.New("object not found")

// s3Code 取出 minio 错误响应中的错误码，非 minio 错误返回空串。
func s3Code(err error) string {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return strings.ToLower(strings.TrimSpace(resp.Code))
	}
	return ""
}

// messageMentions 兜底匹配被网关或代理转成纯文本的错误。
func messageMentions(err error, needles ...string) bool {
	lower := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// IsNoSuchKey 判断错误是否表示对象不存在。
func IsNoSuchKey(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrObjectNotFound):
		return true
	}
	switch s3Code(err) {
	case "nosuchkey", "notfound":
		return true
	case "":
		return messageMentions(err, "nosuchkey", "specified key does not exist")
	default:
		return false
	}
}

// IsNoSuchBucket 判断错误是否表示 Bucket 不存在。
func IsNoSuchBucket(err error) bool {
	if err == nil {
		return false
	}
	if code := s3Code(err); code != "" {
		return code == "nosuchbucket"
	}
	return messageMentions(err, "nosuchbucket", "specified bucket does not exist")
}
