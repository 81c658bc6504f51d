package api

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
)

const presignTTL = 15 * time.Minute

// ObjectStorage 是处理器依赖的对象存储能力，由 *storage.Client 实现。
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, duration time.Duration, filename string) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// presign 生成预签名链接，失败时记录日志并返回空串。
func presign(ctx context.Context, store ObjectStorage, log *slog.Logger, key string) string {
	if key == "" {
		return ""
	}
	url, err := store.GeneratePresignedURL(ctx, key, presignTTL)
	if err != nil {
		log.Warn("generate presigned url failed", slog.String("key", key), slog.Any("error", err))
		return ""
	}
	return url
}

// deleteObjects 尽力删除对象，失败只记录日志。
func deleteObjects(ctx context.Context, store ObjectStorage, log *slog.Logger, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := store.DeleteObject(ctx, key); err != nil {
			log.Warn("delete object failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}
