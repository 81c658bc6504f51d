package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"flexiID/internal/config"
)

// 对象前缀约定：员工照片、模板底图、生成的工牌。
const (
	PhotoPrefix    = "photos/"
	TemplatePrefix = "templates/"
	CardPrefix     = "cards/"
)

// CardDir 返回某个员工行全部工牌图片所在的目录前缀。
func CardDir(rowID uint) string {
	return fmt.Sprintf("%s%d/", CardPrefix, rowID)
}

// Client 封装 MinIO 客户端。内网客户端负责读写，公网客户端只用于签发下载链接。
type Client struct {
	internalClient *minio.Client
	publicClient   *minio.Client
	bucketName     string
}

func parseBucketLookup(v string) (minio.BucketLookupType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "auto":
		return minio.BucketLookupAuto, nil
	case "dns":
		return minio.BucketLookupDNS, nil
	case "path":
		return minio.BucketLookupPath, nil
	default:
		return minio.BucketLookupAuto, fmt.Errorf("invalid minio bucket lookup %q", v)
	}
}

// NewClient 根据配置初始化 MinIO 客户端，并确认目标 Bucket 可用。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	lookup, err := parseBucketLookup(cfg.BucketLookup)
	if err != nil {
		return nil, err
	}
	open := func(endpoint string, secure bool) (*minio.Client, error) {
		return minio.New(endpoint, &minio.Options{
			Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure:       secure,
			Region:       cfg.Region,
			BucketLookup: lookup,
		})
	}

	internalClient, err := open(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("init internal minio client: %w", err)
	}

	public, err := url.Parse(cfg.PublicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse minio public endpoint: %w", err)
	}
	if public.Host == "" {
		return nil, errors.New("invalid minio public endpoint, host missing")
	}
	publicClient, err := open(public.Host, public.Scheme == "https")
	if err != nil {
		return nil, fmt.Errorf("init public minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ensureBucket(ctx, internalClient, cfg); err != nil {
		return nil, err
	}

	return &Client{
		internalClient: internalClient,
		publicClient:   publicClient,
		bucketName:     cfg.Bucket,
	}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, cfg config.MinIOConfig) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if !cfg.AutoCreateBucket {
		return fmt.Errorf("bucket %q does not exist (auto create disabled)", cfg.Bucket)
	}
	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
	}
	return nil
}

// UploadFile 将对象写入私有 Bucket。
func (c *Client) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	info, err := c.internalClient.PutObject(ctx, c.bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("put object %q: %w", objectName, err)
	}
	return &info, nil
}

// ReadObject 读取整个对象。对象不存在时返回包装了 ErrObjectNotFound 的错误。
// minio 的 GetObject 是惰性的，NoSuchKey 直到读取时才会出现。
func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := c.internalClient.GetObject(ctx, c.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(objectKey, err)
	}
	defer func() {
		_ = obj.Close()
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify(objectKey, err)
	}
	return data, nil
}

func classify(objectKey string, err error) error {
	if IsNoSuchKey(err) {
		return fmt.Errorf("read object %q: %w", objectKey, ErrObjectNotFound)
	}
	return fmt.Errorf("read object %q: %w", objectKey, err)
}

// GeneratePresignedURL 生成对象的限时查看链接。
func (c *Client) GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error) {
	u, err := c.publicClient.PresignedGetObject(ctx, c.bucketName, objectKey, duration, nil)
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", objectKey, err)
	}
	return u.String(), nil
}

// GeneratePresignedDownloadURL 生成以附件形式下载的限时链接，浏览器保存为 filename。
func (c *Client) GeneratePresignedDownloadURL(ctx context.Context, objectKey string, duration time.Duration, filename string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	u, err := c.publicClient.PresignedGetObject(ctx, c.bucketName, objectKey, duration, params)
	if err != nil {
		return "", fmt.Errorf("presign download %q: %w", objectKey, err)
	}
	return u.String(), nil
}

// DeleteObject 删除单个对象，对象或 Bucket 不存在都视为成功。
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil
	}
	if err := c.internalClient.RemoveObject(ctx, c.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		if IsNoSuchKey(err) || IsNoSuchBucket(err) {
			return nil
		}
		return fmt.Errorf("remove object %q: %w", objectKey, err)
	}
	return nil
}

// DeletePrefix 批量删除前缀下的所有对象，返回第一个错误及失败数量。
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return errors.New("refusing to delete an empty prefix")
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	objects := c.internalClient.ListObjects(listCtx, c.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var listErr error
	toRemove := make(chan minio.ObjectInfo)
	go func() {
		defer close(toRemove)
		for obj := range objects {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case toRemove <- obj:
			case <-listCtx.Done():
				return
			}
		}
	}()

	var failed int
	var firstErr error
	for res := range c.internalClient.RemoveObjects(ctx, c.bucketName, toRemove, minio.RemoveObjectsOptions{}) {
		if res.Err == nil || IsNoSuchKey(res.Err) {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("remove object %q: %w", res.ObjectName, res.Err)
		}
	}
	if listErr != nil {
		return fmt.Errorf("list objects under %q: %w", prefix, listErr)
	}
	if failed > 0 {
		return fmt.Errorf("delete objects under %q (%d failed): %w", prefix, failed, firstErr)
	}
	return nil
}
