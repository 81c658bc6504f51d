package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"flexiID/internal/card"
	"flexiID/internal/metrics"
)

var (
	errFileTooLarge    = errors.New("file too large")
	errUnsupportedType = errors.New("unsupported file type, only JPEG, PNG and WEBP are allowed")
	errEmptyFile       = errors.New("empty file")
	errImageDimensions = fmt.Errorf("image too large, at most %d pixels are allowed", card.MaxImagePixels)
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// imageUpload 是通过校验的上传图片。
type imageUpload struct {
	data        []byte
	contentType string
	ext         string
}

// imageValidator 对上传图片做大小限制、内容嗅探与病毒扫描。
type imageValidator struct {
	maxBytes int64
	scanner  VirusScanner
}

func (v imageValidator) validate(ctx context.Context, fh *multipart.FileHeader) (*imageUpload, error) {
	if v.maxBytes > 0 && fh.Size > v.maxBytes {
		metrics.UploadsRejected.WithLabelValues("size").Inc()
		return nil, errFileTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if v.maxBytes > 0 {
		r = io.LimitReader(f, v.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, errEmptyFile
	}
	if v.maxBytes > 0 && int64(len(data)) > v.maxBytes {
		metrics.UploadsRejected.WithLabelValues("size").Inc()
		return nil, errFileTooLarge
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		metrics.UploadsRejected.WithLabelValues("type").Inc()
		return nil, errUnsupportedType
	}

	if err := card.CheckImageSize(data); err != nil {
		if errors.Is(err, card.ErrImageTooLarge) {
			metrics.UploadsRejected.WithLabelValues("dimensions").Inc()
			return nil, errImageDimensions
		}
		metrics.UploadsRejected.WithLabelValues("type").Inc()
		return nil, errUnsupportedType
	}

	if v.scanner != nil {
		if err := v.scanner.Scan(ctx, bytes.NewReader(data)); err != nil {
			if errors.Is(err, ErrMaliciousFile) {
				metrics.UploadsRejected.WithLabelValues("virus").Inc()
				return nil, err
			}
			metrics.UploadsRejected.WithLabelValues("scan_error").Inc()
			return nil, fmt.Errorf("scan upload: %w", err)
		}
	}

	return &imageUpload{data: data, contentType: contentType, ext: ext}, nil
}

// isClientUploadError 区分应返回 400 的校验错误与 500 的内部错误。
func isClientUploadError(err error) bool {
	return errors.Is(err, errFileTooLarge) ||
		errors.Is(err, errUnsupportedType) ||
		errors.Is(err, errEmptyFile) ||
		errors.Is(err, errImageDimensions) ||
		errors.Is(err, ErrMaliciousFile)
}
