package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dutchcoders/go-clamd"
)

// ErrMaliciousFile 表示扫描器报告了病毒。
var ErrMaliciousFile = errors.New("malicious file detected")

// VirusScanner 扫描上传内容；发现病毒时返回 ErrMaliciousFile。
type VirusScanner interface {
	Scan(ctx context.Context, r io.Reader) error
}

// ClamdScanner 通过 clamd 的 INSTREAM 命令扫描。
type ClamdScanner struct {
	addr string
}

// NewClamdScanner 在 addr 为空时返回 nil，表示不扫描。
func NewClamdScanner(addr string) VirusScanner {
	if addr == "" {
		return nil
	}
	return &ClamdScanner{addr: addr}
}

func (s *ClamdScanner) Scan(ctx context.Context, r io.Reader) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := clamd.NewClamd(s.addr).ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("clamd scan stream: %w", err)
	}

	var scanErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result, ok := <-results:
			if !ok {
				return scanErr
			}
			switch result.Status {
			case clamd.RES_OK:
			case clamd.RES_FOUND:
				scanErr = fmt.Errorf("%w: %s", ErrMaliciousFile, result.Description)
			default:
				if scanErr == nil {
					scanErr = fmt.Errorf("clamd returned %s: %s", result.Status, result.Description)
				}
			}
		}
	}
}
