package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flexiID/internal/config"
	"flexiID/internal/database"
	"flexiID/internal/metrics"
)

// Side 表示工牌的正面或背面。
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// Sides 按生成顺序列出两面。
var Sides = []Side{SideFront, SideBack}

// ParseSide 解析 "front"/"back"。
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideFront, SideBack:
		return Side(s), nil
	}
	return "", fmt.Errorf("invalid card side %q", s)
}

// Input 是渲染单面工牌所需的全部数据。
// Template 与 Photo 为原始图片字节，可以为空。
type Input struct {
	Side     Side
	Employee database.Employee
	Template []byte
	Photo    []byte
}

// Renderer 将 Input 渲染为 PNG 字节。
type Renderer interface {
	Render(ctx context.Context, in Input) ([]byte, error)
	Name() string
}

// FallbackRenderer 先尝试 Primary，失败后改用 Fallback。
type FallbackRenderer struct {
	Primary  Renderer
	Fallback Renderer
	Logger   *slog.Logger
}

func (f *FallbackRenderer) Name() string {
	return f.Primary.Name() + "+" + f.Fallback.Name()
}

func (f *FallbackRenderer) Render(ctx context.Context, in Input) ([]byte, error) {
	out, err := f.Primary.Render(ctx, in)
	if err == nil {
		return out, nil
	}

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("primary card renderer failed, falling back",
		slog.String("primary", f.Primary.Name()),
		slog.String("fallback", f.Fallback.Name()),
		slog.String("side", string(in.Side)),
		slog.String("employee_id", in.Employee.EmployeeID),
		slog.Any("error", err),
	)
	metrics.CardRendererFallbacks.Inc()

	out, fallbackErr := f.Fallback.Render(ctx, in)
	if fallbackErr != nil {
		return nil, errors.Join(err, fallbackErr)
	}
	return out, nil
}

// NewRenderer 根据 card.renderer 配置组装渲染器。
func NewRenderer(mode string, browserTimeout time.Duration, logger *slog.Logger) (Renderer, error) {
	switch mode {
	case config.RendererCompose:
		return NewCompositor()
	case config.RendererBrowser:
		return NewBrowserRenderer(browserTimeout, logger), nil
	case config.RendererAuto, "":
		compositor, err := NewCompositor()
		if err != nil {
			return nil, err
		}
		return &FallbackRenderer{
			Primary:  compositor,
			Fallback: NewBrowserRenderer(browserTimeout, logger),
			Logger:   logger,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported card renderer %q", mode)
	}
}
