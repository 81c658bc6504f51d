package card

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserRenderer 用无头 Chromium 截取 HTML 工牌，作为合成渲染失败时的兜底。
// 每次调用启动独立的浏览器进程。
type BrowserRenderer struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewBrowserRenderer 创建浏览器渲染器；timeout 覆盖一次完整渲染。
func NewBrowserRenderer(timeout time.Duration, logger *slog.Logger) *BrowserRenderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserRenderer{timeout: timeout, logger: logger}
}

func (b *BrowserRenderer) Name() string { return "browser" }

func (b *BrowserRenderer) Render(ctx context.Context, in Input) (_ []byte, err error) {
	html, err := HTML(in)
	if err != nil {
		return nil, err
	}

	launch := launcher.New().
		Headless(true).
		NoSandbox(true)
	defer launch.Cleanup()

	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	controlURL, err := launch.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx).Timeout(b.timeout)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             int(refWidth),
		Height:            int(refHeight),
		DeviceScaleFactor: defaultScale,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if err := page.SetDocumentContent(string(html)); err != nil {
		return nil, fmt.Errorf("set card html: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait card load: %w", err)
	}

	// data URI 图片通常已同步解码，这里仍等待 complete 以防大图。
	if _, evalErr := page.Eval(`() => Promise.all(Array.from(document.images).map(img =>
	  img.complete ? true : new Promise(resolve => { img.onload = img.onerror = () => resolve(true) })
	))`); evalErr != nil {
		b.logger.Warn("wait for card images failed, continue", slog.Any("error", evalErr))
	}

	el, err := page.Element(RootSelector)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", RootSelector, err)
	}
	shot, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("screenshot card: %w", err)
	}

	b.logger.Debug("card rendered in browser",
		slog.String("side", string(in.Side)),
		slog.String("employee_id", in.Employee.EmployeeID),
		slog.Int("bytes", len(shot)),
	)
	return shot, nil
}
