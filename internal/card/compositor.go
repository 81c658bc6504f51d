package card

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"math"
	"unicode/utf8"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"flexiID/internal/database"
)

// 所有坐标都定义在 450×750 的参考卡面上，渲染时按模板宽度等比缩放。
const (
	refWidth  = 450.0
	refHeight = 750.0

	// 无模板时内置底图的缩放倍数（900×1500）。
	defaultScale = 2.0
)

// 正面布局。
const (
	photoWidth  = 217.0
	photoHeight = 224.0
	photoTop    = 180.0
	photoRadius = 30.0

	nameTop        = 440.0
	nameSize       = 44.0
	nameMinSize    = 26.0
	nameLineHeight = 1.05
	namePadding    = 24.0

	designationTop      = 610.0
	designationSize     = 14.0
	designationMinSize  = 9.0
	designationTracking = 0.25

	detailSize     = 12.0
	detailLineBox  = 18.0
	detailGap      = 4.0
	detailBottom   = 30.0
	detailPaddingX = 24.0
)

// 背面布局。
const (
	backTop        = 180.0
	backLeftRatio  = 0.11
	backWidthRatio = 0.78
	backLabelWidth = 140.0
	backColumnGap  = 16.0
	backSize       = 16.0
	backMinSize    = 11.0
	backLineBox    = 24.0
	backRowGap     = 8.0
)

var (
	inkColor         = color.RGBA{R: 0x0B, G: 0x4B, B: 0x57, A: 0xFF}
	whiteColor       = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	pillColor        = color.RGBA{R: 0xF5, G: 0xC5, B: 0x42, A: 0xFF}
	placeholderBG    = color.RGBA{R: 0xE5, G: 0xE7, B: 0xEB, A: 0xFF}
	placeholderShape = color.RGBA{R: 0x9C, G: 0xA3, B: 0xAF, A: 0xFF}
)

type weight int

const (
	regular weight = iota
	bold
)

// Compositor 直接在模板图片上绘制文字与照片。
// 同样的输入总是得到逐字节相同的 PNG。
type Compositor struct {
	regular *opentype.Font
	bold    *opentype.Font
}

// NewCompositor 解析内置 Go 字体。
func NewCompositor() (*Compositor, error) {
	reg, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	b, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &Compositor{regular: reg, bold: b}, nil
}

func (c *Compositor) Name() string { return "compose" }

// Render 渲染单面工牌。
func (c *Compositor) Render(ctx context.Context, in Input) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bg, err := background(in)
	if err != nil {
		return nil, err
	}

	b := bg.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), bg, b.Min, draw.Src)

	cv := &canvas{
		dst:   dst,
		scale: float64(b.Dx()) / refWidth,
		fonts: c,
		faces: make(map[faceKey]font.Face),
	}
	defer cv.close()

	switch in.Side {
	case SideFront:
		err = cv.front(in)
	case SideBack:
		err = cv.back(in.Employee)
	default:
		err = fmt.Errorf("invalid card side %q", in.Side)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// MaxImagePixels 限制模板与照片的像素数，超出时不解码。
const MaxImagePixels = 25_000_000

// ErrImageTooLarge 表示图片像素数超过 MaxImagePixels。
var ErrImageTooLarge = errors.New("image dimensions exceed limit")

// CheckImageSize 只解析图片头部，拒绝无法识别或像素数超限的图片。
func CheckImageSize(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.New("image has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	return nil
}

func decodeImage(data []byte) (image.Image, error) {
	if err := CheckImageSize(data); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func background(in Input) (image.Image, error) {
	if len(in.Template) == 0 {
		return defaultBackground(in.Side), nil
	}
	img, err := decodeImage(in.Template)
	if err != nil {
		return nil, fmt.Errorf("decode %s template: %w", in.Side, err)
	}
	if img.Bounds().Dx() <= 0 || img.Bounds().Dy() <= 0 {
		return nil, errors.New("template image is empty")
	}
	return img, nil
}

// defaultBackground 生成无模板时使用的纯色底图。
func defaultBackground(side Side) image.Image {
	w := int(refWidth * defaultScale)
	h := int(refHeight * defaultScale)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(whiteColor), image.Point{}, draw.Src)

	px := func(v float64) int { return int(math.Round(v * defaultScale)) }
	fill := func(r image.Rectangle, c color.Color) {
		draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	}

	fill(image.Rect(0, 0, w, px(120)), inkColor)
	if side == SideFront {
		fill(image.Rect(px((refWidth-260)/2), px(598), px((refWidth+260)/2), px(632)), pillColor)
		fill(image.Rect(0, px(640), w, h), inkColor)
	} else {
		fill(image.Rect(0, px(refHeight-40), w, h), inkColor)
	}
	return img
}

type faceKey struct {
	w    weight
	size float64
}

// canvas 持有一次渲染的目标图与字体缓存；opentype.Face 非并发安全，因此按次创建。
type canvas struct {
	dst   *image.RGBA
	scale float64
	fonts *Compositor
	faces map[faceKey]font.Face
}

func (cv *canvas) close() {
	for _, f := range cv.faces {
		_ = f.Close()
	}
}

func (cv *canvas) px(v float64) int {
	return int(math.Round(v * cv.scale))
}

func (cv *canvas) fx(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * cv.scale * 64))
}

func (cv *canvas) face(w weight, refSize float64) (font.Face, error) {
	key := faceKey{w: w, size: refSize}
	if f, ok := cv.faces[key]; ok {
		return f, nil
	}
	src := cv.fonts.regular
	if w == bold {
		src = cv.fonts.bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    refSize * cv.scale,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("new font face: %w", err)
	}
	cv.faces[key] = f
	return f, nil
}

func textWidth(face font.Face, s string, tracking fixed.Int26_6) fixed.Int26_6 {
	w := font.MeasureString(face, s)
	if n := utf8.RuneCountInString(s); n > 1 {
		w += tracking * fixed.Int26_6(n-1)
	}
	return w
}

// fitFace 从 refSize 开始逐步缩小字号，直到所有行都不超过 maxWidth。
func (cv *canvas) fitFace(w weight, refSize, minSize float64, maxWidth fixed.Int26_6, trackingEm float64, lines ...string) (font.Face, float64, error) {
	for size := refSize; ; size-- {
		if size < minSize {
			size = minSize
		}
		face, err := cv.face(w, size)
		if err != nil {
			return nil, 0, err
		}
		tracking := cv.fx(size * trackingEm)
		fits := true
		for _, line := range lines {
			if textWidth(face, line, tracking) > maxWidth {
				fits = false
				break
			}
		}
		if fits || size <= minSize {
			return face, size, nil
		}
	}
}

// truncate 在超出宽度时以省略号截断，宽度按 tracking 字间距计算。
func truncate(face font.Face, s string, maxWidth, tracking fixed.Int26_6) string {
	if textWidth(face, s, tracking) <= maxWidth {
		return s
	}
	runes := []rune(s)
	for n := len(runes) - 1; n > 0; n-- {
		candidate := string(runes[:n]) + "…"
		if textWidth(face, candidate, tracking) <= maxWidth {
			return candidate
		}
	}
	return "…"
}

// baseline 返回在 [top, top+box) 行框内垂直居中时的基线位置。
func (cv *canvas) baseline(top, box float64, face font.Face) fixed.Int26_6 {
	m := face.Metrics()
	leading := cv.fx(box) - (m.Ascent + m.Descent)
	return cv.fx(top) + leading/2 + m.Ascent
}

func (cv *canvas) drawText(face font.Face, c color.Color, s string, x, baseline, tracking fixed.Int26_6) {
	d := &font.Drawer{
		Dst:  cv.dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: x, Y: baseline},
	}
	if tracking == 0 {
		d.DrawString(s)
		return
	}
	for _, r := range s {
		d.DrawString(string(r))
		d.Dot.X += tracking
	}
}

func (cv *canvas) drawCentered(face font.Face, c color.Color, s string, baseline, tracking fixed.Int26_6) {
	width := cv.fx(refWidth)
	x := (width - textWidth(face, s, tracking)) / 2
	cv.drawText(face, c, s, x, baseline, tracking)
}

func (cv *canvas) front(in Input) error {
	fields := Front(in.Employee)
	cv.drawPhoto(in.Photo)

	maxWidth := cv.fx(refWidth - 2*namePadding)

	lines := []string{fields.FirstName}
	if fields.LastName != "" {
		lines = append(lines, fields.LastName)
	}
	nameFace, size, err := cv.fitFace(bold, nameSize, nameMinSize, maxWidth, 0, lines...)
	if err != nil {
		return err
	}
	lineBox := size * nameLineHeight
	for i, line := range lines {
		top := nameTop + float64(i)*lineBox
		cv.drawCentered(nameFace, inkColor, line, cv.baseline(top, lineBox, nameFace), 0)
	}

	desFace, desSize, err := cv.fitFace(bold, designationSize, designationMinSize, maxWidth, designationTracking, fields.Designation)
	if err != nil {
		return err
	}
	desTracking := cv.fx(desSize * designationTracking)
	desLine := truncate(desFace, fields.Designation, maxWidth, desTracking)
	cv.drawCentered(desFace, inkColor, desLine, cv.baseline(designationTop, desSize*1.5, desFace), desTracking)

	return cv.frontDetails(fields.Details)
}

func (cv *canvas) frontDetails(details []Field) error {
	labelFace, err := cv.face(bold, detailSize)
	if err != nil {
		return err
	}
	valueFace, err := cv.face(regular, detailSize)
	if err != nil {
		return err
	}

	maxWidth := cv.fx(refWidth - 2*detailPaddingX)
	type line struct {
		label, value string
		labelWidth   fixed.Int26_6
	}
	lines := make([]line, 0, len(details))
	var blockWidth fixed.Int26_6
	for _, d := range details {
		label := d.Label + " "
		lw := font.MeasureString(labelFace, label)
		value := truncate(valueFace, d.Value, maxWidth-lw, 0)
		if w := lw + font.MeasureString(valueFace, value); w > blockWidth {
			blockWidth = w
		}
		lines = append(lines, line{label: label, value: value, labelWidth: lw})
	}

	n := float64(len(lines))
	firstTop := refHeight - detailBottom - n*detailLineBox - (n-1)*detailGap
	x := (cv.fx(refWidth) - blockWidth) / 2
	for i, l := range lines {
		top := firstTop + float64(i)*(detailLineBox+detailGap)
		baseline := cv.baseline(top, detailLineBox, labelFace)
		cv.drawText(labelFace, whiteColor, l.label, x, baseline, 0)
		cv.drawText(valueFace, whiteColor, l.value, x+l.labelWidth, baseline, 0)
	}
	return nil
}

func (cv *canvas) back(emp database.Employee) error {
	labelFace, err := cv.face(bold, backSize)
	if err != nil {
		return err
	}

	left := refWidth * backLeftRatio
	valueX := left + backLabelWidth + backColumnGap
	valueWidth := cv.fx(refWidth*backWidthRatio - backLabelWidth - backColumnGap)
	labelRight := cv.fx(left + backLabelWidth)

	for i, row := range Back(emp) {
		top := backTop + float64(i)*(backLineBox+backRowGap)

		baseline := cv.baseline(top, backLineBox, labelFace)
		cv.drawText(labelFace, inkColor, row.Label, labelRight-font.MeasureString(labelFace, row.Label), baseline, 0)

		valueFace, _, err := cv.fitFace(regular, backSize, backMinSize, valueWidth, 0, row.Value)
		if err != nil {
			return err
		}
		value := truncate(valueFace, row.Value, valueWidth, 0)
		cv.drawText(valueFace, inkColor, value, cv.fx(valueX), cv.baseline(top, backLineBox, valueFace), 0)
	}
	return nil
}

func (cv *canvas) drawPhoto(photo []byte) {
	left := (refWidth - photoWidth) / 2
	box := image.Rect(cv.px(left), cv.px(photoTop), cv.px(left+photoWidth), cv.px(photoTop+photoHeight))

	var tile *image.RGBA
	if len(photo) > 0 {
		if src, err := decodeImage(photo); err == nil {
			tile = coverScale(src, box.Dx(), box.Dy())
		}
	}
	if tile == nil {
		tile = placeholderPhoto(box.Dx(), box.Dy())
	}

	mask := roundedMask{rect: box, radius: photoRadius * cv.scale}
	draw.DrawMask(cv.dst, box, tile, image.Point{}, mask, box.Min, draw.Over)
}

// coverScale 等价于 CSS object-fit: cover：居中裁剪到目标比例后缩放。
func coverScale(src image.Image, w, h int) *image.RGBA {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw <= 0 || sh <= 0 || w <= 0 || h <= 0 {
		return nil
	}

	crop := sb
	if sw*h > sh*w {
		cw := sh * w / h
		x0 := sb.Min.X + (sw-cw)/2
		crop = image.Rect(x0, sb.Min.Y, x0+cw, sb.Max.Y)
	} else {
		ch := sw * h / w
		y0 := sb.Min.Y + (sh-ch)/2
		crop = image.Rect(sb.Min.X, y0, sb.Max.X, y0+ch)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, xdraw.Src, nil)
	return dst
}

func placeholderPhoto(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderBG), image.Point{}, draw.Src)

	fw, fh := float64(w), float64(h)
	headX, headY, headR := fw/2, fh*0.38, fw*0.18
	bodyX, bodyY, bodyRX, bodyRY := fw/2, fh, fw*0.38, fh*0.36
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			inHead := math.Hypot(px-headX, py-headY) <= headR
			dx, dy := (px-bodyX)/bodyRX, (py-bodyY)/bodyRY
			inBody := dx*dx+dy*dy <= 1
			if inHead || inBody {
				img.SetRGBA(x, y, placeholderShape)
			}
		}
	}
	return img
}

// roundedMask 是带抗锯齿圆角的 alpha 遮罩。
type roundedMask struct {
	rect   image.Rectangle
	radius float64
}

func (m roundedMask) ColorModel() color.Model { return color.AlphaModel }

func (m roundedMask) Bounds() image.Rectangle { return m.rect }

func (m roundedMask) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(m.rect) {
		return color.Alpha{}
	}
	fx, fy := float64(x)+0.5, float64(y)+0.5
	minX, minY := float64(m.rect.Min.X), float64(m.rect.Min.Y)
	maxX, maxY := float64(m.rect.Max.X), float64(m.rect.Max.Y)
	r := m.radius

	cx, cy := fx, fy
	switch {
	case fx < minX+r:
		cx = minX + r
	case fx > maxX-r:
		cx = maxX - r
	}
	switch {
	case fy < minY+r:
		cy = minY + r
	case fy > maxY-r:
		cy = maxY - r
	}

	coverage := r - math.Hypot(fx-cx, fy-cy) + 0.5
	switch {
	case coverage >= 1:
		return color.Alpha{A: 0xFF}
	case coverage <= 0:
		return color.Alpha{}
	}
	return color.Alpha{A: uint8(math.Round(coverage * 0xFF))}
}
