package card

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"flexiID/internal/database"
	"flexiID/internal/metrics"
	"flexiID/internal/storage"
)

var (
	// ErrEmployeeNotFound 表示员工记录不存在。
	ErrEmployeeNotFound = errors.New("employee not found")
	// ErrNoCards 表示没有可下载的工牌。
	ErrNoCards = errors.New("no cards found to download")
)

const maxCardErrorLen = 1024

// ObjectStore 是 Service 依赖的对象存储能力，由 *storage.Client 实现。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// Service 串联员工数据、模板、渲染器与对象存储。
type Service struct {
	db       *gorm.DB
	store    ObjectStore
	renderer Renderer
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, store ObjectStore, renderer Renderer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       db,
		store:    store,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
	}
}

// Renderer 返回当前使用的渲染器。
func (s *Service) Renderer() Renderer { return s.renderer }

// BatchError 记录单个员工的生成失败原因。
type BatchError struct {
	EmployeeID uint   `json:"employee_id"`
	Error      string `json:"error"`
}

// BatchResult 汇总一次批量生成。
type BatchResult struct {
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Errors  []BatchError `json:"errors"`
}

// ProgressFunc 在每个员工处理完成后回调；err 为该员工的生成错误。
type ProgressFunc func(done, total int, id uint, err error)

// Generate 为单个员工生成正反面工牌并回写状态。
func (s *Service) Generate(ctx context.Context, id uint) (*database.Employee, error) {
	emp, err := s.loadEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	templates, err := s.ActiveTemplates(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.generate(ctx, emp, templates); err != nil {
		return emp, err
	}
	return emp, nil
}

// GenerateMany 逐个生成，单个失败不会中断整批。
// ctx 被取消时立即返回已完成部分及 ctx 错误。
func (s *Service) GenerateMany(ctx context.Context, ids []uint, progress ProgressFunc) (BatchResult, error) {
	result := BatchResult{Errors: []BatchError{}}

	templates, err := s.ActiveTemplates(ctx)
	if err != nil {
		return result, err
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		genErr := func() error {
			emp, err := s.loadEmployee(ctx, id)
			if err != nil {
				return err
			}
			return s.generate(ctx, emp, templates)
		}()
		if genErr != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchError{EmployeeID: id, Error: genErr.Error()})
			s.logger.Warn("card generation failed",
				slog.Uint64("employee_row_id", uint64(id)),
				slog.Any("error", genErr),
			)
		} else {
			result.Success++
		}

		if progress != nil {
			progress(i+1, len(ids), id, genErr)
		}
	}
	return result, nil
}

func (s *Service) loadEmployee(ctx context.Context, id uint) (*database.Employee, error) {
	var emp database.Employee
	if err := s.db.WithContext(ctx).First(&emp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("employee %d: %w", id, ErrEmployeeNotFound)
		}
		return nil, fmt.Errorf("load employee %d: %w", id, err)
	}
	return &emp, nil
}

// ActiveTemplates 读取当前启用的正反面模板图片。
// 模板对象缺失时记录警告并回退到内置底图。
func (s *Service) ActiveTemplates(ctx context.Context) (map[Side][]byte, error) {
	var rows []database.Template
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load active templates: %w", err)
	}

	out := make(map[Side][]byte, len(Sides))
	for _, t := range rows {
		side, err := ParseSide(t.Type)
		if err != nil {
			continue
		}
		data, err := s.store.ReadObject(ctx, t.ImagePath)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				s.logger.Warn("active template object missing, using default background",
					slog.Uint64("template_id", uint64(t.ID)),
					slog.String("key", t.ImagePath),
				)
				continue
			}
			return nil, fmt.Errorf("read %s template: %w", side, err)
		}
		out[side] = data
	}
	return out, nil
}

// LoadPhoto 读取员工照片；没有照片或对象缺失时返回 nil。
func (s *Service) LoadPhoto(ctx context.Context, emp *database.Employee) []byte {
	if emp.PhotoPath == "" {
		return nil
	}
	if !strings.HasPrefix(emp.PhotoPath, storage.PhotoPrefix) {
		s.logger.Warn("employee photo outside photos prefix, using placeholder",
			slog.String("employee_id", emp.EmployeeID),
			slog.String("key", emp.PhotoPath),
		)
		return nil
	}
	data, err := s.store.ReadObject(ctx, emp.PhotoPath)
	if err != nil {
		s.logger.Warn("employee photo unavailable, using placeholder",
			slog.String("employee_id", emp.EmployeeID),
			slog.String("key", emp.PhotoPath),
			slog.Any("error", err),
		)
		return nil
	}
	return data
}

func (s *Service) generate(ctx context.Context, emp *database.Employee, templates map[Side][]byte) error {
	photo := s.LoadPhoto(ctx, emp)
	base := FileBase(emp.EmployeeID, s.now())

	keys := make(map[Side]string, len(Sides))
	for _, side := range Sides {
		start := time.Now()
		png, err := s.renderer.Render(ctx, Input{
			Side:     side,
			Employee: *emp,
			Template: templates[side],
			Photo:    photo,
		})
		if err != nil {
			s.discard(ctx, emp, keys)
			return s.markFailed(ctx, emp, fmt.Errorf("render %s: %w", side, err))
		}
		metrics.CardRenderDuration.WithLabelValues(s.renderer.Name()).Observe(time.Since(start).Seconds())
		metrics.CardsRendered.WithLabelValues(s.renderer.Name(), string(side)).Inc()

		key := ObjectKey(emp.ID, base, side)
		if _, err := s.store.UploadFile(ctx, key, bytes.NewReader(png), int64(len(png)), "image/png"); err != nil {
			s.discard(ctx, emp, keys)
			return s.markFailed(ctx, emp, fmt.Errorf("upload %s: %w", side, err))
		}
		keys[side] = key
	}

	stale := make([]string, 0, 2)
	if emp.CardFrontPath != "" && emp.CardFrontPath != keys[SideFront] {
		stale = append(stale, emp.CardFrontPath)
	}
	if emp.CardBackPath != "" && emp.CardBackPath != keys[SideBack] {
		stale = append(stale, emp.CardBackPath)
	}

	now := s.now()
	err := s.db.WithContext(ctx).Model(&database.Employee{}).Where("id = ?", emp.ID).Updates(map[string]any{
		"card_generated":    true,
		"card_status":       database.CardStatusGenerated,
		"card_error":        "",
		"card_front_path":   keys[SideFront],
		"card_back_path":    keys[SideBack],
		"card_generated_at": now,
	}).Error
	if err != nil {
		s.discard(ctx, emp, keys)
		return s.markFailed(ctx, emp, fmt.Errorf("update card status: %w", err))
	}

	emp.CardGenerated = true
	emp.CardStatus = database.CardStatusGenerated
	emp.CardError = ""
	emp.CardFrontPath = keys[SideFront]
	emp.CardBackPath = keys[SideBack]
	emp.CardGeneratedAt = &now
	metrics.CardGenerations.WithLabelValues("success").Inc()

	for _, key := range stale {
		if err := s.store.DeleteObject(ctx, key); err != nil {
			s.logger.Warn("remove stale card object failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return nil
}

// discard 尽力删除本次已上传但不会被记录的对象。与旧路径相同的 key 仍被记录引用，保留。
func (s *Service) discard(ctx context.Context, emp *database.Employee, keys map[Side]string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if key == emp.CardFrontPath || key == emp.CardBackPath {
			continue
		}
		if err := s.store.DeleteObject(ctx, key); err != nil {
			s.logger.Warn("remove orphaned card object failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// markFailed 记录失败状态，保留之前生成的路径，并原样返回 cause。
func (s *Service) markFailed(ctx context.Context, emp *database.Employee, cause error) error {
	metrics.CardGenerations.WithLabelValues("failed").Inc()

	msg := cause.Error()
	if len(msg) > maxCardErrorLen {
		msg = msg[:maxCardErrorLen]
	}
	err := s.db.WithContext(context.WithoutCancel(ctx)).Model(&database.Employee{}).Where("id = ?", emp.ID).Updates(map[string]any{
		"card_status": database.CardStatusFailed,
		"card_error":  msg,
	}).Error
	if err != nil {
		s.logger.Error("mark card failed", slog.String("employee_id", emp.EmployeeID), slog.Any("error", err))
	}
	emp.CardStatus = database.CardStatusFailed
	emp.CardError = msg
	return cause
}

// WriteArchive 将已生成的工牌写入 ZIP，返回写入的文件数。
// 对象已不存在的条目会被跳过。
func (s *Service) WriteArchive(ctx context.Context, w io.Writer, employees []database.Employee) (int, error) {
	zw := zip.NewWriter(w)
	entries := 0

	for _, emp := range employees {
		sides := []struct {
			side Side
			key  string
		}{
			{SideFront, emp.CardFrontPath},
			{SideBack, emp.CardBackPath},
		}
		for _, item := range sides {
			if item.key == "" {
				continue
			}
			data, err := s.store.ReadObject(ctx, item.key)
			if err != nil {
				if errors.Is(err, storage.ErrObjectNotFound) {
					s.logger.Warn("card object missing, skipped from archive",
						slog.String("employee_id", emp.EmployeeID),
						slog.String("key", item.key),
					)
					continue
				}
				_ = zw.Close()
				return entries, fmt.Errorf("read card %q: %w", item.key, err)
			}

			name := ArchiveEntryName(emp.EmployeeID, emp.FirstName, emp.LastName, item.side)
			fw, err := zw.CreateHeader(&zip.FileHeader{
				Name:     name,
				Method:   zip.Deflate,
				Modified: s.now(),
			})
			if err != nil {
				_ = zw.Close()
				return entries, fmt.Errorf("create zip entry %q: %w", name, err)
			}
			if _, err := fw.Write(data); err != nil {
				_ = zw.Close()
				return entries, fmt.Errorf("write zip entry %q: %w", name, err)
			}
			entries++
		}
	}

	if err := zw.Close(); err != nil {
		return entries, fmt.Errorf("close zip: %w", err)
	}
	return entries, nil
}
