package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flexiID/internal/card"
	"flexiID/internal/database"
	"flexiID/internal/errcode"
	"flexiID/internal/tasks"
)

// BatchGenerator 由 *card.Service 实现。
type BatchGenerator interface {
	GenerateMany(ctx context.Context, ids []uint, progress card.ProgressFunc) (card.BatchResult, error)
}

// BatchTaskHandler 负责消费批量生成工牌任务。
type BatchTaskHandler struct {
	db        *gorm.DB
	generator BatchGenerator
	notifier  Notifier
	logger    *slog.Logger

	isFinalAttempt func(ctx context.Context) bool
	now            func() time.Time
}

// NewBatchTaskHandler 创建任务处理器。
func NewBatchTaskHandler(db *gorm.DB, generator BatchGenerator, notifier Notifier, logger *slog.Logger) *BatchTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchTaskHandler{
		db:             db,
		generator:      generator,
		notifier:       notifier,
		logger:         logger,
		isFinalAttempt: isFinalAsynqAttempt,
		now:            time.Now,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *BatchTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	payload, err := tasks.ParseCardBatchPayload(t)
	if err != nil {
		log.Error("invalid task payload", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("batch_id", uint64(payload.BatchID)),
	)

	var batch database.CardBatch
	if err := h.db.WithContext(ctx).First(&batch, payload.BatchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("card batch not found, skipping task")
			return nil
		}
		log.Error("query card batch failed", slog.Any("error", err))
		return err
	}
	log = log.With(slog.Uint64("user_id", uint64(batch.UserID)))

	var ids []uint
	if err := json.Unmarshal(batch.EmployeeIDs, &ids); err != nil {
		log.Error("decode batch employee ids failed", slog.Any("error", err))
		return fmt.Errorf("decode employee ids: %v: %w", err, asynq.SkipRetry)
	}

	var succeeded, failed int
	defer func() {
		if retErr == nil || !(errors.Is(retErr, asynq.SkipRetry) || h.isFinalAttempt(ctx)) {
			return
		}
		h.fail(context.WithoutCancel(ctx), log, &batch, batchCounts{
			total:     len(ids),
			succeeded: succeeded,
			failed:    failed,
		}, payload.CorrelationID, retErr)
	}()

	log.Info("starting card batch generation", slog.Int("total", len(ids)))
	if err := h.db.WithContext(ctx).Model(&batch).Updates(map[string]any{
		"status":    database.BatchRunning,
		"total":     len(ids),
		"succeeded": 0,
		"failed":    0,
	}).Error; err != nil {
		log.Error("mark batch running failed", slog.Any("error", err))
		return err
	}

	progress := func(done, total int, id uint, genErr error) {
		if genErr != nil {
			failed++
		} else {
			succeeded++
		}
		if err := h.db.WithContext(ctx).Model(&database.CardBatch{}).Where("id = ?", batch.ID).Updates(map[string]any{
			"succeeded": succeeded,
			"failed":    failed,
		}).Error; err != nil {
			log.Warn("persist batch progress failed", slog.Any("error", err))
		}
		h.notify(ctx, log, batch.UserID, tasks.BatchNotifyMessage{
			Type:          tasks.MessageTypeCardBatch,
			BatchID:       batch.ID,
			Status:        database.BatchRunning,
			Total:         total,
			Done:          done,
			Succeeded:     succeeded,
			Failed:        failed,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.OK,
		})
	}

	result, err := h.generator.GenerateMany(ctx, ids, progress)
	if err != nil {
		log.Error("card batch generation aborted", slog.Any("error", err))
		return err
	}

	errorsJSON, err := json.Marshal(result.Errors)
	if err != nil {
		return fmt.Errorf("marshal batch errors: %w", err)
	}
	finished := h.now()
	if err := h.db.WithContext(ctx).Model(&batch).Updates(map[string]any{
		"status":      database.BatchCompleted,
		"succeeded":   result.Success,
		"failed":      result.Failed,
		"errors":      datatypes.JSON(errorsJSON),
		"finished_at": finished,
	}).Error; err != nil {
		log.Error("mark batch completed failed", slog.Any("error", err))
		return err
	}

	msg := tasks.BatchNotifyMessage{
		Type:          tasks.MessageTypeCardBatch,
		BatchID:       batch.ID,
		Status:        database.BatchCompleted,
		Total:         len(ids),
		Done:          len(ids),
		Succeeded:     result.Success,
		Failed:        result.Failed,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if result.Failed > 0 {
		msg.ErrorCode = errcode.PartialFailed
		msg.ErrorMessage = fmt.Sprintf("%d of %d cards failed", result.Failed, len(ids))
	}
	h.notify(ctx, log, batch.UserID, msg)

	log.Info("card batch generation completed",
		slog.Int("succeeded", result.Success),
		slog.Int("failed", result.Failed),
	)
	return nil
}

// batchCounts 是处理过程中累计的进度，批次行本身只在开始与结束时刷新。
type batchCounts struct {
	total, succeeded, failed int
}

func (h *BatchTaskHandler) fail(ctx context.Context, log *slog.Logger, batch *database.CardBatch, counts batchCounts, correlationID string, cause error) {
	finished := h.now()
	if err := h.db.WithContext(ctx).Model(batch).Updates(map[string]any{
		"status":      database.BatchFailed,
		"succeeded":   counts.succeeded,
		"failed":      counts.failed,
		"finished_at": finished,
	}).Error; err != nil {
		log.Error("mark batch failed failed", slog.Any("error", err))
	}
	h.notify(ctx, log, batch.UserID, tasks.BatchNotifyMessage{
		Type:          tasks.MessageTypeCardBatch,
		BatchID:       batch.ID,
		Status:        database.BatchFailed,
		Total:         counts.total,
		Done:          counts.succeeded + counts.failed,
		Succeeded:     counts.succeeded,
		Failed:        counts.failed,
		CorrelationID: correlationID,
		ErrorCode:     errcode.SystemError,
		ErrorMessage:  strings.TrimSpace(cause.Error()),
	})
}

// notify 推送失败只记录日志，不影响任务结果。
func (h *BatchTaskHandler) notify(ctx context.Context, log *slog.Logger, userID uint, msg tasks.BatchNotifyMessage) {
	if h.notifier == nil || userID == 0 {
		return
	}
	if err := h.notifier.Notify(ctx, userID, msg); err != nil {
		log.Warn("publish batch notification failed", slog.Any("error", err))
	}
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
