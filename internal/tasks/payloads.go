package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeCardBatchGenerate = "card:batch_generate"
)

// 每名员工渲染加上传约数秒，整批上限按大批量估算。
const cardBatchTimeout = 2 * time.Hour

// CardBatchPayload 只携带批次 ID，员工列表保存在 card_batches 表中。
type CardBatchPayload struct {
	BatchID       uint   `json:"batch_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewCardBatchTask 构造一个批量生成工牌的任务。
func NewCardBatchTask(batchID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(CardBatchPayload{
		BatchID:       batchID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCardBatchGenerate, payload,
		asynq.MaxRetry(2),
		asynq.Timeout(cardBatchTimeout),
	), nil
}

// ParseCardBatchPayload 解码任务载荷。载荷损坏时返回的错误包装了 asynq.SkipRetry。
func ParseCardBatchPayload(t *asynq.Task) (CardBatchPayload, error) {
	var p CardBatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.BatchID == 0 {
		return p, fmt.Errorf("payload has no batch_id: %w", asynq.SkipRetry)
	}
	return p, nil
}
