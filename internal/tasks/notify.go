package tasks

import "fmt"

// MessageTypeCardBatch 标识批量生成进度消息。
const MessageTypeCardBatch = "card_batch"

// BatchNotifyMessage 是 worker 发布到 Redis、再由 WebSocket 原样转发给前端的进度消息。
type BatchNotifyMessage struct {
	Type          string `json:"type"`
	BatchID       uint   `json:"batch_id"`
	Status        string `json:"status"`
	Total         int    `json:"total"`
	Done          int    `json:"done"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// NotifyChannel 返回用户通知的 Redis 频道名。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}
