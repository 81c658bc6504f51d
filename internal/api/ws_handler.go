package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"flexiID/internal/auth"
	"flexiID/internal/database"
	"flexiID/internal/tasks"
)

const (
	wsAuthTimeout   = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsPongWait      = 2*wsPingInterval + 10*time.Second
	wsWriteWait     = 5 * time.Second
	wsMaxMessageLen = 4096
)

// NotificationSource 按用户订阅批量任务进度。返回的 channel 在 ctx 结束或订阅中断时关闭。
type NotificationSource interface {
	Listen(ctx context.Context, userID uint) (<-chan []byte, error)
}

type redisNotificationSource struct {
	client redis.UniversalClient
}

func (s redisNotificationSource) Listen(ctx context.Context, userID uint) (<-chan []byte, error) {
	channel := tasks.NotifyChannel(userID)
	pubsub := s.client.Subscribe(ctx, channel)
	// 等待订阅确认，避免快照与订阅之间丢消息。
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %q: %w", channel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// WsHandler 鉴权后推送当前未结束批次的快照，再持续转发该用户的进度通知。
type WsHandler struct {
	source         NotificationSource
	db             *gorm.DB
	authService    *auth.AuthService
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造基于 Redis Pub/Sub 的 WebSocket 处理器；allowedOrigins 为空时只接受同源请求。
func NewWsHandler(redisClient redis.UniversalClient, db *gorm.DB, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	return newWsHandler(redisNotificationSource{client: redisClient}, db, authService, logger, allowedOrigins)
}

func newWsHandler(source NotificationSource, db *gorm.DB, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WsHandler{
		source:         source,
		db:             db,
		authService:    authService,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	return slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin)
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// wsSession 是一条已升级的连接。除 readLoop 外所有写操作都在 HandleConnection 的 goroutine 中进行。
type wsSession struct {
	conn *websocket.Conn
	log  *slog.Logger
}

func (s *wsSession) send(payload []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSession) close(code int, text string) {
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
}

// GET /v1/ws
// 首条消息必须是 {"type":"auth","token":"<access token>"}。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageLen)

	s := &wsSession{conn: conn, log: h.logger.With(slog.String("client_ip", c.ClientIP()))}
	userID, err := h.authenticate(s)
	if err != nil {
		s.log.Warn("websocket authentication failed", slog.Any("error", err))
		return
	}
	s.log = s.log.With(slog.Uint64("user_id", uint64(userID)))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	notifications, err := h.source.Listen(ctx, userID)
	if err != nil {
		s.log.Error("subscribe notifications failed", slog.Any("error", err))
		s.close(websocket.CloseInternalServerErr, "notifications unavailable")
		return
	}
	s.log.Info("websocket authenticated")

	if err := h.sendSnapshot(ctx, s, userID); err != nil {
		s.log.Info("websocket closed while sending snapshot", slog.Any("error", err))
		return
	}

	readErr := make(chan error, 1)
	go readLoop(s.conn, readErr)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-readErr:
			if err != nil {
				s.log.Info("websocket connection closed", slog.Any("error", err))
			} else {
				s.log.Info("websocket connection closed")
			}
			return
		case payload, ok := <-notifications:
			if !ok {
				s.log.Warn("notification stream ended")
				s.close(websocket.CloseGoingAway, "notifications closed")
				return
			}
			if err := s.send(payload); err != nil {
				s.log.Info("write notification failed", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
				s.log.Info("write ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

// authenticate 读取首条消息并校验访问令牌。
func (h *WsHandler) authenticate(s *wsSession) (uint, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	_, message, err := s.conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("read auth message: %w", err)
	}

	var msg wsAuthMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.close(websocket.ClosePolicyViolation, "invalid auth payload")
		return 0, fmt.Errorf("decode auth payload: %w", err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		s.close(websocket.ClosePolicyViolation, "auth required")
		return 0, errors.New("first message is not an auth message")
	}

	claims, err := h.authService.ValidateToken(msg.Token)
	if err != nil {
		s.close(websocket.ClosePolicyViolation, "unauthorized")
		return 0, fmt.Errorf("validate token: %w", err)
	}
	if claims.TokenType != "access" {
		s.close(websocket.ClosePolicyViolation, "access token required")
		return 0, fmt.Errorf("invalid token type: %s", claims.TokenType)
	}
	return claims.UserID, nil
}

// sendSnapshot 推送用户尚未结束的批次，重连的客户端无需等待下一条进度即可恢复显示。
func (h *WsHandler) sendSnapshot(ctx context.Context, s *wsSession, userID uint) error {
	if h.db == nil {
		return nil
	}
	var batches []database.CardBatch
	err := h.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []string{database.BatchQueued, database.BatchRunning}).
		Order("id ASC").
		Find(&batches).Error
	if err != nil {
		s.log.Warn("load active batches failed", slog.Any("error", err))
		return nil
	}

	for _, b := range batches {
		payload, err := json.Marshal(tasks.BatchNotifyMessage{
			Type:          tasks.MessageTypeCardBatch,
			BatchID:       b.ID,
			Status:        b.Status,
			Total:         b.Total,
			Done:          b.Succeeded + b.Failed,
			Succeeded:     b.Succeeded,
			Failed:        b.Failed,
			CorrelationID: b.CorrelationID,
		})
		if err != nil {
			return err
		}
		if err := s.send(payload); err != nil {
			return err
		}
	}
	return nil
}

// readLoop 只用于处理 pong 与检测断开，客户端发来的其它消息被忽略。
func readLoop(conn *websocket.Conn, done chan<- error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				done <- nil
			} else {
				done <- fmt.Errorf("read message: %w", err)
			}
			return
		}
	}
}
