package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cdef-ta-go/internal/service"
	"cdef-ta-go/pkg/log"
	"cdef-ta-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 流式答疑连接。
type ChatHandler struct {
	workflow      service.WorkflowService
	userService   service.UserService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: conn pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(workflow service.WorkflowService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		workflow:    workflow,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// GetWebsocketStopToken 返回一个可用于停止流的令牌。
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 在真实的多服务器设置中，这应该在 Redis 中生成和存储
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// Handle 处理一个传入的 WebSocket 连接。每条文本消息视为一个提问，
// 回答以 chunk 帧流式下发，完整答案结束后以 done 帧收尾。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Email)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		// JSON 停止指令: {"type":"stop","_internal_cmd_token":"..."}
		if h.handleStopCommand(conn, message) {
			continue
		}

		// 清除旧标志后开始新一轮流式回答
		key := sessionKey(conn)
		h.stopFlags.Delete(key)

		writer := &chunkWriter{conn: conn, shouldStop: func() bool {
			v, ok := h.stopFlags.Load(key)
			return ok && v.(bool)
		}}

		answer, err := h.workflow.StreamDoubt(c.Request.Context(), user.ID, string(message), writer)
		if err != nil {
			if errors.Is(err, errStreamStopped) {
				h.writeFrame(conn, gin.H{"type": "stop", "message": "响应已停止", "timestamp": time.Now().UnixMilli()})
				continue
			}
			log.Errorf("处理流式响应失败 (用户 %d): %v", user.ID, err)
			h.writeFrame(conn, gin.H{"type": "error", "message": "回答生成失败，请稍后重试", "timestamp": time.Now().UnixMilli()})
			continue
		}

		h.writeFrame(conn, gin.H{
			"type":      "done",
			"content":   answer,
			"timestamp": time.Now().UnixMilli(),
		})
	}
}

// handleStopCommand 解析并处理停止指令，返回 true 表示该消息已被消费。
func (h *ChatHandler) handleStopCommand(conn *websocket.Conn, message []byte) bool {
	if len(message) == 0 || message[0] != '{' {
		return false
	}
	var ctrl map[string]interface{}
	if err := json.Unmarshal(message, &ctrl); err != nil {
		return false
	}
	t, ok := ctrl["type"].(string)
	if !ok || t != "stop" {
		return false
	}
	tok, _ := ctrl["_internal_cmd_token"].(string)

	h.stopTokenLock.Lock()
	valid := tok != "" && tok == h.stopToken
	h.stopTokenLock.Unlock()
	if valid {
		h.stopFlags.Store(sessionKey(conn), true)
		h.writeFrame(conn, gin.H{"type": "stop", "message": "响应已停止", "timestamp": time.Now().UnixMilli()})
	}
	return true
}

func (h *ChatHandler) writeFrame(conn *websocket.Conn, frame gin.H) {
	b, _ := json.Marshal(frame)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 帧失败: %v", err)
	}
}

// errStreamStopped 表示客户端主动停止了流式响应。
var errStreamStopped = errors.New("stream stopped by client")

// chunkWriter 把增量文本包装为 chunk 帧写入 WebSocket。
// 停止标志置位后返回错误以中断上游的流式生成。
type chunkWriter struct {
	conn       *websocket.Conn
	shouldStop func() bool
	mu         sync.Mutex
}

func (w *chunkWriter) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop() {
		return errStreamStopped
	}
	frame, _ := json.Marshal(gin.H{"type": "chunk", "content": string(data)})
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(messageType, frame)
}

// sessionKey 用连接指针生成每连接标志的 key。
func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
