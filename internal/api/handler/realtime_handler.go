package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/internal/realtime"
	"github.com/d60-Lab/wall/pkg/logger"
	"github.com/d60-Lab/wall/pkg/response"
)

// ChangeSubscribed is sent once the subscription is registered; changes
// committed after it are guaranteed to be delivered.
const ChangeSubscribed = "SUBSCRIBED"

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Realtime 订阅 posts 表变更（WebSocket）
// @Summary 订阅帖子变更
// @Tags 实时
// @Param table query string false "表名" default(posts)
// @Router /api/v1/realtime [get]
func (h *Handler) Realtime(c *gin.Context) {
	if table := c.DefaultQuery("table", realtime.TablePosts); table != realtime.TablePosts {
		response.BadRequest(c, "unknown table: "+table)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, err := h.broker.Subscribe(ctx)
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	pongWait := h.pingInterval + writeWait
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// 客户端不发业务消息；读循环只用于感知断开与处理控制帧
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}
	if err := write(realtime.Change{Type: ChangeSubscribed, Schema: realtime.SchemaPublic, Table: realtime.TablePosts, CommitTimestamp: time.Now().UTC()}); err != nil {
		return
	}

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case change, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "broker closed"), time.Now().Add(writeWait))
				return
			}
			if err := write(change); err != nil {
				logger.Debug("realtime write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
