package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"telethu/logger"
	midsec "telethu/middleware/security"
	"telethu/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// Server WebSocket 接入层：握手、读写泵、连接登记。
// 路由语义全在 Router，这里只做帧搬运。
type Server struct {
	router *Router
	mgr    *ConnManager
}

func NewServer(router *Router, mgr *ConnManager) *Server {
	return &Server{router: router, mgr: mgr}
}

// HandleWS ===== WebSocket 处理 =====
// 身份由 security 中间件校验完放进 context，这里直接取。
func (s *Server) HandleWS(c *gin.Context) {
	userID, ok := midsec.UserID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	// session 标识设备/页签维度；客户端不带就服务端发一个
	sessionID := c.Query("session")
	if sessionID == "" {
		if v, exists := c.Get(midsec.CtxSessionKey); exists {
			sessionID, _ = v.(string)
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade websocket error: %v", err)
		return
	}

	conn := NewConn(s.router, userID, sessionID)
	if err := conn.Start(context.Background()); err != nil {
		logger.Errorf("[ws] start conn failed user=%d session=%s err=%v", userID, sessionID, err)
		_ = ws.Close()
		conn.Close()
		return
	}
	if err := s.mgr.Add(conn); err != nil {
		logger.Warnf("[ws] register conn failed user=%d session=%s err=%v", userID, sessionID, err)
		_ = ws.Close()
		conn.Close()
		return
	}

	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		_ = s.mgr.Heartbeat(sessionID)
		return nil
	})
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))

	// ---- 写泵：单协程消费发送队列，顺带打 ping ----
	safe.SafeGo(func() { s.writePump(ws, conn) })

	// ---- 读循环：只读不写，出错即退出（写泵收尾） ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed user=%d session=%s", userID, sessionID)
			} else if ne, isNet := rerr.(net.Error); isNet && ne.Timeout() {
				logger.Infof("[ws] read timeout user=%d session=%s", userID, sessionID)
			} else {
				logger.Infof("[ws] read err user=%d session=%s err=%v", userID, sessionID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		conn.HandleFrame(c.Request.Context(), data)
	}

	// ---- 退出：摘索引、拆订阅、下线 ----
	s.mgr.Remove(sessionID)
	_ = ws.Close()
}

func (s *Server) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-conn.Done():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage, nil)
			return
		case frame := <-conn.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Infof("[ws] write err user=%d session=%s err=%v", conn.UserID, conn.SessionID, err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
