package refserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/cydxin/chatsync-sdk/message"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxAttachments    = 4
	maxAttachmentSize = 10 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client 一条 WS 连接及其订阅的房间。
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
	name   string
	avatar string

	mu    sync.Mutex
	rooms map[string]bool
}

func (c *client) joined(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

// Server 参考后端：HTTP 端点 + WS 分发。
type Server struct {
	store *Store

	mu      sync.RWMutex
	clients map[*client]bool
}

func New(store *Store) *Server {
	return &Server{store: store, clients: make(map[*client]bool)}
}

// Router 注册全部路由。
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/api/rooms", s.handleRooms)
	r.GET("/api/rooms/:id/messages", s.handleHistory)
	r.GET("/api/notifications/snapshot", s.handleSnapshot)
	r.POST("/api/rooms/:id/read", s.handleMarkRead)
	r.GET("/ws", s.handleWS)
	return r
}

func (s *Server) handleRooms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rooms, next, err := s.store.Rooms(limit, c.Query("cursor"), c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, 0, len(rooms))
	for _, r := range rooms {
		items = append(items, gin.H{"id": r.ID, "room_name": r.Name})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "next_cursor": next})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	before, _ := strconv.ParseInt(c.Query("before_seq"), 10, 64)

	msgs, err := s.store.HistoryPage(c.Param("id"), limit, before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]message.Message, 0, len(msgs))
	for i := range msgs {
		items = append(items, msgs[i].ToWire())
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	rooms, _, err := s.store.Rooms(200, "", "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	unread, err := s.store.UnreadCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]gin.H, 0, len(rooms))
	for _, r := range rooms {
		item := gin.H{"room_id": r.ID, "room_name": r.Name, "unread": unread[r.ID]}
		last, err := s.store.LastMessage(r.ID)
		if err == nil {
			wire := last.ToWire()
			item["last_message"] = wire.Preview()
			item["last_message_at"] = wire.CreatedAt
		} else if err != gorm.ErrRecordNotFound {
			log.Printf("snapshot 查最后消息失败 room=%s: %v", r.ID, err)
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if err := s.store.ResetUnread(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleWS 建立连接。鉴权参数从 query 取（user_id/name/avatar）。
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println(err)
		return
	}

	cl := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: c.DefaultQuery("user_id", "anonymous"),
		name:   c.DefaultQuery("name", "匿名"),
		avatar: c.Query("avatar"),
		rooms:  make(map[string]bool),
	}

	s.mu.Lock()
	s.clients[cl] = true
	s.mu.Unlock()

	go s.writePump(cl)
	go s.readPump(cl)
}

func (s *Server) readPump(cl *client) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[cl]; ok {
			delete(s.clients, cl)
			close(cl.send)
		}
		s.mu.Unlock()
		_ = cl.conn.Close()
	}()
	cl.conn.SetReadLimit(16 << 20)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error { _ = cl.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("readPump error: %v", err)
			}
			return
		}
		s.handleFrame(cl, raw)
	}
}

func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFrame(cl *client, raw []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &probe)

	switch probe.Type {
	case message.WsTypeJoin, message.WsTypeLeave:
		var req message.JoinReq
		if err := json.Unmarshal(raw, &req); err != nil || req.RoomID == "" {
			return
		}
		cl.mu.Lock()
		if probe.Type == message.WsTypeJoin {
			cl.rooms[req.RoomID] = true
		} else {
			delete(cl.rooms, req.RoomID)
		}
		cl.mu.Unlock()

	case message.WsTypeMessage:
		var req message.SendReq
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Printf("Invalid message format: %v", err)
			return
		}
		s.handleSend(cl, req)
	}
}

func (s *Server) handleSend(cl *client, req message.SendReq) {
	if req.Content == "" && len(req.Attachments) == 0 {
		s.sendError(cl, "消息内容与附件不能同时为空", req.PacketID)
		return
	}
	if len(req.Attachments) > maxAttachments {
		s.sendError(cl, "附件数量超过上限", req.PacketID)
		return
	}
	for _, att := range req.Attachments {
		if att.Size > maxAttachmentSize || int64(len(att.Data)) > maxAttachmentSize {
			s.sendError(cl, "附件超过大小上限", req.PacketID)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seq, err := s.store.NextSeq(ctx, req.RoomID)
	if err != nil {
		s.sendError(cl, "seq 分配失败", req.PacketID)
		return
	}

	// 附件字节这里只做元数据登记，不落盘（参考实现）
	atts := make([]message.Attachment, 0, len(req.Attachments))
	for _, up := range req.Attachments {
		atts = append(atts, message.Attachment{
			URL:         fmt.Sprintf("/uploads/%s-%s", uuid.NewString(), up.FileName),
			Name:        up.FileName,
			ContentType: up.ContentType,
			Size:        up.Size,
		})
	}
	attsJSON, _ := json.Marshal(atts)

	row := &Message{
		ID:           uuid.NewString(),
		RoomID:       req.RoomID,
		Seq:          seq,
		SenderID:     cl.userID,
		SenderName:   cl.name,
		SenderAvatar: cl.avatar,
		Content:      req.Content,
		Attachments:  attsJSON,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveMessage(row); err != nil {
		s.sendError(cl, err.Error(), req.PacketID)
		return
	}

	// 1) 给发送方回唯一一条 ack
	s.sendTo(cl, message.SendAck{
		Type:        message.WsTypeAck,
		OK:          true,
		ID:          row.ID,
		PacketID:    req.PacketID,
		CreatedAt:   row.CreatedAt.Format(time.RFC3339),
		Seq:         seq,
		Attachments: atts,
	})

	// 2) 广播给订阅了该房间的连接
	wire := row.ToWire()
	wire.PacketID = req.PacketID
	s.broadcastRoom(req.RoomID, wire)

	// 3) 未读 +1 并推摘要（推送是权威值，客户端自行 clamp）
	n, err := s.store.IncrUnread(ctx, req.RoomID)
	if err != nil {
		log.Printf("未读计数失败 room=%s: %v", req.RoomID, err)
		return
	}
	s.broadcastAll(message.SummaryPush{
		Type:          message.WsTypeSummary,
		RoomID:        req.RoomID,
		LastMessage:   wire.Preview(),
		LastMessageAt: wire.CreatedAt,
		Unread:        int(n),
	})
}

func (s *Server) sendError(cl *client, msg, packetID string) {
	s.sendTo(cl, message.WsError{Type: message.WsTypeError, Message: msg, PacketID: packetID})
}

func (s *Server) sendTo(cl *client, v any) {
	b, _ := json.Marshal(v)
	select {
	case cl.send <- b:
	default:
		// 缓冲满则丢弃，避免阻塞
	}
}

func (s *Server) broadcastRoom(roomID string, v any) {
	b, _ := json.Marshal(v)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for cl := range s.clients {
		if !cl.joined(roomID) {
			continue
		}
		select {
		case cl.send <- b:
		default:
		}
	}
}

func (s *Server) broadcastAll(v any) {
	b, _ := json.Marshal(v)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for cl := range s.clients {
		select {
		case cl.send <- b:
		default:
		}
	}
}
