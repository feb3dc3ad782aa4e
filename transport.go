package chatsync_sdk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cydxin/chatsync-sdk/message"
)

const (
	// Time 写入超时时间
	writeWait = 10 * time.Second

	// Time pong超时时间
	pongWait = 60 * time.Second

	// Send 对应的ping 必须小于pong
	pingPeriod = (pongWait * 9) / 10

	// 单条 send 等待 ack 的上限（ctx 没带 deadline 时生效）
	ackWait = 10 * time.Second

	// 附件上限：数量硬编码为 4，单个大小 10MB
	maxAttachments    = 4
	maxAttachmentSize = 10 << 20
)

var (
	ErrEmptyMessage       = errors.New("chatsync: 消息内容与附件不能同时为空")
	ErrTooManyAttachments = errors.New("chatsync: 附件数量超过上限(4)")
	ErrAttachmentTooLarge = errors.New("chatsync: 单个附件超过大小上限")
	ErrNotConnected       = errors.New("chatsync: 连接未建立")
	ErrTransportClosed    = errors.New("chatsync: 连接已关闭")
	ErrAckTimeout         = errors.New("chatsync: 等待发送回执超时")
)

// TransportConfig 连接配置。零值字段在 NewTransport 里补默认值。
type TransportConfig struct {
	ServerURL  string // 形如 ws://host:port
	SocketPath string // 默认 /ws
	Namespace  string // 挂到握手 query 的 ns 参数

	AutoConnect bool

	// ReconnectAttempts 重连次数上限，0 表示不限
	ReconnectAttempts int
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	ConnectTimeout time.Duration

	// Credentials 握手时挂到 query 的鉴权参数（如 user_id / token）
	Credentials map[string]string
}

// SendInput 发送消息入参。PacketID 不填则自动生成 UUID。
type SendInput struct {
	Content     string
	Attachments []message.AttachmentUpload
	PacketID    string
}

// Transport 进程内唯一的长连接。
// 不做隐藏单例：由 Engine 构造一次后按引用传给需要的 service。
type Transport struct {
	cfg TransportConfig

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	closed      bool
	credentials map[string]string

	// gorilla 要求单写者，所有出站帧走 writeMu
	writeMu sync.Mutex

	listenerMu   sync.RWMutex
	msgListeners map[int]func(message.Message)
	sumListeners map[int]func(message.SummaryPush)
	nextListener int

	pendingMu sync.Mutex
	pending   map[string]chan *message.SendAck
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/ws"
	}
	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	creds := make(map[string]string, len(cfg.Credentials))
	for k, v := range cfg.Credentials {
		creds[k] = v
	}
	return &Transport{
		cfg:          cfg,
		credentials:  creds,
		msgListeners: make(map[int]func(message.Message)),
		sumListeners: make(map[int]func(message.SummaryPush)),
		pending:      make(map[string]chan *message.SendAck),
	}
}

// Connect 建立连接。幂等：已连接时直接返回 nil。
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	creds := t.snapshotCredentialsLocked()
	t.mu.Unlock()

	conn, err := t.dial(ctx, creds)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrTransportClosed
	}
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	go t.readPump(conn)
	go t.pingLoop(conn)
	return nil
}

func (t *Transport) snapshotCredentialsLocked() map[string]string {
	snap := make(map[string]string, len(t.credentials))
	for k, v := range t.credentials {
		snap[k] = v
	}
	return snap
}

func (t *Transport) dial(ctx context.Context, creds map[string]string) (*websocket.Conn, error) {
	u, err := url.Parse(t.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("解析 server url: %w", err)
	}
	u.Path = t.cfg.SocketPath
	q := u.Query()
	if t.cfg.Namespace != "" {
		q.Set("ns", t.cfg.Namespace)
	}
	for k, v := range creds {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("拨号失败: %w", err)
	}
	return conn, nil
}

// UpdateCredentials 替换后续（重）连接使用的鉴权参数。
// 不会主动断线：重连逻辑在自己的下一次尝试里拿到新值。
func (t *Transport) UpdateCredentials(next map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credentials = make(map[string]string, len(next))
	for k, v := range next {
		t.credentials[k] = v
	}
}

// JoinRoom 订阅房间。fire-and-forget：写失败只返回错误，不重试。
// 注意：重连后不会自动补发 join，由上层自行重新订阅。
func (t *Transport) JoinRoom(roomID string) error {
	return t.writeJSON(message.JoinReq{Type: message.WsTypeJoin, RoomID: roomID})
}

// LeaveRoom 取消订阅。
func (t *Transport) LeaveRoom(roomID string) error {
	return t.writeJSON(message.JoinReq{Type: message.WsTypeLeave, RoomID: roomID})
}

func (t *Transport) writeJSON(v any) error {
	t.mu.Lock()
	conn := t.conn
	ok := t.connected
	t.mu.Unlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// Send 发送消息并等待唯一一条 ack。
// 本地校验先行：空消息 / 附件超限直接拒绝，不产生任何网络请求。
func (t *Transport) Send(ctx context.Context, roomID string, in SendInput) (*message.SendAck, error) {
	if in.Content == "" && len(in.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if len(in.Attachments) > maxAttachments {
		return nil, ErrTooManyAttachments
	}
	for _, att := range in.Attachments {
		if att.Size > maxAttachmentSize || int64(len(att.Data)) > maxAttachmentSize {
			return nil, ErrAttachmentTooLarge
		}
	}

	packetID := in.PacketID
	if packetID == "" {
		packetID = uuid.NewString()
	}

	ch := make(chan *message.SendAck, 1)
	t.pendingMu.Lock()
	t.pending[packetID] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, packetID)
		t.pendingMu.Unlock()
	}()

	req := message.SendReq{
		Type:        message.WsTypeMessage,
		RoomID:      roomID,
		Content:     in.Content,
		Attachments: in.Attachments,
		PacketID:    packetID,
	}
	if err := t.writeJSON(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(ackWait)
	defer timer.Stop()
	select {
	case ack := <-ch:
		if ack == nil {
			return nil, ErrTransportClosed
		}
		return ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrAckTimeout
	}
}

// OnMessage 注册房间消息监听。多播：所有监听者都会收到每条广播。
// 返回注销函数。
func (t *Transport) OnMessage(h func(message.Message)) func() {
	t.listenerMu.Lock()
	id := t.nextListener
	t.nextListener++
	t.msgListeners[id] = h
	t.listenerMu.Unlock()
	return func() {
		t.listenerMu.Lock()
		delete(t.msgListeners, id)
		t.listenerMu.Unlock()
	}
}

// OnSummary 注册摘要推送监听。
func (t *Transport) OnSummary(h func(message.SummaryPush)) func() {
	t.listenerMu.Lock()
	id := t.nextListener
	t.nextListener++
	t.sumListeners[id] = h
	t.listenerMu.Unlock()
	return func() {
		t.listenerMu.Lock()
		delete(t.sumListeners, id)
		t.listenerMu.Unlock()
	}
}

// readPump 读取下行帧并分发，连接断开后进入重连。
func (t *Transport) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(16 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("readPump error: %v", err)
			}
			break
		}
		t.dispatch(raw)
	}

	_ = conn.Close()
	t.mu.Lock()
	if t.conn == conn {
		t.connected = false
		t.conn = nil
	}
	closed := t.closed
	t.mu.Unlock()

	if !closed {
		go t.reconnectLoop()
	}
}

func (t *Transport) dispatch(raw []byte) {
	in, err := message.DecodeInbound(raw)
	if err != nil {
		log.Printf("丢弃无法识别的下行帧: %v", err)
		return
	}

	switch in.Type {
	case message.WsTypeMessage:
		t.listenerMu.RLock()
		hs := make([]func(message.Message), 0, len(t.msgListeners))
		for _, h := range t.msgListeners {
			hs = append(hs, h)
		}
		t.listenerMu.RUnlock()
		for _, h := range hs {
			h(*in.Message)
		}
	case message.WsTypeSummary:
		t.listenerMu.RLock()
		hs := make([]func(message.SummaryPush), 0, len(t.sumListeners))
		for _, h := range t.sumListeners {
			hs = append(hs, h)
		}
		t.listenerMu.RUnlock()
		for _, h := range hs {
			h(*in.Summary)
		}
	case message.WsTypeAck:
		t.resolveAck(in.Ack.PacketID, in.Ack)
	case message.WsTypeError:
		// 带 packet_id 的 error 帧等价于一条失败 ack
		if in.Error.PacketID != "" {
			t.resolveAck(in.Error.PacketID, &message.SendAck{
				Type:     message.WsTypeAck,
				OK:       false,
				PacketID: in.Error.PacketID,
				Error:    in.Error.Message,
			})
			return
		}
		log.Printf("服务端错误帧: %s", in.Error.Message)
	}
}

func (t *Transport) resolveAck(packetID string, ack *message.SendAck) {
	if packetID == "" {
		return
	}
	t.pendingMu.Lock()
	ch, ok := t.pending[packetID]
	if ok {
		delete(t.pending, packetID)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- ack
	}
}

func (t *Transport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		alive := t.conn == conn && t.connected
		t.mu.Unlock()
		if !alive {
			return
		}
		t.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		t.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// reconnectLoop 指数退避重连。达到次数上限后放弃，连接保持断开状态。
// 重连成功后不补发 join（已知缺口，见文档）。
func (t *Transport) reconnectLoop() {
	delay := t.cfg.ReconnectMinDelay
	attempts := 0
	for {
		t.mu.Lock()
		if t.closed || t.connected {
			t.mu.Unlock()
			return
		}
		creds := t.snapshotCredentialsLocked()
		t.mu.Unlock()

		attempts++
		if t.cfg.ReconnectAttempts > 0 && attempts > t.cfg.ReconnectAttempts {
			log.Printf("重连放弃：已达上限 %d 次", t.cfg.ReconnectAttempts)
			return
		}

		time.Sleep(delay)
		if delay *= 2; delay > t.cfg.ReconnectMaxDelay {
			delay = t.cfg.ReconnectMaxDelay
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.ConnectTimeout)
		conn, err := t.dial(ctx, creds)
		cancel()
		if err != nil {
			log.Printf("重连失败(第 %d 次): %v", attempts, err)
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.connected = true
		t.mu.Unlock()

		go t.readPump(conn)
		go t.pingLoop(conn)
		return
	}
}

// Close 关闭连接并终止重连，未完成的 Send 以失败结束。
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.connected = false
	t.mu.Unlock()

	t.pendingMu.Lock()
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- nil
	}
	t.pendingMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
