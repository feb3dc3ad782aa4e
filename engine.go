// Package chatsync_sdk 客户端消息同步引擎：
// 维护每房间消息窗口、合并历史分页与实时推送、聚合跨房间未读状态。
// 展示层（滚动控制）见 viewport 子包。
package chatsync_sdk

import (
	"context"
	"time"

	"github.com/cydxin/chatsync-sdk/message"
	"github.com/cydxin/chatsync-sdk/rest"
	"github.com/cydxin/chatsync-sdk/service"
)

// SyncEngine 同步引擎。进程内构造一次，按引用传给需要的模块。
// 连接是显式持有的资源，不做包级单例。
type SyncEngine struct {
	config *Config

	Transport *Transport
	API       *rest.Client
	Bus       *Bus

	History *service.HistoryService
	Notify  *service.NotifyService

	unsubs []func()
}

// NewEngine 创建引擎并完成内部接线：
// 广播 → 消息窗口追加 + 未读索引更新（同一事件，两份独立状态）；
// 摘要推送 → 未读索引合并；rooms.changed → 名称缓存再水合。
func NewEngine(opts ...Option) *SyncEngine {
	c := &Config{
		SocketPath:  "/ws",
		PageSize:    20,
		HTTPTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	api := rest.NewClient(c.APIBase, c.HTTPTimeout, c.Token)
	tr := NewTransport(TransportConfig{
		ServerURL:         c.SocketURL,
		SocketPath:        c.SocketPath,
		Namespace:         c.Namespace,
		AutoConnect:       c.AutoConnect,
		ReconnectAttempts: c.ReconnectAttempts,
		ReconnectMinDelay: c.ReconnectMinDelay,
		ReconnectMaxDelay: c.ReconnectMaxDelay,
		ConnectTimeout:    c.ConnectTimeout,
		Credentials:       c.Credentials,
	})

	base := &service.Service{API: api, PageSize: c.PageSize}
	e := &SyncEngine{
		config:    c,
		Transport: tr,
		API:       api,
		Bus:       NewBus(),
		History:   service.NewHistoryService(base),
		Notify:    service.NewNotifyService(base),
	}

	// 广播多播给两个独立消费者：顺序是 先窗口追加、后未读更新
	e.unsubs = append(e.unsubs, tr.OnMessage(func(m message.Message) {
		e.History.AppendLive(m)
		e.Notify.OnBroadcast(m)
	}))
	e.unsubs = append(e.unsubs, tr.OnSummary(e.Notify.ApplySummary))

	e.unsubs = append(e.unsubs, e.Bus.Subscribe(TopicRoomsChanged, func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.HTTPTimeout)
			defer cancel()
			e.Notify.HydrateRoomNames(ctx)
		}()
	}))
	e.unsubs = append(e.unsubs, e.Bus.Subscribe(TopicLoggedOut, func() {
		e.Notify.Clear()
		e.History.EvictOthers(nil)
	}))

	if c.AutoConnect {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), tr.cfg.ConnectTimeout)
			defer cancel()
			_ = tr.Connect(ctx)
		}()
	}
	return e
}

// Connect 显式建连（AutoConnect 关闭时使用）。幂等。
func (e *SyncEngine) Connect(ctx context.Context) error {
	return e.Transport.Connect(ctx)
}

// Bootstrap 启动时的一次性初始化：通知快照 + 房间名称缓存。
func (e *SyncEngine) Bootstrap(ctx context.Context) {
	e.Notify.Bootstrap(ctx)
	e.Notify.HydrateRoomNames(ctx)
}

// OpenRoom 打开房间的标准动作：订阅 + 标记活跃 + 首屏拉取。
func (e *SyncEngine) OpenRoom(ctx context.Context, roomID string) {
	e.History.EnsureRoom(roomID)
	// 订阅失败不阻塞历史加载，重连后由上层重新 join
	_ = e.Transport.JoinRoom(roomID)
	e.Notify.SetActiveRoom(roomID)
	e.History.LoadInitial(ctx, roomID, e.config.PageSize)
}

// CloseRoom 离开房间：取消订阅并清空活跃标记。窗口保留，便于快速返回。
func (e *SyncEngine) CloseRoom(roomID string) {
	_ = e.Transport.LeaveRoom(roomID)
	e.Notify.SetActiveRoom("")
}

// UpdateCredentials 同时更新 WS 握手参数与 REST token。
func (e *SyncEngine) UpdateCredentials(creds map[string]string, token string) {
	e.Transport.UpdateCredentials(creds)
	e.API.SetToken(token)
}

// Close 注销内部监听并关闭连接。
func (e *SyncEngine) Close() error {
	for _, un := range e.unsubs {
		un()
	}
	e.unsubs = nil
	return e.Transport.Close()
}
