package service

import (
	"context"
	"log"
	"sync"

	"github.com/cydxin/chatsync-sdk/message"
)

// RoomWindow 某个房间当前物化在内存里的消息窗口。
// 状态机：unloaded → loading → loaded(hasMore)；loading 在翻页时可重入。
type RoomWindow struct {
	// Messages seq 严格升序（经过 Sequencer 的部分；实时追加信任传输层顺序）
	Messages []message.Message

	// HasMore 服务端是否还有更老的历史
	HasMore bool

	// Cursor 当前持有的最老一条的 seq，下一次向后翻页的 exclusive 上界。
	// 0 表示尚未持有任何消息。
	Cursor int64

	// Loaded 首次拉取（无论成败）后恒为 true，不再复位
	Loaded bool

	// Loading 本房间是否有拉取在途，串行化同房间的重复请求
	Loading bool
}

// HistoryService 按房间维护消息窗口：首屏拉取、向后翻页、实时追加、批量驱逐。
// 网络失败在本层吞掉（只记日志），调用方通过 Loading/窗口内容观察结果并可重试。
type HistoryService struct {
	*Service

	mu    sync.Mutex
	rooms map[string]*RoomWindow
}

func NewHistoryService(s *Service) *HistoryService {
	return &HistoryService{Service: s, rooms: make(map[string]*RoomWindow)}
}

// EnsureRoom 幂等创建空窗口。
func (h *HistoryService) EnsureRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureLocked(roomID)
}

func (h *HistoryService) ensureLocked(roomID string) *RoomWindow {
	w, ok := h.rooms[roomID]
	if !ok {
		w = &RoomWindow{}
		h.rooms[roomID] = w
	}
	return w
}

// LoadInitial 首屏拉取。已 loaded 或在途时为 no-op（防止快速重挂载打重复请求）。
// 失败降级为“空且无更多”，而不是停在 loading。
func (h *HistoryService) LoadInitial(ctx context.Context, roomID string, pageSize int) {
	if pageSize <= 0 {
		pageSize = h.PageSize
	}

	h.mu.Lock()
	w := h.ensureLocked(roomID)
	if w.Loaded || w.Loading {
		h.mu.Unlock()
		return
	}
	w.Loading = true
	h.mu.Unlock()

	items, err := h.API.History(ctx, roomID, pageSize, 0)

	h.mu.Lock()
	defer h.mu.Unlock()
	w.Loading = false
	w.Loaded = true
	if err != nil {
		log.Printf("loadInitial room=%s 失败: %v", roomID, err)
		return
	}

	sorted := message.Sort(items)
	w.Messages = sorted
	if len(sorted) > 0 {
		w.Cursor = sorted[0].Seq
	} else {
		w.Cursor = 0
	}
	// 整页 = 可能还有；短页 = 拉完了
	w.HasMore = len(items) == pageSize
}

// PrependOlder 向后翻一页（比 Cursor 更老）。
// 未加载 / 在途 / 已拉完 / 无 cursor 时为 no-op。
func (h *HistoryService) PrependOlder(ctx context.Context, roomID string, pageSize int) {
	if pageSize <= 0 {
		pageSize = h.PageSize
	}

	h.mu.Lock()
	w, ok := h.rooms[roomID]
	if !ok || !w.Loaded || w.Loading || !w.HasMore || w.Cursor == 0 {
		h.mu.Unlock()
		return
	}
	w.Loading = true
	cursor := w.Cursor
	h.mu.Unlock()

	items, err := h.API.History(ctx, roomID, pageSize, cursor)

	h.mu.Lock()
	defer h.mu.Unlock()
	w.Loading = false
	if err != nil {
		// 保持原状态，loading 已复位，调用方可重试
		log.Printf("prependOlder room=%s 失败: %v", roomID, err)
		return
	}

	sorted := message.Sort(items)
	if len(sorted) > 0 {
		w.Messages = append(sorted, w.Messages...)
		w.Cursor = sorted[0].Seq
	}
	// 空页不动 cursor：瞬时空响应不能把下一次尝试弄丢
	w.HasMore = len(items) == pageSize
}

// AppendLive 实时广播追加。房间未物化则直接丢弃（通知聚合器独立消费同一事件）。
// 不做去重/重排：实时通道信任传输层恰好一次且有序，这是文档化的信任边界。
func (h *HistoryService) AppendLive(m message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.rooms[m.RoomID]
	if !ok {
		return
	}
	w.Messages = append(w.Messages, m)
}

// EvictOthers 只保留给定房间，其余整窗丢弃，为长会话兜内存。
func (h *HistoryService) EvictOthers(keepRoomIDs []string) {
	keep := make(map[string]struct{}, len(keepRoomIDs))
	for _, id := range keepRoomIDs {
		keep[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.rooms {
		if _, ok := keep[id]; !ok {
			delete(h.rooms, id)
		}
	}
}

// Window 返回房间窗口的副本（消息切片深拷贝，调用方可安全遍历）。
func (h *HistoryService) Window(roomID string) (RoomWindow, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.rooms[roomID]
	if !ok {
		return RoomWindow{}, false
	}
	out := *w
	out.Messages = make([]message.Message, len(w.Messages))
	copy(out.Messages, w.Messages)
	return out, true
}
