package service

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cydxin/chatsync-sdk/message"
)

// 房间名未解析时的占位文案
const placeholderRoomName = "未知房间"

// 名称解析一次拉取的页大小
const roomNamePageSize = 100

// RoomSummary 跨房间未读索引的单个条目。
// Unread 收敛到 {0,1}：界面只区分“有未读/已读完”，不展示具体条数。
type RoomSummary struct {
	RoomID        string
	RoomName      string
	LastMessage   string
	LastMessageAt time.Time // 零值表示未知，排序时垫底
	Unread        int
}

// NotifyService 跨房间未读/摘要索引。
// 与 HistoryService 互相独立：房间历史从未加载也要能出未读角标。
type NotifyService struct {
	*Service

	mu         sync.Mutex
	entries    map[string]*RoomSummary
	names      map[string]string // roomId -> roomName 侧缓存
	activeRoom string
}

func NewNotifyService(s *Service) *NotifyService {
	return &NotifyService{
		Service: s,
		entries: make(map[string]*RoomSummary),
		names:   make(map[string]string),
	}
}

func clampUnread(n int) int {
	if n > 0 {
		return 1
	}
	return 0
}

// Bootstrap 启动时拉服务端快照。失败只记日志，索引保持为空。
func (n *NotifyService) Bootstrap(ctx context.Context) {
	items, err := n.API.NotificationSnapshot(ctx)
	if err != nil {
		log.Printf("通知快照拉取失败: %v", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, it := range items {
		e := n.ensureLocked(it.RoomID)
		if it.RoomName != "" {
			e.RoomName = it.RoomName
			n.names[it.RoomID] = it.RoomName
		}
		e.LastMessage = it.LastMessage
		e.LastMessageAt = message.ParseTime(it.LastMessageAt)
		e.Unread = clampUnread(it.Unread)
		if it.RoomID == n.activeRoom {
			e.Unread = 0
		}
	}
}

func (n *NotifyService) ensureLocked(roomID string) *RoomSummary {
	e, ok := n.entries[roomID]
	if !ok {
		name := n.names[roomID]
		if name == "" {
			name = placeholderRoomName
		}
		e = &RoomSummary{RoomID: roomID, RoomName: name}
		n.entries[roomID] = e
	}
	return e
}

// OnBroadcast 实时广播路径：预览/时间无条件前移；
// 未读置 1，但当前正在看的房间保持 0。连续多条也不会超过 1。
func (n *NotifyService) OnBroadcast(m message.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e := n.ensureLocked(m.RoomID)
	e.LastMessage = m.Preview()
	e.LastMessageAt = m.CreatedTime()
	if m.RoomID == n.activeRoom {
		e.Unread = 0
	} else {
		e.Unread = 1
	}
}

// ApplySummary 服务端摘要推送的合并：lastMessageAt 取新弃旧（两条路径可交换），
// 但 unread 每次都按推送值重新算（clamp + 活跃房间归零），推送因此幂等。
func (n *NotifyService) ApplySummary(s message.SummaryPush) {
	pushAt := message.ParseTime(s.LastMessageAt)

	n.mu.Lock()
	defer n.mu.Unlock()

	e := n.ensureLocked(s.RoomID)
	if s.RoomName != "" {
		e.RoomName = s.RoomName
		n.names[s.RoomID] = s.RoomName
	}
	if !pushAt.Before(e.LastMessageAt) {
		e.LastMessage = s.LastMessage
		e.LastMessageAt = pushAt
	}
	e.Unread = clampUnread(s.Unread)
	if s.RoomID == n.activeRoom {
		e.Unread = 0
	}
}

// SetActiveRoom 记录当前正在查看的房间；该房间的未读立即归零。
// roomID 传空表示离开所有房间。
func (n *NotifyService) SetActiveRoom(roomID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activeRoom = roomID
	if e, ok := n.entries[roomID]; ok {
		e.Unread = 0
	}
}

// MarkRoomRead 乐观置零本地未读，再后台 fire-and-forget 上报服务端。
// 上报失败只记日志，不回滚——已读状态按最终一致处理。
func (n *NotifyService) MarkRoomRead(roomID string) {
	n.mu.Lock()
	if e, ok := n.entries[roomID]; ok {
		e.Unread = 0
	}
	n.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.API.MarkRead(ctx, roomID); err != nil {
			log.Printf("已读上报失败 room=%s: %v", roomID, err)
		}
	}()
}

// HydrateRoomNames 翻页拉全量房间列表，回填缺失的房间名。
// 只补名称，不动条目的其它字段。失败中断本轮，下次信号再来。
func (n *NotifyService) HydrateRoomNames(ctx context.Context) {
	cursor := ""
	for {
		page, err := n.API.Rooms(ctx, roomNamePageSize, cursor, "")
		if err != nil {
			log.Printf("房间名称缓存拉取失败: %v", err)
			return
		}

		n.mu.Lock()
		for _, r := range page.Items {
			if r.RoomName == "" {
				continue
			}
			n.names[r.ID] = r.RoomName
			if e, ok := n.entries[r.ID]; ok {
				e.RoomName = r.RoomName
			}
		}
		n.mu.Unlock()

		if page.NextCursor == "" {
			return
		}
		cursor = page.NextCursor
	}
}

// Entry 返回某房间条目的副本。
func (n *NotifyService) Entry(roomID string) (RoomSummary, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.entries[roomID]
	if !ok {
		return RoomSummary{}, false
	}
	return *e, true
}

// UnreadRoomCount 有未读的房间数（角标用）。
func (n *NotifyService) UnreadRoomCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.entries {
		if e.Unread > 0 {
			count++
		}
	}
	return count
}

// List 按 lastMessageAt 降序返回全部条目副本，无时间戳的垫底。
func (n *NotifyService) List() []RoomSummary {
	n.mu.Lock()
	out := make([]RoomSummary, 0, len(n.entries))
	for _, e := range n.entries {
		out = append(out, *e)
	}
	n.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].LastMessageAt, out[j].LastMessageAt
		if ti.IsZero() != tj.IsZero() {
			return !ti.IsZero()
		}
		return ti.After(tj)
	})
	return out
}

// Clear 清空索引与名称缓存（登出时）。
func (n *NotifyService) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = make(map[string]*RoomSummary)
	n.names = make(map[string]string)
	n.activeRoom = ""
}
