package chatsync_sdk

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cydxin/chatsync-sdk/message"
)

// startEngineFixture 组合夹具：WS + 四个 REST 端点，r-1 预置 seq 1..30 的历史。
func startEngineFixture(t *testing.T) (*wsFixture, *SyncEngine, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	f := newWsFixture()
	r.GET("/ws", f.handle)
	r.GET("/api/rooms/:id/messages", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		before, _ := strconv.ParseInt(c.DefaultQuery("before_seq", "0"), 10, 64)
		top := int64(30)
		if before > 0 {
			top = before - 1
		}
		items := make([]gin.H, 0, limit)
		for seq := top; seq > 0 && len(items) < limit; seq-- {
			items = append(items, gin.H{"id": fmt.Sprintf("m-%d", seq), "room_id": c.Param("id"), "seq": seq})
		}
		c.JSON(200, gin.H{"items": items})
	})
	r.GET("/api/notifications/snapshot", func(c *gin.Context) {
		c.JSON(200, gin.H{"items": []gin.H{
			{"room_id": "r-2", "room_name": "隔壁群", "last_message": "早", "last_message_at": "2024-05-01T08:00:00Z", "unread": 9},
		}})
	})
	r.GET("/api/rooms", func(c *gin.Context) {
		c.JSON(200, gin.H{"items": []gin.H{{"id": "r-1", "room_name": "主群"}}})
	})
	r.POST("/api/rooms/:id/read", func(c *gin.Context) { c.Status(204) })

	srv := httptest.NewServer(r)
	e := NewEngine(
		WithAPIBase(srv.URL),
		WithSocketURL("ws"+strings.TrimPrefix(srv.URL, "http")),
		WithPageSize(20),
	)
	return f, e, func() {
		_ = e.Close()
		srv.Close()
	}
}

// TestEngineEndToEnd 接线验证：首屏 + 实时广播分发到窗口与未读索引
func TestEngineEndToEnd(t *testing.T) {
	f, e, done := startEngineFixture(t)
	defer done()

	ctx := context.Background()
	if err := e.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	e.Bootstrap(ctx)

	// 快照：r-2 有未读（clamp 到 1）
	if e2, ok := e.Notify.Entry("r-2"); !ok || e2.Unread != 1 {
		t.Fatalf("快照条目错误: %+v", e2)
	}

	e.OpenRoom(ctx, "r-1")
	f.waitFrame(t, "join")

	w, ok := e.History.Window("r-1")
	if !ok || len(w.Messages) != 20 || w.Cursor != 11 || !w.HasMore {
		t.Fatalf("首屏窗口错误: len=%d cursor=%d hasMore=%v", len(w.Messages), w.Cursor, w.HasMore)
	}

	// 活跃房间的广播：窗口追加、未读保持 0
	f.broadcast(map[string]any{"type": "message", "id": "m-31", "room_id": "r-1", "seq": 31, "content": "新消息",
		"created_at": time.Now().UTC().Format(time.RFC3339)})
	waitFor(t, func() bool {
		w, _ := e.History.Window("r-1")
		return len(w.Messages) == 21
	})
	if entry, _ := e.Notify.Entry("r-1"); entry.Unread != 0 {
		t.Errorf("活跃房间 unread = %d, want 0", entry.Unread)
	}
	// 名称缓存在 Bootstrap 时已水合
	if entry, _ := e.Notify.Entry("r-1"); entry.RoomName != "主群" {
		t.Errorf("房间名 = %q, want 主群", entry.RoomName)
	}

	// 未物化房间的广播：缓存丢弃、未读索引照常更新
	f.broadcast(map[string]any{"type": "message", "id": "x-1", "room_id": "r-9", "seq": 1, "content": "嗨",
		"created_at": time.Now().UTC().Format(time.RFC3339)})
	waitFor(t, func() bool {
		entry, ok := e.Notify.Entry("r-9")
		return ok && entry.Unread == 1
	})
	if _, ok := e.History.Window("r-9"); ok {
		t.Errorf("未物化房间不应进缓存")
	}

	// 摘要推送走第二条路径
	f.broadcast(map[string]any{"type": "summary", "room_id": "r-2", "last_message": "新摘要",
		"last_message_at": "2024-05-01T09:00:00Z", "unread": 4})
	waitFor(t, func() bool {
		entry, _ := e.Notify.Entry("r-2")
		return entry.LastMessage == "新摘要" && entry.Unread == 1
	})

	// 翻页：PrependOlder 拿 seq<=10
	e.History.PrependOlder(ctx, "r-1", 20)
	w, _ = e.History.Window("r-1")
	if w.Cursor != 1 || w.HasMore {
		t.Errorf("翻页后 cursor=%d hasMore=%v", w.Cursor, w.HasMore)
	}
}

// TestBusSignals rooms.changed 触发名称再水合；logged.out 清空
func TestBusSignals(t *testing.T) {
	_, e, done := startEngineFixture(t)
	defer done()

	ctx := context.Background()
	e.Notify.Bootstrap(ctx)
	e.History.EnsureRoom("r-1")

	// 先让 r-1 以占位名出现，再发信号触发名称再水合
	e.Notify.ApplySummary(message.SummaryPush{RoomID: "r-1", Unread: 1})
	e.Bus.Publish(TopicRoomsChanged)
	waitFor(t, func() bool {
		entry, _ := e.Notify.Entry("r-1")
		return entry.RoomName == "主群"
	})

	e.Bus.Publish(TopicLoggedOut)
	if len(e.Notify.List()) != 0 {
		t.Errorf("登出后未读索引应清空")
	}
	if _, ok := e.History.Window("r-1"); ok {
		t.Errorf("登出后消息缓存应清空")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("条件等待超时")
}
