package refserver

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open failed: %v", err)
	}
	return db, mock
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// TestHistoryPage 测试向后翻页查询（before_seq 为 exclusive 上界，seq 倒序下发）
func TestHistoryPage(t *testing.T) {
	db, mock := newMockDB(t)
	store := &Store{DB: db}

	cols := []string{"id", "room_id", "seq", "sender_id", "sender_name", "sender_avatar", "content", "attachments", "created_at"}

	t.Run("LatestPage", func(t *testing.T) {
		rows := sqlmock.NewRows(cols).
			AddRow("m-100", "r-1", 100, "u-1", "小明", "", "hi", []byte(`[]`), time.Now()).
			AddRow("m-99", "r-1", 99, "u-1", "小明", "", "yo", []byte(`[]`), time.Now())
		mock.ExpectQuery("SELECT (.+) FROM `cs_message` WHERE room_id = (.+) ORDER BY seq DESC").
			WillReturnRows(rows)

		msgs, err := store.HistoryPage("r-1", 20, 0)
		if err != nil {
			t.Fatalf("HistoryPage failed: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Seq != 100 {
			t.Errorf("结果错误: len=%d", len(msgs))
		}
	})

	t.Run("BeforeSeq", func(t *testing.T) {
		rows := sqlmock.NewRows(cols).
			AddRow("m-80", "r-1", 80, "u-1", "小明", "", "old", []byte(`[]`), time.Now())
		mock.ExpectQuery("SELECT (.+) FROM `cs_message` WHERE room_id = (.+) AND seq < (.+) ORDER BY seq DESC").
			WillReturnRows(rows)

		msgs, err := store.HistoryPage("r-1", 20, 81)
		if err != nil {
			t.Fatalf("HistoryPage failed: %v", err)
		}
		if len(msgs) != 1 || msgs[0].Seq != 80 {
			t.Errorf("结果错误: %+v", msgs)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

// TestRoomsCursor 测试房间列表的游标翻页（整页给 next_cursor，短页收尾）
func TestRoomsCursor(t *testing.T) {
	db, mock := newMockDB(t)
	store := &Store{DB: db}

	cols := []string{"id", "name", "created_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("r-1", "健身打卡群", time.Now()).
		AddRow("r-2", "周末约跑", time.Now())
	mock.ExpectQuery("SELECT (.+) FROM `cs_room` ORDER BY id ASC").WillReturnRows(rows)

	rooms, next, err := store.Rooms(2, "", "")
	if err != nil {
		t.Fatalf("Rooms failed: %v", err)
	}
	if len(rooms) != 2 || next != "r-2" {
		t.Errorf("整页应返回 next_cursor: len=%d next=%q", len(rooms), next)
	}

	rows2 := sqlmock.NewRows(cols).AddRow("r-3", "夜跑小队", time.Now())
	mock.ExpectQuery("SELECT (.+) FROM `cs_room` WHERE id > (.+) ORDER BY id ASC").WillReturnRows(rows2)

	rooms, next, err = store.Rooms(2, "r-2", "")
	if err != nil {
		t.Fatalf("Rooms page2 failed: %v", err)
	}
	if len(rooms) != 1 || next != "" {
		t.Errorf("短页不应有 next_cursor: len=%d next=%q", len(rooms), next)
	}
}

// TestSaveMessage 测试消息落库
func TestSaveMessage(t *testing.T) {
	db, mock := newMockDB(t)
	store := &Store{DB: db}

	mock.ExpectExec("INSERT INTO `cs_message`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.SaveMessage(&Message{
		ID: "m-1", RoomID: "r-1", Seq: 1,
		SenderID: "u-1", Content: "hello",
		Attachments: []byte(`[]`), CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

// TestSeqAllocation 测试 redis INCR 分配的 seq 单调且按房间隔离
func TestSeqAllocation(t *testing.T) {
	store := &Store{RDB: newMiniRedis(t)}
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.NextSeq(ctx, "r-1")
		if err != nil {
			t.Fatalf("NextSeq failed: %v", err)
		}
		if got != want {
			t.Errorf("NextSeq = %d, want %d", got, want)
		}
	}

	// 不同房间独立计数
	got, err := store.NextSeq(ctx, "r-2")
	if err != nil {
		t.Fatalf("NextSeq failed: %v", err)
	}
	if got != 1 {
		t.Errorf("r-2 首个 seq = %d, want 1", got)
	}
}

// TestUnreadCounters 测试未读计数的增加/归零/快照
func TestUnreadCounters(t *testing.T) {
	store := &Store{RDB: newMiniRedis(t)}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.IncrUnread(ctx, "r-1"); err != nil {
			t.Fatalf("IncrUnread failed: %v", err)
		}
	}
	if _, err := store.IncrUnread(ctx, "r-2"); err != nil {
		t.Fatalf("IncrUnread failed: %v", err)
	}

	counts, err := store.UnreadCounts(ctx)
	if err != nil {
		t.Fatalf("UnreadCounts failed: %v", err)
	}
	if counts["r-1"] != 3 || counts["r-2"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	if err := store.ResetUnread(ctx, "r-1"); err != nil {
		t.Fatalf("ResetUnread failed: %v", err)
	}
	counts, _ = store.UnreadCounts(ctx)
	if counts["r-1"] != 0 {
		t.Errorf("归零后 r-1 = %d", counts["r-1"])
	}
}
