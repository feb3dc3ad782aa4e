package message

import "testing"

// TestSortBySeq 测试按 seq 升序排列
func TestSortBySeq(t *testing.T) {
	batch := []Message{
		{ID: "m3", Seq: 30},
		{ID: "m1", Seq: 10},
		{ID: "m2", Seq: 20},
	}

	got := Sort(batch)
	want := []string{"m1", "m2", "m3"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %s, want %s", i, got[i].ID, id)
		}
	}

	// 入参不应被修改
	if batch[0].ID != "m3" {
		t.Errorf("Sort 修改了入参切片")
	}
}

// TestSortFallbackToTimestamp 测试 seq 缺失时退回时间戳排序
func TestSortFallbackToTimestamp(t *testing.T) {
	t.Run("MissingSeq", func(t *testing.T) {
		batch := []Message{
			{ID: "b", CreatedAt: "2024-05-01T10:00:02Z"},
			{ID: "a", CreatedAt: "2024-05-01T10:00:01Z"},
		}
		got := Sort(batch)
		if got[0].ID != "a" || got[1].ID != "b" {
			t.Errorf("时间戳排序错误: %s, %s", got[0].ID, got[1].ID)
		}
	})

	t.Run("MalformedTimestampSortsFirst", func(t *testing.T) {
		// 解析失败按 epoch 0，排最前，不 panic
		batch := []Message{
			{ID: "ok", Seq: 5},
			{ID: "bad", CreatedAt: "not-a-time"},
		}
		got := Sort(batch)
		if got[0].ID != "bad" {
			t.Errorf("坏时间戳应排最前, got %s", got[0].ID)
		}
	})

	t.Run("NoTimezoneVariant", func(t *testing.T) {
		m := Message{CreatedAt: "2024-05-01T10:00:01"}
		if m.CreatedTime().IsZero() {
			t.Errorf("不带时区的时间应能解析")
		}
	})
}

// TestSortEmpty 空批次返回空切片
func TestSortEmpty(t *testing.T) {
	got := Sort(nil)
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}
