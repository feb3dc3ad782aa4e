package message

import "sort"

// sortKey 排序键：优先 Seq；Seq 缺失（<=0）时退回 created_at 的毫秒时间戳，
// 解析失败按 0 处理（排到最前，而不是 panic/丢弃）。
func sortKey(m Message) int64 {
	if m.Seq > 0 {
		return m.Seq
	}
	t := m.CreatedTime()
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Sort 将一批消息（历史分页返回，顺序不保证）整理为 seq 升序的新切片。
// 纯函数：不修改入参，不持有状态，永不失败。
// 只用于历史分页路径；实时广播默认自身有序，不经过这里。
func Sort(batch []Message) []Message {
	out := make([]Message, len(batch))
	copy(out, batch)
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := sortKey(out[i]), sortKey(out[j])
		if ki != kj {
			return ki < kj
		}
		// 键相同（如都缺 seq 且时间戳相等）时按时间兜底
		return out[i].CreatedTime().Before(out[j].CreatedTime())
	})
	return out
}
