package refserver

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Store 持久层：消息/房间走 gorm，seq 分配与未读计数走 redis。
type Store struct {
	DB  *gorm.DB
	RDB *redis.Client
}

const unreadHashKey = "cs:unread"

func seqKey(roomID string) string {
	return fmt.Sprintf("cs:room:%s:seq", roomID)
}

// AutoMigrate 建表。
func (s *Store) AutoMigrate() error {
	return s.DB.AutoMigrate(&Room{}, &Message{})
}

// NextSeq 为房间分配下一个 seq（INCR 保证房间内单调且不重复）。
func (s *Store) NextSeq(ctx context.Context, roomID string) (int64, error) {
	return s.RDB.Incr(ctx, seqKey(roomID)).Result()
}

// SaveMessage 落库。
func (s *Store) SaveMessage(m *Message) error {
	return s.DB.Create(m).Error
}

// HistoryPage 向后翻页：seq 严格小于 beforeSeq 的最近 limit 条，新→旧下发。
// beforeSeq<=0 表示最新一页。升序整理是客户端 Sequencer 的事。
func (s *Store) HistoryPage(roomID string, limit int, beforeSeq int64) ([]Message, error) {
	q := s.DB.Model(&Message{}).Where("room_id = ?", roomID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}
	var msgs []Message
	err := q.Order("seq DESC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

// LastMessage 房间最后一条消息；没有则返回 gorm.ErrRecordNotFound。
func (s *Store) LastMessage(roomID string) (*Message, error) {
	var m Message
	err := s.DB.Model(&Message{}).
		Where("room_id = ?", roomID).
		Order("seq DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Rooms 按 id 游标翻页。
func (s *Store) Rooms(limit int, cursor, q string) ([]Room, string, error) {
	query := s.DB.Model(&Room{})
	if cursor != "" {
		query = query.Where("id > ?", cursor)
	}
	if q != "" {
		query = query.Where("name LIKE ?", "%"+q+"%")
	}
	var rooms []Room
	if err := query.Order("id ASC").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, "", err
	}
	next := ""
	if len(rooms) == limit {
		next = rooms[len(rooms)-1].ID
	}
	return rooms, next, nil
}

// IncrUnread 未读 +1，返回新值。
func (s *Store) IncrUnread(ctx context.Context, roomID string) (int64, error) {
	return s.RDB.HIncrBy(ctx, unreadHashKey, roomID, 1).Result()
}

// ResetUnread 已读上报：归零。
func (s *Store) ResetUnread(ctx context.Context, roomID string) error {
	return s.RDB.HSet(ctx, unreadHashKey, roomID, 0).Err()
}

// UnreadCounts 全量未读计数。
func (s *Store) UnreadCounts(ctx context.Context) (map[string]int64, error) {
	raw, err := s.RDB.HGetAll(ctx, unreadHashKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for roomID, v := range raw {
		var n int64
		_, _ = fmt.Sscan(v, &n)
		out[roomID] = n
	}
	return out, nil
}
