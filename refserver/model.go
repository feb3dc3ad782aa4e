// Package refserver 参考后端：实现同步引擎依赖的全部外部接口
// （WS 广播/回执、历史分页、通知快照、已读上报、房间列表），
// 供 example 演示和集成联调使用。不是生产实现。
package refserver

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/cydxin/chatsync-sdk/message"
)

// Room 房间表。
type Room struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	CreatedAt time.Time
}

func (Room) TableName() string { return "cs_room" }

// Message 消息表。Seq 房间内唯一，由 redis INCR 分配。
type Message struct {
	ID           string `gorm:"primaryKey;size:64"`
	RoomID       string `gorm:"size:64;uniqueIndex:idx_room_seq"`
	Seq          int64  `gorm:"uniqueIndex:idx_room_seq"`
	SenderID     string `gorm:"size:64"`
	SenderName   string `gorm:"size:128"`
	SenderAvatar string `gorm:"size:255"`
	Content      string `gorm:"type:text"`
	// Attachments 附件列表整体落 JSON 列
	Attachments datatypes.JSON
	CreatedAt   time.Time
}

func (Message) TableName() string { return "cs_message" }

// ToWire 转成下行广播的消息结构。
func (m *Message) ToWire() message.Message {
	var atts []message.Attachment
	if len(m.Attachments) > 0 {
		_ = json.Unmarshal(m.Attachments, &atts)
	}
	return message.Message{
		ID:       m.ID,
		RoomID:   m.RoomID,
		SenderID: m.SenderID,
		Sender: message.Author{
			ID:        m.SenderID,
			Name:      m.SenderName,
			AvatarURL: m.SenderAvatar,
		},
		Content:     m.Content,
		Attachments: atts,
		Seq:         m.Seq,
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339),
	}
}
