package message

import "time"

// Author 发送人快照：发消息时冗余进消息体，客户端不再二次查询。
type Author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Attachment 附件描述（已上传完成的文件）。
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Meta 服务端附带的元信息。
type Meta struct {
	ReadCount int `json:"read_count,omitempty"`
}

// Message 消息的原子单位。
// - ID 服务端下发，全局唯一，作为去重键
// - PacketID 客户端生成的幂等令牌，重试/ack 过程中保持不变
// - Seq 房间内单调递增整数，房间内排序的唯一依据
// - CreatedAt 保留原始字符串：服务端时间格式不可控，解析放到 CreatedTime()
type Message struct {
	ID          string       `json:"id"`
	PacketID    string       `json:"packet_id,omitempty"`
	RoomID      string       `json:"room_id"`
	SenderID    string       `json:"sender_id"`
	Sender      Author       `json:"sender"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Seq         int64        `json:"seq"`
	CreatedAt   string       `json:"created_at"`
	Meta        *Meta        `json:"meta,omitempty"`
}

// ParseTime 解析 ISO 时间串；解析失败返回零值时间，排序时按 epoch 0 处理。
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// 兼容不带时区的变体
		t, err = time.Parse("2006-01-02T15:04:05", s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

// CreatedTime 解析 CreatedAt。
func (m Message) CreatedTime() time.Time {
	return ParseTime(m.CreatedAt)
}

// Preview 生成会话列表用的预览文案。
func (m Message) Preview() string {
	if m.Content != "" {
		return m.Content
	}
	if len(m.Attachments) > 0 {
		return "[附件]"
	}
	return ""
}
