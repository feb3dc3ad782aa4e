package message

import (
	"encoding/json"
	"fmt"
)

// WS 帧类型（上行/下行共用 type 字段做分发）
const (
	WsTypeMessage = "message" // 下行：房间消息广播；上行：发送消息
	WsTypeJoin    = "join"    // 上行：订阅房间
	WsTypeLeave   = "leave"   // 上行：取消订阅
	WsTypeAck     = "ack"     // 下行：发送回执（每次 send 恰好一条）
	WsTypeSummary = "summary" // 下行：房间摘要推送（已读回执等触发）
	WsTypeError   = "error"   // 下行：协议层错误
)

// JoinReq / LeaveReq 订阅信号，fire-and-forget，不要求回执。
type JoinReq struct {
	Type   string `json:"type"` // join / leave
	RoomID string `json:"room_id"`
}

// AttachmentUpload 上行附件：原始字节在 Data 中，编码交给 json（base64）。
type AttachmentUpload struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Data        []byte `json:"data"`
}

// SendReq 上行发送消息。PacketID 为幂等令牌，客户端生成，ack 原样带回。
type SendReq struct {
	Type        string             `json:"type"` // message
	RoomID      string             `json:"room_id"`
	Content     string             `json:"content,omitempty"`
	Attachments []AttachmentUpload `json:"attachments,omitempty"`
	PacketID    string             `json:"packet_id"`
}

// SendAck 发送回执：要么成功（带服务端元数据），要么失败（带原因）。
type SendAck struct {
	Type        string       `json:"type"` // ack
	OK          bool         `json:"ok"`
	ID          string       `json:"id,omitempty"`
	PacketID    string       `json:"packet_id,omitempty"`
	CreatedAt   string       `json:"created_at,omitempty"`
	Seq         int64        `json:"seq,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// SummaryPush 服务端推送的房间摘要（权威数据，幂等可重放）。
type SummaryPush struct {
	Type          string `json:"type"` // summary
	RoomID        string `json:"room_id"`
	RoomName      string `json:"room_name,omitempty"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt string `json:"last_message_at,omitempty"`
	Unread        int    `json:"unread"`
}

// WsError 协议层错误帧。
type WsError struct {
	Type     string `json:"type"` // error
	Message  string `json:"message"`
	PacketID string `json:"packet_id,omitempty"`
}

// Inbound 下行帧的 tagged union：按 Type 分发，恰好一个字段非 nil。
// 边界处统一校验，下游不再做 shape 嗅探。
type Inbound struct {
	Type    string
	Message *Message
	Ack     *SendAck
	Summary *SummaryPush
	Error   *WsError
}

// DecodeInbound 先探测 type 再解具体结构。
// 未知 type 返回错误，由调用方记日志后丢弃。
func DecodeInbound(raw []byte) (*Inbound, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode inbound frame: %w", err)
	}

	in := &Inbound{Type: probe.Type}
	switch probe.Type {
	case WsTypeMessage:
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode message frame: %w", err)
		}
		if m.RoomID == "" {
			return nil, fmt.Errorf("message frame missing room_id")
		}
		in.Message = &m
	case WsTypeAck:
		var a SendAck
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode ack frame: %w", err)
		}
		in.Ack = &a
	case WsTypeSummary:
		var s SummaryPush
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode summary frame: %w", err)
		}
		if s.RoomID == "" {
			return nil, fmt.Errorf("summary frame missing room_id")
		}
		in.Summary = &s
	case WsTypeError:
		var e WsError
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		in.Error = &e
	default:
		return nil, fmt.Errorf("unknown frame type %q", probe.Type)
	}
	return in, nil
}
