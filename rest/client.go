// Package rest 封装核心依赖的四个 HTTP 端点：历史分页、通知快照、已读上报、房间列表。
// 端点的实现方是外部协作者，这里只做请求/响应的薄封装。
package rest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/cydxin/chatsync-sdk/message"
)

// SummaryItem 通知快照条目（服务端算好的每房间摘要）。
type SummaryItem struct {
	RoomID        string `json:"room_id"`
	RoomName      string `json:"room_name,omitempty"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt string `json:"last_message_at,omitempty"`
	Unread        int    `json:"unread"`
}

// RoomItem 房间列表条目（用于名称解析）。
type RoomItem struct {
	ID       string `json:"id"`
	RoomName string `json:"room_name"`
}

// RoomPage 房间列表分页。
type RoomPage struct {
	Items      []RoomItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type historyResp struct {
	Items []message.Message `json:"items"`
}

type snapshotResp struct {
	Items []SummaryItem `json:"items"`
}

type Client struct {
	http *resty.Client
}

// NewClient 创建 REST 客户端。token 为空则不带 Authorization 头。
func NewClient(baseURL string, timeout time.Duration, token string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &Client{http: rc}
}

// SetToken 更新鉴权 token（与 Transport.UpdateCredentials 配套使用）。
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

// History 拉取一页历史消息。beforeSeq<=0 表示取最新一页。
// 返回顺序由服务端决定，调用方负责过 Sequencer。
func (c *Client) History(ctx context.Context, roomID string, limit int, beforeSeq int64) ([]message.Message, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&historyResp{})
	if beforeSeq > 0 {
		req.SetQueryParam("before_seq", strconv.FormatInt(beforeSeq, 10))
	}
	resp, err := req.Get(fmt.Sprintf("/api/rooms/%s/messages", roomID))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("history fetch: http %d", resp.StatusCode())
	}
	return resp.Result().(*historyResp).Items, nil
}

// NotificationSnapshot 拉取启动时的全量通知快照。
func (c *Client) NotificationSnapshot(ctx context.Context) ([]SummaryItem, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&snapshotResp{}).
		Get("/api/notifications/snapshot")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("notification snapshot: http %d", resp.StatusCode())
	}
	return resp.Result().(*snapshotResp).Items, nil
}

// MarkRead 上报已读。响应体不做要求，只看状态码。
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/api/rooms/%s/read", roomID))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("mark read: http %d", resp.StatusCode())
	}
	return nil
}

// Rooms 拉取一页房间列表（名称解析用）。
func (c *Client) Rooms(ctx context.Context, limit int, cursor, q string) (*RoomPage, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&RoomPage{})
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	if q != "" {
		req.SetQueryParam("q", q)
	}
	resp, err := req.Get("/api/rooms")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("room list: http %d", resp.StatusCode())
	}
	return resp.Result().(*RoomPage), nil
}
