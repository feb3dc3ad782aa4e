package chatsync_sdk

import "sync"

// Topic 跨组件信号的主题。集合是封闭的：不允许业务随意扩展 any-payload 事件。
type Topic string

const (
	// TopicRoomsChanged 房间列表发生变化（入群/退群/改名），通知聚合器据此重新拉取名称缓存
	TopicRoomsChanged Topic = "rooms.changed"

	// TopicLoggedOut 登出：各组件清空本地状态
	TopicLoggedOut Topic = "logged.out"
)

// Bus 显式的进程内发布/订阅通道，替代隐式全局事件总线。
// 信号不携带负载：需要数据的一方自己回源拉取。
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic]map[int]func()
	nextID int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]func())}
}

// Subscribe 订阅主题，返回注销函数。
func (b *Bus) Subscribe(topic Topic, fn func()) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func())
	}
	b.subs[topic][id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs[topic], id)
		b.mu.Unlock()
	}
}

// Publish 同步通知所有订阅者。
func (b *Bus) Publish(topic Topic) {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
