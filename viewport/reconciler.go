// Package viewport 消息列表的滚动位置控制：
// 列表底部吸附、向后翻页时的锚点保持、哨兵触发下一页。
// 纯状态机，不感知网络；约定由 UI 事件回调串行调用。
package viewport

import "time"

// 默认“贴近底部”的像素阈值
const defaultBottomThreshold = 40

// Metrics 容器的一次滚动快照。
type Metrics struct {
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
}

// Anchor 翻页前记录的视觉锚点：翻页请求发出前写入，
// DOM 渲染出新内容后读取一次，然后失效。
type Anchor struct {
	AnchorID     string // 锚点消息 id
	Offset       float64
	ScrollTop    float64
	ScrollHeight float64
	WasAtBottom  bool
	UpdatedAt    time.Time
}

// Decision 消息数增长后的动作。
type Decision int

const (
	// DecisionNone 保持现状（用户正在翻历史，不要拽回底部）
	DecisionNone Decision = iota
	// DecisionStickBottom 滚到新的底部
	DecisionStickBottom
)

type Reconciler struct {
	threshold float64

	nearBottom   bool
	suppressNext bool
	lastCount    int
	anchor       *Anchor
}

func New() *Reconciler {
	return &Reconciler{threshold: defaultBottomThreshold, nearBottom: true}
}

// NewWithThreshold 自定义底部阈值（像素）。
func NewWithThreshold(px float64) *Reconciler {
	if px <= 0 {
		px = defaultBottomThreshold
	}
	return &Reconciler{threshold: px, nearBottom: true}
}

// ObserveScroll 每次滚动事件喂入当前位置，维护“是否贴近底部”。
func (r *Reconciler) ObserveScroll(m Metrics) {
	r.nearBottom = m.ScrollHeight-m.ScrollTop-m.ClientHeight <= r.threshold
}

// NearBottom 当前是否贴近底部。
func (r *Reconciler) NearBottom() bool {
	return r.nearBottom
}

// SuppressNextGrowth 一次性抑制标记：接下来的一次增长来自翻页 prepend，
// 不是新消息，不要触发底部吸附。
func (r *Reconciler) SuppressNextGrowth() {
	r.suppressNext = true
}

// OnCountChange 消息数变化后的决策。
// 增长时：抑制标记在则消费掉并什么都不做；否则贴底才吸附。
// 缩减（驱逐）不产生动作，只同步计数。
func (r *Reconciler) OnCountChange(count int) Decision {
	grew := count > r.lastCount
	r.lastCount = count
	if !grew {
		return DecisionNone
	}
	if r.suppressNext {
		r.suppressNext = false
		return DecisionNone
	}
	if r.nearBottom {
		return DecisionStickBottom
	}
	return DecisionNone
}

// CaptureAnchor 翻页请求发出前记录锚点。
func (r *Reconciler) CaptureAnchor(anchorID string, offset float64, m Metrics) {
	r.anchor = &Anchor{
		AnchorID:     anchorID,
		Offset:       offset,
		ScrollTop:    m.ScrollTop,
		ScrollHeight: m.ScrollHeight,
		WasAtBottom:  r.nearBottom,
		UpdatedAt:    time.Now(),
	}
}

// RestoreAnchor 新内容渲染完成后换算新的 scrollTop：
// 旧位置加上高度差，锚点消息在视口里纹丝不动。锚点随即失效。
func (r *Reconciler) RestoreAnchor(newScrollHeight float64) (float64, bool) {
	a := r.anchor
	if a == nil {
		return 0, false
	}
	r.anchor = nil
	return a.ScrollTop + (newScrollHeight - a.ScrollHeight), true
}

// ShouldLoadOlder 顶部哨兵可见时是否触发下一次向后翻页。
// 在途或已拉完时一律不触发，防止哨兵抖动打出重复请求。
func (r *Reconciler) ShouldLoadOlder(sentinelVisible, loading, hasMore bool) bool {
	return sentinelVisible && !loading && hasMore
}
