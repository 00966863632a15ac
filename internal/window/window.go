package window

import (
	"fmt"
	"math"
	"math/bits"
)

// Range 半开区块区间 [Start, End)
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len 区间长度
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty 是否为空区间
func (r Range) Empty() bool {
	return r.Len() == 0
}

// Mid 区间中点 (Start+End)/2，不会溢出
func (r Range) Mid() uint64 {
	return r.Start + r.Len()/2
}

// Split 在中点拆分为 [Start, m) 和 [m, End)
func (r Range) Split() (Range, Range) {
	m := r.Mid()
	return Range{Start: r.Start, End: m}, Range{Start: m, End: r.End}
}

// Clip 把区间截断到 end 之前
func (r Range) Clip(end uint64) Range {
	if r.End > end {
		r.End = end
	}
	if r.Start > r.End {
		r.Start = r.End
	}
	return r
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Controller 自适应窗口控制器
// 按当前窗口大小生成连续的区块区间，并根据观察到的事件数按比例调整窗口
type Controller struct {
	pos     uint64
	size    uint64
	target  uint64
	maxSize uint64 // 0 表示不限
}

// New 创建窗口控制器
// initial 为 0 时按 1 处理
func New(start, initial, target uint64) *Controller {
	if initial == 0 {
		initial = 1
	}
	return &Controller{
		pos:    start,
		size:   initial,
		target: target,
	}
}

// SetMaxSize 设置窗口上限，0 表示不限，当前窗口超过上限时立即收缩
func (c *Controller) SetMaxSize(maxSize uint64) {
	c.maxSize = maxSize
	c.size = c.limit(c.size)
}

// Next 返回 [pos, pos+size) 并前进 size
// 到达 uint64 上限时区间被截断，之后返回空区间
func (c *Controller) Next() Range {
	end := c.pos + c.size
	if end < c.pos {
		end = math.MaxUint64
	}
	r := Range{Start: c.pos, End: end}
	c.pos = end
	return r
}

// Tune 按单次观察值调整窗口: size = floor(size*target/observed)
// observed 为 0 时不调整；结果至少为 1
func (c *Controller) Tune(observed uint64) {
	if observed == 0 {
		return
	}
	hi, lo := bits.Mul64(c.size, c.target)
	var size uint64
	if hi >= observed {
		// 商超过 64 位
		size = math.MaxUint64
	} else {
		size, _ = bits.Div64(hi, lo, observed)
	}
	c.size = c.limit(size)
}

// Halve 窗口减半，结果至少为 1
func (c *Controller) Halve() {
	c.size = clamp(c.size / 2)
}

// Size 当前窗口大小
func (c *Controller) Size() uint64 {
	return c.size
}

// Position 下一个区间的起点
func (c *Controller) Position() uint64 {
	return c.pos
}

// Exhausted 起点已到达 uint64 上限，没有剩余区块
func (c *Controller) Exhausted() bool {
	return c.pos == math.MaxUint64
}

// Target 目标事件数
func (c *Controller) Target() uint64 {
	return c.target
}

// limit 按上限截断窗口，并保证 pos+size 不溢出
func (c *Controller) limit(size uint64) uint64 {
	if c.maxSize > 0 && size > c.maxSize {
		size = c.maxSize
	}
	if rest := math.MaxUint64 - c.pos; rest > 0 && size > rest {
		size = rest
	}
	return clamp(size)
}

func clamp(size uint64) uint64 {
	if size == 0 {
		return 1
	}
	return size
}
