// Package clock 提供可注入的时间源
package clock

import (
	"sync"
	"time"
)

// Clock 时间源接口
type Clock interface {
	Now() time.Time
}

// Real 使用系统时间
type Real struct{}

// Now 返回当前系统时间
func (Real) Now() time.Time {
	return time.Now()
}

// Manual 手动推进的时间源，用于测试
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual 创建起始于 start 的手动时钟
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now 返回当前设定的时间
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 向前推进 d
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set 设置为指定时间
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// 编译时接口检查
var (
	_ Clock = Real{}
	_ Clock = (*Manual)(nil)
)
