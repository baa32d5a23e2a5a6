// Package editstrategy 决定文件编辑在活动上下文中的呈现方式
package editstrategy

import "time"

// Strategy 编辑呈现策略
type Strategy string

const (
	// KeepBoth 保留原文件表示并追加差异
	KeepBoth Strategy = "KEEP_BOTH"
	// ReplaceWithDiff 用差异替换原文件表示，再加载最新版本
	ReplaceWithDiff Strategy = "REPLACE_WITH_DIFF"
	// DiffMarkerOnly 只保留变更摘要，再加载最新版本
	DiffMarkerOnly Strategy = "DIFF_MARKER_ONLY"
)

// TTL 返回该策略下差异条目的存活时间
func (s Strategy) TTL() time.Duration {
	switch s {
	case KeepBoth:
		return 2 * time.Minute
	case ReplaceWithDiff:
		return 5 * time.Minute
	case DiffMarkerOnly:
		return time.Minute
	default:
		return 0
	}
}

// ReplacesOriginal 是否卸载原文件表示
func (s Strategy) ReplacesOriginal() bool {
	return s == ReplaceWithDiff || s == DiffMarkerOnly
}

// Preservation 策略的基准上下文保留率
func (s Strategy) Preservation() float64 {
	switch s {
	case KeepBoth:
		return 1.0
	case ReplaceWithDiff:
		return 0.875
	case DiffMarkerOnly:
		return 0.3
	default:
		return 0.8
	}
}

// Efficiency 策略的内存效率权重
func (s Strategy) Efficiency() float64 {
	switch s {
	case KeepBoth:
		return 0.5
	case ReplaceWithDiff:
		return 0.9
	case DiffMarkerOnly:
		return 0.8
	default:
		return 1.0
	}
}

// Valid 检查策略取值
func (s Strategy) Valid() bool {
	switch s {
	case KeepBoth, ReplaceWithDiff, DiffMarkerOnly:
		return true
	default:
		return false
	}
}

// All 按固定顺序返回全部策略
func All() []Strategy {
	return []Strategy{KeepBoth, ReplaceWithDiff, DiffMarkerOnly}
}
