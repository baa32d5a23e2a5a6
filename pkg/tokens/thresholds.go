package tokens

// Thresholds 描述 token 用量相对上限的状态
type Thresholds struct {
	TokenCount  int     `json:"token_count"`
	MaxTokens   int     `json:"max_tokens"`
	PercentUsed float64 `json:"percent_used"`
	PercentLeft float64 `json:"percent_left"`
	// Warning 超过 70%
	Warning bool `json:"warning"`
	// AutoCompact 超过 80%
	AutoCompact bool `json:"auto_compact"`
	// Error 超过 90%
	Error bool `json:"error"`
	// Compact 超过 92%
	Compact bool `json:"compact"`
}

// CheckThresholds 计算用量阈值
func CheckThresholds(count, max int) Thresholds {
	t := Thresholds{TokenCount: count, MaxTokens: max}
	if max <= 0 {
		return t
	}
	t.PercentUsed = float64(count) / float64(max)
	t.PercentLeft = 1 - t.PercentUsed
	t.Warning = t.PercentUsed > 0.7
	t.AutoCompact = t.PercentUsed > 0.8
	t.Error = t.PercentUsed > 0.9
	t.Compact = t.PercentUsed > 0.92
	return t
}
