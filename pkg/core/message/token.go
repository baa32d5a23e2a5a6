package message

import "math"

// TokenUsage 模型服务端报告的 token 用量
//
// 本地估算只用于装入决策，这里是计费口径的实际值。
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add 累加一次调用的用量，工具循环中每轮调用都计入
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Drift 实际 prompt 用量相对本地估算的偏差比例
//
// 正值表示估算偏低。服务端未报告用量或估算为 0 时返回 0。
func (u TokenUsage) Drift(estimated int) float64 {
	if estimated <= 0 || u.PromptTokens == 0 {
		return 0
	}
	return float64(u.PromptTokens-estimated) / float64(estimated)
}

// DriftExceeds 偏差绝对值是否超过 tolerance
func (u TokenUsage) DriftExceeds(estimated int, tolerance float64) bool {
	return math.Abs(u.Drift(estimated)) > tolerance
}
