package usage

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/easyops/ctxwindow-go/pkg/refs"
)

// ContentSource 为相关性评分提供引用背后的文本
type ContentSource interface {
	// Content 返回引用指向的文本
	Content(ref refs.Ref) (string, bool)
	// Documents 返回用于计算 IDF 的全部文档
	Documents() []string
}

// TFIDFScorer 按意图与引用内容的 TF-IDF 余弦相似度评分
//
// IDF 在第一次评分时基于 ContentSource 的文档计算，之后直到 Invalidate 前保持不变。
// 词表之外的词使用平滑后的最大 IDF。
type TFIDFScorer struct {
	source ContentSource

	mu       sync.Mutex
	idf      map[string]float64
	maxIDF   float64
	docCount int
	fitted   bool
}

// NewTFIDFScorer 创建 TF-IDF 评分器
func NewTFIDFScorer(source ContentSource) *TFIDFScorer {
	return &TFIDFScorer{source: source}
}

// Invalidate 标记文档集合已变化，下次评分前重新计算 IDF
func (s *TFIDFScorer) Invalidate() {
	s.mu.Lock()
	s.fitted = false
	s.mu.Unlock()
}

// Fit 基于给定文档计算 IDF
func (s *TFIDFScorer) Fit(documents []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fit(documents)
}

func (s *TFIDFScorer) fit(documents []string) {
	df := make(map[string]int)
	for _, doc := range documents {
		seen := make(map[string]struct{})
		for _, tok := range tokenize(doc) {
			if _, ok := seen[tok]; !ok {
				df[tok]++
				seen[tok] = struct{}{}
			}
		}
	}

	n := float64(len(documents))
	s.idf = make(map[string]float64, len(df))
	for tok, count := range df {
		s.idf[tok] = math.Log(n/float64(count)) + 1
	}
	s.maxIDF = math.Log(n+1) + 1
	s.docCount = len(documents)
	s.fitted = true
}

// Relevance 实现 RelevanceScorer
func (s *TFIDFScorer) Relevance(ref refs.Ref, intent string) float64 {
	if strings.TrimSpace(intent) == "" || s.source == nil {
		return 0
	}
	content, ok := s.source.Content(ref)
	if !ok {
		content = ""
	}
	// 引用标识本身（路径、任务 ID）也参与匹配
	content = ref.ID() + "\n" + content

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fitted {
		s.fit(s.source.Documents())
	}
	return clamp01(cosine(s.vector(intent), s.vector(content)))
}

// vector 计算 L2 归一化的稀疏 TF-IDF 向量，调用方持有锁
func (s *TFIDFScorer) vector(text string) map[string]float64 {
	tf := make(map[string]int)
	for _, tok := range tokenize(text) {
		tf[tok]++
	}

	vec := make(map[string]float64, len(tf))
	var norm float64
	for tok, count := range tf {
		idf, ok := s.idf[tok]
		if !ok {
			idf = s.maxIDF
		}
		w := math.Log(1+float64(count)) * idf
		vec[tok] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for tok := range vec {
			vec[tok] /= norm
		}
	}
	return vec
}

// cosine 两个已归一化向量的余弦相似度
func cosine(a, b map[string]float64) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	var dot float64
	for tok, w := range a {
		dot += w * b[tok]
	}
	return dot
}

// tokenize 小写分词
//
// 字母数字连续成词，汉字单字成词，其余字符作为分隔符。
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

var _ RelevanceScorer = (*TFIDFScorer)(nil)
