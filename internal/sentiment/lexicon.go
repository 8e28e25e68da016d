package sentiment

import (
	"context"
	"strings"
)

var (
	positiveWords = map[string]struct{}{
		"beat": {}, "beats": {}, "surge": {}, "surges": {}, "rally": {},
		"upgrade": {}, "upgraded": {}, "record": {}, "growth": {}, "profit": {},
		"strong": {}, "bullish": {}, "buyback": {}, "dividend": {}, "approval": {},
	}
	negativeWords = map[string]struct{}{
		"miss": {}, "misses": {}, "plunge": {}, "plunges": {}, "crash": {},
		"downgrade": {}, "downgraded": {}, "lawsuit": {}, "fraud": {}, "loss": {},
		"weak": {}, "bearish": {}, "recall": {}, "bankruptcy": {}, "probe": {},
	}
)

// LexiconScorer 基于关键词表的本地打分器，用于离线运行与测试。
type LexiconScorer struct {
	provider HeadlineProvider
}

// NewLexiconScorer 创建词表打分器。
func NewLexiconScorer(provider HeadlineProvider) *LexiconScorer {
	return &LexiconScorer{provider: provider}
}

// Score 统计正负关键词出现次数并归一化到 [-1, 1]。
func (s *LexiconScorer) Score(ctx context.Context, symbol string) (float64, error) {
	headlines, err := s.provider.LatestHeadlines(ctx, symbol, defaultHeadlineLimit)
	if err != nil {
		return 0, err
	}
	if len(headlines) == 0 {
		return 0, nil
	}

	var hits, score float64
	for _, h := range headlines {
		for _, word := range strings.Fields(strings.ToLower(h.Text)) {
			word = strings.Trim(word, ".,:;!?\"'()")
			if _, ok := positiveWords[word]; ok {
				score++
				hits++
			} else if _, ok := negativeWords[word]; ok {
				score--
				hits++
			}
		}
	}
	if hits == 0 {
		return 0, nil
	}
	return score / hits, nil
}
