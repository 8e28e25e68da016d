package sentiment

import "context"

// Headline 为一条待评分的新闻标题。
type Headline struct {
	Symbol string `json:"symbol"`
	Text   string `json:"text"`
}

// HeadlineProvider 提供某标的最近的新闻标题，具体抓取由外部系统负责。
type HeadlineProvider interface {
	LatestHeadlines(ctx context.Context, symbol string, limit int) ([]Headline, error)
}

// Scorer 对标的当前舆情打分，取值范围 [-1, 1]，负值为利空。
type Scorer interface {
	Score(ctx context.Context, symbol string) (float64, error)
}
