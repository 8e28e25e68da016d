package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPProvider 从外部新闻服务拉取标题。服务端约定返回
// JSON 数组：[{"symbol": "...", "text": "..."}]。
type HTTPProvider struct {
	feedURL string
	client  *http.Client
}

// NewHTTPProvider 创建 HTTP 标题源。
func NewHTTPProvider(feedURL string, timeout time.Duration) (*HTTPProvider, error) {
	if feedURL == "" {
		return nil, fmt.Errorf("sentiment: feed_url 不能为空")
	}
	if _, err := url.Parse(feedURL); err != nil {
		return nil, fmt.Errorf("sentiment: feed_url 无效: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		feedURL: feedURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// LatestHeadlines 按标的抓取最近标题。
func (p *HTTPProvider) LatestHeadlines(ctx context.Context, symbol string, limit int) ([]Headline, error) {
	if limit <= 0 {
		limit = defaultHeadlineLimit
	}

	endpoint, err := url.Parse(p.feedURL)
	if err != nil {
		return nil, fmt.Errorf("sentiment: feed_url 无效: %w", err)
	}
	query := endpoint.Query()
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(limit))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("sentiment: 构造请求失败: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment: 拉取标题失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sentiment: 标题服务返回状态码 %d", resp.StatusCode)
	}

	var headlines []Headline
	if err := json.NewDecoder(resp.Body).Decode(&headlines); err != nil {
		return nil, fmt.Errorf("sentiment: 解析标题失败: %w", err)
	}
	if len(headlines) > limit {
		headlines = headlines[:limit]
	}
	return headlines, nil
}
