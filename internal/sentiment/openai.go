package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"trade-core/internal/config"
)

const defaultHeadlineLimit = 5

// OpenAIScorer 通过大模型对新闻标题打分。
type OpenAIScorer struct {
	cfg      config.OpenAIConfig
	provider HeadlineProvider
	logger   *zap.Logger
	sdk      *openai.Client
}

// NewOpenAIScorer 使用给定配置创建舆情打分器。
func NewOpenAIScorer(cfg config.OpenAIConfig, provider HeadlineProvider, logger *zap.Logger) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("sentiment: openai api_key 不能为空")
	}
	if provider == nil {
		return nil, errors.New("sentiment: headline provider 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	return &OpenAIScorer{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		sdk:      openai.NewClientWithConfig(sdkCfg),
	}, nil
}

type scoreResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Score 抓取最近标题并调用模型评分。
func (s *OpenAIScorer) Score(ctx context.Context, symbol string) (float64, error) {
	headlines, err := s.provider.LatestHeadlines(ctx, symbol, defaultHeadlineLimit)
	if err != nil {
		return 0, fmt.Errorf("sentiment: 获取标题失败: %w", err)
	}
	if len(headlines) == 0 {
		return 0, nil
	}

	response, err := s.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(symbol, headlines),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		s.logger.Error("调用OpenAI失败", zap.Error(err))
		return 0, fmt.Errorf("sentiment: 调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return 0, errors.New("sentiment: OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return 0, errors.New("sentiment: OpenAI 返回内容为空")
	}

	score, err := parseScore(rawContent)
	if err != nil {
		s.logger.Error("解析舆情评分失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return 0, err
	}

	s.logger.Debug("舆情评分完成",
		zap.String("symbol", symbol),
		zap.Float64("score", score),
	)

	return score, nil
}

func buildPrompt(symbol string, headlines []Headline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "对以下关于 %s 的新闻标题给出综合舆情评分。\n", symbol)
	b.WriteString("评分范围 [-1, 1]，-1 为极度利空，1 为极度利多，0 为中性。\n")
	b.WriteString("只返回 JSON：{\"score\": <number>, \"reasoning\": \"<一句话>\"}\n\n")
	for i, h := range headlines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, h.Text)
	}
	return b.String()
}

func parseScore(content string) (float64, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return 0, fmt.Errorf("sentiment: 模型输出未找到有效JSON: %s", content)
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(content[start:end+1]), &resp); err != nil {
		return 0, fmt.Errorf("sentiment: 解析评分JSON失败: %w", err)
	}
	if resp.Score < -1 || resp.Score > 1 {
		return 0, fmt.Errorf("sentiment: 评分 %f 超出 [-1,1]", resp.Score)
	}
	return resp.Score, nil
}
