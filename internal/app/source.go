package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"trade-core/internal/engine"
)

// SignalSource 是交易信号的来源。Next 在没有更多信号时返回 io.EOF，
// 调用方据此结束主循环。
type SignalSource interface {
	Next(ctx context.Context) (engine.TradeSignal, error)
}

// JSONLSource 从行分隔的 JSON 流中读取信号，每行一条
// engine.TradeSignal。解析失败的行记日志后跳过，不中断流。
type JSONLSource struct {
	scanner *bufio.Scanner
	logger  *zap.Logger
}

// NewJSONLSource 包装一个读取流。
func NewJSONLSource(r io.Reader, logger *zap.Logger) *JSONLSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &JSONLSource{scanner: scanner, logger: logger}
}

// Next 返回下一条可解析的信号。
func (s *JSONLSource) Next(ctx context.Context) (engine.TradeSignal, error) {
	for {
		if err := ctx.Err(); err != nil {
			return engine.TradeSignal{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return engine.TradeSignal{}, fmt.Errorf("app: 读取信号流失败: %w", err)
			}
			return engine.TradeSignal{}, io.EOF
		}

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var sig engine.TradeSignal
		if err := json.Unmarshal(line, &sig); err != nil {
			s.logger.Warn("信号行解析失败，已跳过",
				zap.ByteString("line", line),
				zap.Error(err),
			)
			continue
		}
		return sig, nil
	}
}
