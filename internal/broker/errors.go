package broker

import (
	"context"
	"errors"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("broker: exchange on maintenance")

	// ErrNotConnected 表示后端尚未建立连接。
	ErrNotConnected = errors.New("broker: backend not connected")

	// ErrUnknownOrder 表示后端不存在该订单。
	ErrUnknownOrder = errors.New("broker: unknown order")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
