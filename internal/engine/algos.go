package engine

import (
	"context"
	"math"
	"strings"

	"trade-core/internal/order"
)

// Submitter 把切片后的子单交给订单管理器执行。
type Submitter interface {
	Submit(ctx context.Context, req order.Request) order.Result
}

// Algo 是执行算法的统一契约：把母单拆解为若干子单提交，
// 返回聚合后的执行结果。
type Algo interface {
	Name() string
	Execute(ctx context.Context, submit Submitter, req order.Request) order.Result
}

// algoRegistry 是编译期固定的算法表，未注册的键在派发前被拒绝。
var algoRegistry = map[string]Algo{
	"direct":  directAlgo{},
	"twap":    twapAlgo{slices: 4},
	"vwap":    vwapAlgo{weights: []float64{0.4, 0.3, 0.2, 0.1}},
	"iceberg": icebergAlgo{clipFraction: 0.25},
}

// lookupAlgo 解析算法键。空键等价于直接执行。
func lookupAlgo(key string) (Algo, bool) {
	if key == "" {
		key = "direct"
	}
	algo, ok := algoRegistry[strings.ToLower(key)]
	return algo, ok
}

// directAlgo 单笔直接提交。
type directAlgo struct{}

func (directAlgo) Name() string { return "direct" }

func (directAlgo) Execute(ctx context.Context, submit Submitter, req order.Request) order.Result {
	return submit.Submit(ctx, req)
}

// twapAlgo 把母单均分为固定数量的子单顺序提交。
type twapAlgo struct {
	slices int
}

func (twapAlgo) Name() string { return "twap" }

func (a twapAlgo) Execute(ctx context.Context, submit Submitter, req order.Request) order.Result {
	slices := a.slices
	if slices <= 1 {
		return submit.Submit(ctx, req)
	}

	sizes := make([]float64, 0, slices)
	per := req.Size / float64(slices)
	for i := 0; i < slices; i++ {
		sizes = append(sizes, per)
	}
	return runSlices(ctx, submit, req, sizes)
}

// vwapAlgo 按静态成交量分布加权拆单。
type vwapAlgo struct {
	weights []float64
}

func (vwapAlgo) Name() string { return "vwap" }

func (a vwapAlgo) Execute(ctx context.Context, submit Submitter, req order.Request) order.Result {
	if len(a.weights) == 0 {
		return submit.Submit(ctx, req)
	}

	var total float64
	for _, w := range a.weights {
		total += w
	}
	if total <= 0 {
		return submit.Submit(ctx, req)
	}

	sizes := make([]float64, 0, len(a.weights))
	for _, w := range a.weights {
		sizes = append(sizes, req.Size*w/total)
	}
	return runSlices(ctx, submit, req, sizes)
}

// icebergAlgo 以固定比例的可见子单循环提交直到吃满母单。
type icebergAlgo struct {
	clipFraction float64
}

func (icebergAlgo) Name() string { return "iceberg" }

func (a icebergAlgo) Execute(ctx context.Context, submit Submitter, req order.Request) order.Result {
	clip := req.Size * a.clipFraction
	if clip <= 0 || clip >= req.Size {
		return submit.Submit(ctx, req)
	}

	sizes := make([]float64, 0)
	remaining := req.Size
	for remaining > 1e-9 {
		size := math.Min(clip, remaining)
		sizes = append(sizes, size)
		remaining -= size
	}
	return runSlices(ctx, submit, req, sizes)
}

// runSlices 顺序提交子单并聚合结果。任一子单未成交即停止，
// 已成交部分保留在聚合结果里。
func runSlices(ctx context.Context, submit Submitter, req order.Request, sizes []float64) order.Result {
	var (
		filledQty float64
		notional  float64
		totalFee  float64
		last      order.Result
	)

	for _, size := range sizes {
		if err := ctx.Err(); err != nil {
			last.Status = order.StatusError
			last.Reason = err.Error()
			break
		}

		slice := req
		slice.Size = size
		last = submit.Submit(ctx, slice)
		if last.Status != order.StatusFilled {
			break
		}
		filledQty += last.FilledQty
		notional += last.FilledQty * last.AvgPrice
		totalFee += last.Commission
	}

	result := order.Result{
		OrderID:    last.OrderID,
		Status:     last.Status,
		Reason:     last.Reason,
		FilledQty:  filledQty,
		Commission: totalFee,
	}
	if filledQty > 0 {
		result.AvgPrice = notional / filledQty
	}
	return result
}
