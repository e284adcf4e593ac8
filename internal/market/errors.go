package market

import "errors"

var (
	// ErrDataInsufficient 表示K线、摆动点或历史数据不足以完成计算。
	ErrDataInsufficient = errors.New("data insufficient")
	// ErrInvalidParameter 表示调用方传入了未知周期、未知指标或非法参数。
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUpstreamData 表示上游快照字段缺失或格式异常。
	ErrUpstreamData = errors.New("upstream data malformed")
)
