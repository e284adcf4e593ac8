package history

import "time"

// Kind 表示历史序列类别。
type Kind string

const (
	KindOpenInterest       Kind = "open_interest"
	KindFunding            Kind = "funding"
	KindOrderBookImbalance Kind = "order_book_imbalance"
)

// Sample 为单条历史读数；Price 仅持仓量序列使用。
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Price     float64   `json:"price,omitempty"`
}

// Reading 表示可能缺失的派生量。Known=false 时 Value 无意义。
type Reading struct {
	Value float64 `json:"value"`
	Known bool    `json:"known"`
}

// Known 构造已知读数。
func Known(v float64) Reading {
	return Reading{Value: v, Known: true}
}

// Unknown 表示锚点缺失。
func Unknown() Reading {
	return Reading{}
}

// Options 控制保留窗口与容差。
type Options struct {
	OpenInterestRetention time.Duration
	FundingRetention      time.Duration
	ImbalanceRetention    time.Duration
	SampleInterval        time.Duration
	Tolerance             time.Duration
}

// DefaultOptions 返回默认配置：7天保留，15分钟采样，±30分钟容差。
func DefaultOptions() Options {
	return Options{
		OpenInterestRetention: 168 * time.Hour,
		FundingRetention:      168 * time.Hour,
		ImbalanceRetention:    2 * time.Hour,
		SampleInterval:        15 * time.Minute,
		Tolerance:             30 * time.Minute,
	}
}

func (o Options) retention(kind Kind) time.Duration {
	switch kind {
	case KindOpenInterest:
		return o.OpenInterestRetention
	case KindFunding:
		return o.FundingRetention
	case KindOrderBookImbalance:
		return o.ImbalanceRetention
	default:
		return 0
	}
}

// FundingDynamics 汇总资金费率的速度与加速度。
type FundingDynamics struct {
	Current      Reading `json:"current"`
	Velocity4h   Reading `json:"velocity_4h"`
	Velocity8h   Reading `json:"velocity_8h"`
	Acceleration Reading `json:"acceleration"`
}

// OIChanges 为持仓量在多个窗口的百分比变化。
type OIChanges struct {
	Change4h  Reading `json:"change_4h"`
	Change24h Reading `json:"change_24h"`
	Change7d  Reading `json:"change_7d"`
}

// SeriesStats 描述单条序列的规模与覆盖范围。
type SeriesStats struct {
	Kind   Kind      `json:"kind"`
	Count  int       `json:"count"`
	Oldest time.Time `json:"oldest"`
	Newest time.Time `json:"newest"`
}
