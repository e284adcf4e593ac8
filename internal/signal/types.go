package signal

import (
	"time"

	"convergence-engine/internal/convergence"
	"convergence-engine/internal/metrics"
	"convergence-engine/internal/structure"
)

// Action 为交易方向。
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionSkip  Action = "SKIP"
)

// Signal 为一次评估的最终输出，每次调用重新计算。
type Signal struct {
	Instrument string                           `json:"instrument"`
	Action     Action                           `json:"action"`
	Entry      float64                          `json:"entry"`
	Stop       float64                          `json:"stop"`
	Target     float64                          `json:"target"`
	Risk       float64                          `json:"risk"`
	Reward     float64                          `json:"reward"`
	RiskReward float64                          `json:"risk_reward"`
	Score      int                              `json:"score"`
	Confidence convergence.Confidence           `json:"confidence"`
	Bullish    int                              `json:"bullish"`
	Bearish    int                              `json:"bearish"`
	Breakdown  map[string]int                   `json:"breakdown"`
	Votes      map[string]convergence.Direction `json:"votes"`
	Details    map[string]string                `json:"details"`
	HTFBias    structure.Bias                   `json:"htf_bias"`
	HTFAligned bool                             `json:"htf_aligned"`
	Zone       structure.Zone                   `json:"zone,omitempty"`
	Anchored   bool                             `json:"anchored"`
	Sizing     *Sizing                          `json:"sizing,omitempty"`
	Metrics    []metrics.Result                 `json:"metrics"`
	Timestamp  time.Time                        `json:"timestamp"`
}

// Levels 为入场、止损、止盈及其风险收益。
type Levels struct {
	Entry      float64 `json:"entry"`
	Stop       float64 `json:"stop"`
	Target     float64 `json:"target"`
	Risk       float64 `json:"risk"`
	Reward     float64 `json:"reward"`
	RiskReward float64 `json:"risk_reward"`
	Anchored   bool    `json:"anchored"`
}

// Sizing 为按账户风险计算的仓位。
type Sizing struct {
	Size        float64 `json:"size"`
	RiskAmount  float64 `json:"risk_amount"`
	RiskPerUnit float64 `json:"risk_per_unit"`
	Notional    float64 `json:"notional"`
}

// Params 控制方向判定、价位与仓位。
type Params struct {
	MinScore   int
	MinAligned int

	StopPct      float64
	TargetPct    float64
	MinTargetPct float64

	AnchorLevels  bool
	StopBufferPct float64

	AccountBalance float64
	RiskPct        float64
	Leverage       float64
}

// DefaultParams 返回默认参数。
func DefaultParams() Params {
	return Params{
		MinScore:      70,
		MinAligned:    3,
		StopPct:       0.02,
		TargetPct:     0.01,
		MinTargetPct:  0.015,
		StopBufferPct: 0.001,
		RiskPct:       1,
		Leverage:      1,
	}
}
