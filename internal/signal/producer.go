package signal

import (
	"time"

	"go.uber.org/zap"

	"convergence-engine/internal/convergence"
	"convergence-engine/internal/metrics"
	"convergence-engine/internal/structure"
)

// Input 为生成信号所需的全部输入。
type Input struct {
	Instrument  string
	Price       float64
	Convergence convergence.Result
	Structure   *structure.Analysis
	Metrics     []metrics.Result
	Timestamp   time.Time
}

// Producer 根据汇聚结果给出方向与价位。
type Producer struct {
	params Params
	logger *zap.Logger
}

// NewProducer 创建信号生成器。
func NewProducer(params Params, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{params: params, logger: logger}
}

// Params 返回生效参数。
func (p *Producer) Params() Params {
	return p.params
}

// DecideAction 分数低于门槛直接 SKIP；多空票数需达到最少一致数且严格占优，平票一律 SKIP。
func DecideAction(score, bullish, bearish int, params Params) Action {
	if score < params.MinScore {
		return ActionSkip
	}
	switch {
	case bullish >= params.MinAligned && bullish > bearish:
		return ActionLong
	case bearish >= params.MinAligned && bearish > bullish:
		return ActionShort
	default:
		return ActionSkip
	}
}

// Produce 生成信号。
func (p *Producer) Produce(in Input) Signal {
	conv := in.Convergence
	action := DecideAction(conv.Score, conv.Bullish, conv.Bearish, p.params)

	vwap := 0.0
	for _, r := range in.Metrics {
		if r.Name == metrics.KindVWAPDeviation && r.Known {
			vwap, _ = r.Float("vwap")
		}
	}
	lv := ComputeLevels(action, in.Price, vwap, in.Structure, p.params)

	sig := Signal{
		Instrument: in.Instrument,
		Action:     action,
		Entry:      lv.Entry,
		Stop:       lv.Stop,
		Target:     lv.Target,
		Risk:       lv.Risk,
		Reward:     lv.Reward,
		RiskReward: lv.RiskReward,
		Anchored:   lv.Anchored,
		Score:      conv.Score,
		Confidence: conv.Confidence,
		Bullish:    conv.Bullish,
		Bearish:    conv.Bearish,
		Breakdown:  conv.Breakdown,
		Votes:      conv.Votes,
		Details:    conv.Details,
		HTFBias:    structure.BiasNeutral,
		Metrics:    in.Metrics,
		Timestamp:  in.Timestamp,
	}
	if in.Structure != nil {
		sig.HTFBias = in.Structure.Alignment.Bias
		sig.HTFAligned = in.Structure.Alignment.Aligned
		if in.Structure.Range.Valid {
			sig.Zone = in.Structure.Range.Zone
		}
	}

	if action != ActionSkip && p.params.AccountBalance > 0 {
		sizing, err := PositionSize(p.params.AccountBalance, p.params.RiskPct, lv.Entry, lv.Stop, p.params.Leverage)
		if err != nil {
			p.logger.Warn("仓位计算失败", zap.String("instrument", in.Instrument), zap.Error(err))
		} else {
			sig.Sizing = &sizing
		}
	}
	return sig
}
