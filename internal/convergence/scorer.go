package convergence

import (
	"fmt"
	"math"

	"convergence-engine/internal/metrics"
	"convergence-engine/internal/structure"
)

// Scorer 将指标结果与结构分析汇总为分数、计票与置信度。
type Scorer struct {
	params Params
}

// NewScorer 创建评分器，未设置的投票模式视为 contrarian。
func NewScorer(params Params) *Scorer {
	if params.FundingVote == "" {
		params.FundingVote = FundingContrarian
	}
	return &Scorer{params: params}
}

// Params 返回评分参数。
func (s *Scorer) Params() Params {
	return s.params
}

// Score 计算汇聚分数。Known=false 的指标不计分也不投票；analysis 为 nil 时忽略结构。
func (s *Scorer) Score(results []metrics.Result, analysis *structure.Analysis) Result {
	p := s.params
	out := Result{
		Breakdown: make(map[string]int),
		Votes:     make(map[string]Direction),
		Details:   make(map[string]string),
	}

	byKind := make(map[metrics.Kind]metrics.Result, len(results))
	for _, r := range results {
		if r.Known {
			byKind[r.Name] = r
		}
	}

	raw := 0
	add := func(source string, pts int) {
		if pts == 0 {
			return
		}
		out.Breakdown[source] = pts
		raw += pts
	}
	vote := func(source string, dir Direction, detail string) {
		out.Votes[source] = dir
		out.Details[source] = detail
		if dir == DirectionBullish {
			out.Bullish++
		} else {
			out.Bearish++
		}
	}

	if r, ok := byKind[metrics.KindOrderBookImbalance]; ok {
		add(SourceOrderBook, p.OrderBook.points(math.Abs(r.Value)))
		switch {
		case r.Value > p.OrderBook.Moderate:
			vote(SourceOrderBook, DirectionBullish, fmt.Sprintf("买盘占优 (%.2f)", r.Value))
		case r.Value < -p.OrderBook.Moderate:
			vote(SourceOrderBook, DirectionBearish, fmt.Sprintf("卖盘占优 (%.2f)", r.Value))
		}
	}

	if r, ok := byKind[metrics.KindTradeFlow]; ok {
		add(SourceTradeFlow, p.TradeFlow.points(math.Abs(r.Value)))
		switch {
		case r.Value > p.TradeFlow.Moderate:
			vote(SourceTradeFlow, DirectionBullish, fmt.Sprintf("净买入 (%.2f)", r.Value))
		case r.Value < -p.TradeFlow.Moderate:
			vote(SourceTradeFlow, DirectionBearish, fmt.Sprintf("净卖出 (%.2f)", r.Value))
		}
	}

	if r, ok := byKind[metrics.KindVWAPDeviation]; ok {
		add(SourceVWAP, p.VWAP.points(math.Abs(r.Value)))
		switch {
		case r.Value > p.VWAP.Moderate:
			vote(SourceVWAP, DirectionBearish, fmt.Sprintf("偏离 VWAP 过高 (+%.2fσ)", r.Value))
		case r.Value < -p.VWAP.Moderate:
			vote(SourceVWAP, DirectionBullish, fmt.Sprintf("偏离 VWAP 过低 (%.2fσ)", r.Value))
		}
	}

	funding, hasFunding := byKind[metrics.KindFundingRate]
	if hasFunding {
		add(SourceFunding, p.Funding.points(math.Abs(funding.Value)))
		if dir, ok := s.fundingVote(funding.Value); ok {
			vote(SourceFunding, dir, fmt.Sprintf("资金费率年化 %.2f%%（%s）", funding.Value, p.FundingVote))
		}
	}

	if r, ok := byKind[metrics.KindOIDivergence]; ok {
		switch r.Label {
		case metrics.LabelStrongBullish:
			add(SourceOI, p.OIStrongPoints)
			vote(SourceOI, DirectionBullish, "持仓量与价格同步上升")
		case metrics.LabelStrongBearish:
			add(SourceOI, p.OIStrongPoints)
			vote(SourceOI, DirectionBearish, "持仓量上升而价格下跌")
		case metrics.LabelWeakBullish:
			add(SourceOI, p.OIWeakPoints)
			vote(SourceOI, DirectionBearish, "持仓量下降的上涨（空头回补）")
		case metrics.LabelWeakBearish:
			add(SourceOI, p.OIWeakPoints)
			vote(SourceOI, DirectionBullish, "持仓量下降的下跌（多头平仓）")
		}
	}

	if analysis != nil && analysis.Alignment.Aligned {
		bias := analysis.Alignment.Bias
		pts := p.StructureAlignedPoints
		if zoneAgrees(bias, analysis.Range) {
			pts = p.StructureZonePoints
		}
		add(SourceStructure, pts)
		switch bias {
		case structure.BiasBullish:
			vote(SourceStructure, DirectionBullish, fmt.Sprintf("高周期多头对齐，区间位置 %s", zoneOf(analysis.Range)))
		case structure.BiasBearish:
			vote(SourceStructure, DirectionBearish, fmt.Sprintf("高周期空头对齐，区间位置 %s", zoneOf(analysis.Range)))
		}
	}

	if basis, ok := byKind[metrics.KindBasisSpread]; ok && hasFunding {
		fundingExtreme := math.Abs(funding.Value) > p.Funding.Strong
		basisExtreme := math.Abs(basis.Value) > p.BasisExtreme
		if fundingExtreme && basisExtreme {
			if (funding.Value > 0) == (basis.Value > 0) {
				add(SourceFundingBasis, p.FundingBasisAgree)
			} else {
				add(SourceFundingBasis, p.FundingBasisConflict)
			}
		}
	}

	out.RawScore = raw
	out.Score = Clamp(raw)
	out.Confidence = s.confidence(out.Score, out.Aligned())
	return out
}

func (s *Scorer) fundingVote(annualized float64) (Direction, bool) {
	threshold := s.params.Funding.Strong
	var dir Direction
	switch {
	case annualized > threshold:
		dir = DirectionBullish
	case annualized < -threshold:
		dir = DirectionBearish
	default:
		return "", false
	}
	if s.params.FundingVote == FundingContrarian {
		dir = opposite(dir)
	}
	return dir, true
}

func (s *Scorer) confidence(score, aligned int) Confidence {
	p := s.params
	switch {
	case score >= p.HighScore && aligned >= p.HighAligned:
		return ConfidenceHigh
	case score >= p.MediumScore && aligned >= p.MediumAligned:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Clamp 将原始分数限制在 [0,100]。
func Clamp(raw int) int {
	return min(100, max(0, raw))
}

func opposite(d Direction) Direction {
	if d == DirectionBullish {
		return DirectionBearish
	}
	return DirectionBullish
}

func zoneAgrees(bias structure.Bias, dr structure.DealingRange) bool {
	if !dr.Valid {
		return false
	}
	return (bias == structure.BiasBullish && dr.Zone == structure.ZoneDiscount) ||
		(bias == structure.BiasBearish && dr.Zone == structure.ZonePremium)
}

func zoneOf(dr structure.DealingRange) string {
	if !dr.Valid {
		return "未知"
	}
	return string(dr.Zone)
}
