package convergence

import (
	"fmt"
	"strings"

	"convergence-engine/internal/market"
)

// Direction 为单个来源的方向投票。
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// Confidence 为信号置信度等级。
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// FundingVoteMode 决定资金费率投票方向。
type FundingVoteMode string

const (
	// FundingContrarian 资金费率极端为正时视为多头拥挤，投空头票。
	FundingContrarian FundingVoteMode = "contrarian"
	// FundingAligned 资金费率方向即投票方向。
	FundingAligned FundingVoteMode = "aligned"
)

// ParseFundingVoteMode 解析投票模式，空字符串返回 contrarian。
func ParseFundingVoteMode(s string) (FundingVoteMode, error) {
	switch FundingVoteMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FundingContrarian:
		return FundingContrarian, nil
	case FundingAligned:
		return FundingAligned, nil
	default:
		return "", fmt.Errorf("convergence: 未知资金费率投票模式 %q: %w", s, market.ErrInvalidParameter)
	}
}

// Tier 为两档评分阈值，比较均为严格大于。
type Tier struct {
	Moderate       float64
	Strong         float64
	ModeratePoints int
	StrongPoints   int
}

func (t Tier) points(v float64) int {
	switch {
	case v > t.Strong:
		return t.StrongPoints
	case v > t.Moderate:
		return t.ModeratePoints
	default:
		return 0
	}
}

// Params 为评分与计票参数。
type Params struct {
	OrderBook Tier
	TradeFlow Tier
	VWAP      Tier
	Funding   Tier

	OIWeakPoints   int
	OIStrongPoints int

	StructureAlignedPoints int
	StructureZonePoints    int

	BasisExtreme         float64
	FundingBasisAgree    int
	FundingBasisConflict int

	FundingVote FundingVoteMode

	HighScore     int
	HighAligned   int
	MediumScore   int
	MediumAligned int
}

// DefaultParams 返回默认权重。
func DefaultParams() Params {
	return Params{
		OrderBook: Tier{Moderate: 0.4, Strong: 0.6, ModeratePoints: 15, StrongPoints: 25},
		TradeFlow: Tier{Moderate: 0.3, Strong: 0.5, ModeratePoints: 15, StrongPoints: 25},
		VWAP:      Tier{Moderate: 1.5, Strong: 2.0, ModeratePoints: 20, StrongPoints: 30},
		Funding:   Tier{Moderate: 7, Strong: 10, ModeratePoints: 10, StrongPoints: 20},

		OIWeakPoints:   10,
		OIStrongPoints: 20,

		StructureAlignedPoints: 10,
		StructureZonePoints:    20,

		BasisExtreme:         0.3,
		FundingBasisAgree:    15,
		FundingBasisConflict: -20,

		FundingVote: FundingContrarian,

		HighScore:     85,
		HighAligned:   4,
		MediumScore:   70,
		MediumAligned: 3,
	}
}

// 评分明细的来源名称。
const (
	SourceOrderBook    = "order_book"
	SourceTradeFlow    = "trade_flow"
	SourceVWAP         = "vwap"
	SourceFunding      = "funding"
	SourceOI           = "oi"
	SourceStructure    = "structure"
	SourceFundingBasis = "funding_basis"
)

// Result 为一次汇聚评分的结果。
type Result struct {
	Score      int                  `json:"score"`
	RawScore   int                  `json:"raw_score"`
	Bullish    int                  `json:"bullish"`
	Bearish    int                  `json:"bearish"`
	Breakdown  map[string]int       `json:"breakdown"`
	Votes      map[string]Direction `json:"votes"`
	Details    map[string]string    `json:"details"`
	Confidence Confidence           `json:"confidence"`
}

// Aligned 返回多数方向的票数。
func (r Result) Aligned() int {
	return max(r.Bullish, r.Bearish)
}
