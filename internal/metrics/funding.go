package metrics

import "math"

// periodsPerYear 为每年的8小时资金费结算次数。
const periodsPerYear = 3 * 365

// FundingAnnualized 将每8小时费率年化为百分比，并按幅度给出情绪分档。
func FundingAnnualized(rate8h, extremeThreshold float64) Result {
	if math.IsNaN(rate8h) || math.IsInf(rate8h, 0) {
		return insufficient(KindFundingRate, "资金费率无效")
	}
	if extremeThreshold <= 0 {
		extremeThreshold = 10
	}

	annualized := rate8h * periodsPerYear * 100

	return Result{
		Name:  KindFundingRate,
		Value: annualized,
		Label: fundingSentiment(annualized),
		Known: true,
		Metadata: map[string]any{
			"rate_8h":    rate8h,
			"is_extreme": math.Abs(annualized) > extremeThreshold,
		},
	}
}

func fundingSentiment(annualized float64) string {
	switch {
	case annualized > 15:
		return LabelExtremeBullish
	case annualized > 5:
		return LabelBullish
	case annualized < -15:
		return LabelExtremeBearish
	case annualized < -5:
		return LabelBearish
	default:
		return LabelNeutral
	}
}
