package metrics

import (
	"math"
)

// BasisSpread 计算永续相对现货的溢价百分比。
func BasisSpread(perpPrice, spotPrice, arbThreshold float64) Result {
	if spotPrice <= 0 || perpPrice <= 0 {
		return insufficient(KindBasisSpread, "永续或现货价格缺失")
	}
	if arbThreshold <= 0 {
		arbThreshold = 0.3
	}

	basis := (perpPrice - spotPrice) / spotPrice * 100

	label := LabelNeutral
	switch {
	case basis > 0.5:
		label = LabelExtremePremium
	case basis > 0.2:
		label = LabelModeratePremium
	case basis < -0.5:
		label = LabelExtremeDiscount
	case basis < -0.2:
		label = LabelModerateDiscount
	}

	return Result{
		Name:  KindBasisSpread,
		Value: basis,
		Label: label,
		Known: true,
		Metadata: map[string]any{
			"perp_price":      perpPrice,
			"spot_price":      spotPrice,
			"arb_opportunity": math.Abs(basis) > arbThreshold,
		},
	}
}
