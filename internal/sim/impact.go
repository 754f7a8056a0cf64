package sim

import (
	"math"

	"github.com/shopspring/decimal"
)

// ImpactModel selects the market-impact curve applied to the consumed depth
// fraction. The functional form is configuration, not engine logic.
type ImpactModel string

const (
	ImpactLinear     ImpactModel = "linear"
	ImpactSquareRoot ImpactModel = "square_root"
	ImpactCustom     ImpactModel = "custom"
)

// ImpactFunc maps the consumed fraction of visible depth (0..1) to an impact
// multiplier.
type ImpactFunc func(depthFraction decimal.Decimal) decimal.Decimal

// impactFunc resolves the configured model to its curve. Unknown models fall
// back to linear.
func (c Config) impactFunc() ImpactFunc {
	switch c.ImpactModel {
	case ImpactSquareRoot:
		return func(x decimal.Decimal) decimal.Decimal {
			f, _ := x.Float64()
			if f <= 0 {
				return decimal.Zero
			}
			return decimal.NewFromFloat(math.Sqrt(f))
		}
	case ImpactCustom:
		if c.CustomImpact != nil {
			return c.CustomImpact
		}
		fallthrough
	default:
		return func(x decimal.Decimal) decimal.Decimal { return x }
	}
}
