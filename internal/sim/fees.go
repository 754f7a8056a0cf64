package sim

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// DefaultFeeTable mirrors the OKX spot VIP schedule. It is only a fallback;
// deployments override it from the [fees] config table.
func DefaultFeeTable() map[domain.FeeTier]domain.FeeRate {
	bps := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return map[domain.FeeTier]domain.FeeRate{
		"VIP0": {MakerBps: bps("8"), TakerBps: bps("10")},
		"VIP1": {MakerBps: bps("6.5"), TakerBps: bps("9")},
		"VIP2": {MakerBps: bps("6"), TakerBps: bps("8")},
	}
}

// feeRate looks up the tier, falling back to the configured default tier and
// then to zero rates so an unknown tier never fails a simulation.
func (c Config) feeRate(tier domain.FeeTier) domain.FeeRate {
	if r, ok := c.Fees[tier]; ok {
		return r
	}
	if r, ok := c.Fees[c.DefaultTier]; ok {
		return r
	}
	return domain.FeeRate{MakerBps: decimal.Zero, TakerBps: decimal.Zero}
}
