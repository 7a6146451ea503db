package intent

import (
	"fmt"
	"math/big"
)

// dropsPerXRP is the number of drops in one XRP
const dropsPerXRP = 1_000_000

// RateSource converts a USD fee into a drops amount. Pluggable so tests can
// pin a rate and deployments can use a market feed.
type RateSource interface {
	USDToDrops(amountUSD float64) (string, error)
}

// FixedRateSource converts at a fixed XRP price
type FixedRateSource struct {
	PriceUSD float64
}

var _ RateSource = (*FixedRateSource)(nil)

// USDToDrops converts the USD amount to a whole number of drops, rounding up
// so the requested fee is never underpriced
func (s *FixedRateSource) USDToDrops(amountUSD float64) (string, error) {
	if s.PriceUSD <= 0 {
		return "", fmt.Errorf("invalid XRP price: %f", s.PriceUSD)
	}
	if amountUSD <= 0 {
		return "", fmt.Errorf("invalid USD amount: %f", amountUSD)
	}

	drops := new(big.Float).Quo(big.NewFloat(amountUSD), big.NewFloat(s.PriceUSD))
	drops.Mul(drops, big.NewFloat(dropsPerXRP))

	result, accuracy := drops.Int(nil)
	if accuracy == big.Below {
		result.Add(result, big.NewInt(1))
	}
	return result.String(), nil
}
