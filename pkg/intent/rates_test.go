package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUSDToDrops(t *testing.T) {
	tests := []struct {
		name      string
		priceUSD  float64
		amountUSD float64
		want      string
	}{
		{"whole xrp", 0.50, 2.0, "4000000"},
		{"one dollar at one dollar", 1.0, 1.0, "1000000"},
		{"sub-drop rounds up", 3.0, 1.0, "333334"},
		{"large amount", 0.50, 250.0, "500000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &FixedRateSource{PriceUSD: tt.priceUSD}
			got, err := source.USDToDrops(tt.amountUSD)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUSDToDropsRejectsInvalidInputs(t *testing.T) {
	source := &FixedRateSource{PriceUSD: 0}
	_, err := source.USDToDrops(1.0)
	assert.Error(t, err)

	source = &FixedRateSource{PriceUSD: 0.50}
	_, err = source.USDToDrops(0)
	assert.Error(t, err)

	_, err = source.USDToDrops(-5)
	assert.Error(t, err)
}
