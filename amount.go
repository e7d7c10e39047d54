package govmirror

import (
	"math/big"
	"strconv"
)

// Voting weights arrive in the token's base unit.
// 1 coin = 1,000,000,000,000,000,000 base units (1e18).
var weightScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// WeightToCoin returns the base-unit weight formatted as a float64 coin
// amount. Weights routinely exceed the int64 range, so the conversion is
// done with big.Float.
func WeightToCoin(weight *big.Int) float64 {
	if weight == nil || weight.Sign() == 0 {
		return 0
	}
	coin, _ := new(big.Float).Quo(
		new(big.Float).SetInt(weight),
		new(big.Float).SetInt(weightScale),
	).Float64()
	return coin
}

// FormatWeight returns the weight as a coin-denominated string.
func FormatWeight(weight *big.Int) string {
	return strconv.FormatFloat(WeightToCoin(weight), 'f', -1, 64)
}
