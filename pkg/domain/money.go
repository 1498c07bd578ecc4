package domain

// Paise is a rupee amount in the smallest currency unit. All monetary math in
// the engine is integer math on paise; floats never touch money.
type Paise int64

// Saathi is a whole-token SAATHI amount. Stakes and rewards are always whole
// tokens, so the smallest unit is one token.
type Saathi int64

// BasisPoints expresses a percentage as 1/100th of a percent. An interest
// rate of 3% is 300 basis points.
type BasisPoints int64

// Interest returns the interest owed on an amount at the given rate,
// truncated toward zero. With amounts in paise and rates in whole-percent
// multiples the division is exact.
func (bps BasisPoints) Interest(amount Paise) Paise {
	return Paise(int64(amount) * int64(bps) / 10_000)
}

// Percent renders the rate as a whole percentage for display payloads.
// Only meaningful for rates that are whole-percent multiples, which all
// tier rates are.
func (bps BasisPoints) Percent() int64 {
	return int64(bps) / 100
}
