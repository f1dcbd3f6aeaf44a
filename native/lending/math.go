package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000")           // 1e18 asset precision
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 ratio precision
)

// BasisPointsMax is the integer scale where 10000 equals 100%.
const BasisPointsMax = 10_000

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// WAD returns the 1e18 fixed-point scale used for asset amounts.
func WAD() *big.Int { return new(big.Int).Set(wad) }

// mulDiv computes floor(a * b / den). Division truncates toward zero; every
// caller operates on non-negative inputs so truncation is a floor.
func mulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// valueOf converts an asset amount into its oracle-priced value:
// floor(amount * price / WAD).
func valueOf(amount, price *big.Int) *big.Int {
	return mulDiv(amount, price, wad)
}

// amountOf converts a priced value back into an asset amount:
// floor(value * WAD / price).
func amountOf(value, price *big.Int) *big.Int {
	return mulDiv(value, wad, price)
}

// bpsShare computes floor(amount * bps / 10000).
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}

// utilizationBps derives borrow utilization in basis points. The division is
// performed at RAY precision before truncating to basis points so repeated
// ratios do not lose precision. Utilization is zero when nothing is supplied.
func utilizationBps(totalBorrowed, totalSupply *big.Int) uint64 {
	if totalSupply == nil || totalSupply.Sign() == 0 {
		return 0
	}
	if totalBorrowed == nil || totalBorrowed.Sign() <= 0 {
		return 0
	}
	utilRay := new(big.Int).Mul(totalBorrowed, ray)
	utilRay.Quo(utilRay, totalSupply)
	utilRay.Mul(utilRay, basisPoints)
	utilRay.Quo(utilRay, ray)
	if !utilRay.IsUint64() {
		return BasisPointsMax
	}
	u := utilRay.Uint64()
	if u > BasisPointsMax {
		return BasisPointsMax
	}
	return u
}

func clampZero(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return v
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
