// Package tickmath implements the pure tick <-> sqrt-price conversions the
// rest of the CLMM core is built on (component C1 of the core). Every
// function here is total on its documented domain and side-effect free;
// out-of-domain inputs return ErrMathDomain rather than panicking.
//
// Prices are represented as sqrt(price) in Q64.64 (an unsigned 128-bit
// integer: the high 64 bits are the integer part, the low 64 bits the
// fraction). The conversion uses the standard Uniswap V3 bit-shift
// precomputation so that results are bit-identical across implementations
// built against the same reference.
package tickmath

import (
	"math/big"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/clmmerr"
)

// ErrMathDomain is returned when an input falls outside the function's
// documented domain (tick out of [MinTick, MaxTick], sqrt-price out of
// range, or a division by zero inside mulDiv). It is clmmerr.ErrMathDomain,
// re-exported here so callers that only touch tickmath need not import the
// shared error-taxonomy package directly.
var ErrMathDomain = clmmerr.ErrMathDomain

const (
	// MinTick is the smallest tick the engine allows, matching Uniswap V3's
	// TickMath.MIN_TICK.
	MinTick = -887272

	// MaxTick is the largest tick the engine allows, matching Uniswap V3's
	// TickMath.MAX_TICK.
	MaxTick = 887272
)

// q128 is 2^128, the fixed point the bit-shift precomputation operates in
// before the final right-shift down to Q64.64.
var q128 = new(big.Int).Lsh(big.NewInt(1), 128)

// bitRatios are 2^128 / sqrt(1.0001^(2^i)) in Q128.128 for i in [0,19] (the
// reciprocal ratios, all below 2^128; TickToSqrtPriceX64 inverts the product
// for positive ticks), the exact 20 constants from the Uniswap V3 reference
// implementation. MaxTick requires
// bits up to 2^19 (887272 < 2^20), so 20 constants are sufficient and
// necessary for bit-exact parity.
var bitRatios = [20]*big.Int{
	mustHex("fffcb933bd6fad37aa2d162d1a594001"),
	mustHex("fff97272373d413259a46990580e213a"),
	mustHex("fff2e50f5f656932ef12357cf3c7fdcc"),
	mustHex("ffe5caca7e10e4e61c3624eaa0941cd0"),
	mustHex("ffcb9843d60f6159c9db58835c926644"),
	mustHex("ff973b41fa98c081472e6896dfb254c0"),
	mustHex("ff2ea16466c96a3843ec78b326b52861"),
	mustHex("fe5dee046a99a2a811c461f1969c3053"),
	mustHex("fcbe86c7900a88aedcffc83b479aa3a4"),
	mustHex("f987a7253ac413176f2b074cf7815e54"),
	mustHex("f3392b0822b70005940c7a398e4b70f3"),
	mustHex("e7159475a2c29b7443b29c7fa6e889d9"),
	mustHex("d097f3bdfd2022b8845ad8f792aa5825"),
	mustHex("a9f746462d870fdf8a65dc1f90e061e5"),
	mustHex("70d869a156d2a1b890bb3df62baf32f7"),
	mustHex("31be135f97d08fd981231505542fcfa6"),
	mustHex("09aa508b5b7a84e1c677de54f3e99bc9"),
	mustHex("05d6af8dedb81196699c329225ee604"),
	mustHex("02216e584f5fa1ea926041bedfe98"),
	mustHex("0048a170391f7dc42444e8fa2"),
}

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("tickmath: invalid bit-ratio constant " + s)
	}
	return v
}

// TickToSqrtPriceX64 converts a tick to its exact sqrt-price in Q64.64:
// floor( sqrt(1.0001^tick) * 2^64 ). Fails ErrMathDomain outside
// [MinTick, MaxTick].
func TickToSqrtPriceX64(tick int32) (bigmath.U128, error) {
	if tick < MinTick || tick > MaxTick {
		return bigmath.U128{}, ErrMathDomain
	}

	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(big.Int).Set(q128)
	if absTick&0x1 != 0 {
		ratio = bitRatios[0]
	}
	for i := 1; i < 20; i++ {
		if absTick&(1<<uint(i)) != 0 {
			ratio = new(big.Int).Rsh(new(big.Int).Mul(ratio, bitRatios[i]), 128)
		}
	}

	if tick > 0 {
		// ratio = (2^128)^2 / ratio, i.e. the reciprocal in the same Q128.128 domain.
		numerator := new(big.Int).Mul(q128, q128)
		ratio = new(big.Int).Quo(numerator, ratio)
	}

	// Downshift from Q128.128 to Q64.64.
	sqrtPriceX64 := new(big.Int).Rsh(ratio, 64)

	result, overflow := bigmath.FromBigInt(sqrtPriceX64)
	if overflow {
		return bigmath.U128{}, ErrMathDomain
	}
	return result, nil
}

// SqrtPriceX64ToTick returns the greatest tick whose sqrt-price is less than
// or equal to sp, clamped to [MinTick, MaxTick] and aligned down to the
// nearest multiple of tickSpacing. tickSpacing must be >= 1.
//
// This uses binary search against TickToSqrtPriceX64 (the canonical
// precomputed-table route spec.md §9 calls out as the one to use for
// bit-exactness) rather than the logarithm-based shortcut, which is known to
// diverge by +/-1 tick at extreme prices.
func SqrtPriceX64ToTick(sp bigmath.U128, tickSpacing int32) (int32, error) {
	if tickSpacing < 1 {
		return 0, ErrMathDomain
	}

	lo, hi := int32(MinTick), int32(MaxTick)
	minSP, err := TickToSqrtPriceX64(lo)
	if err != nil {
		return 0, err
	}
	if sp.Cmp(minSP) < 0 {
		return alignDown(lo, tickSpacing), nil
	}
	maxSP, err := TickToSqrtPriceX64(hi)
	if err != nil {
		return 0, err
	}
	if sp.Cmp(maxSP) >= 0 {
		return alignDown(hi, tickSpacing), nil
	}

	// Invariant maintained: TickToSqrtPriceX64(lo) <= sp < TickToSqrtPriceX64(hi+1) (hi+1 out of range at the top is handled above).
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		midSP, err := TickToSqrtPriceX64(mid)
		if err != nil {
			return 0, err
		}
		if midSP.Cmp(sp) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return alignDown(lo, tickSpacing), nil
}

func alignDown(tick, tickSpacing int32) int32 {
	if tick >= 0 {
		return tick - tick%tickSpacing
	}
	rem := (-tick) % tickSpacing
	if rem == 0 {
		return tick
	}
	return tick - (tickSpacing - rem)
}

// MulDivFloor computes floor(a*b/d) using a 256-bit intermediate, failing
// ErrMathDomain when d is zero or the floored result overflows 128 bits.
func MulDivFloor(a, b, d bigmath.U128) (bigmath.U128, error) {
	result, err := bigmath.MulDivFloor(a, b, d)
	if err != nil {
		return bigmath.U128{}, ErrMathDomain
	}
	return result, nil
}

// MulDivCeil computes ceil(a*b/d) using a 256-bit intermediate, failing
// ErrMathDomain when d is zero or the ceiled result overflows 128 bits.
func MulDivCeil(a, b, d bigmath.U128) (bigmath.U128, error) {
	result, err := bigmath.MulDivCeil(a, b, d)
	if err != nil {
		return bigmath.U128{}, ErrMathDomain
	}
	return result, nil
}
