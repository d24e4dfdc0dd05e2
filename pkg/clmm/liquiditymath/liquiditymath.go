// Package liquiditymath implements liquidity <-> amount conversions on the
// sqrt-price domain (component C2 of the CLMM core), including the
// range-aware cases (price below / inside / above a position's tick range)
// and the "optimize for max liquidity with an optional single swap"
// pre-deposit rebalancer. Every function here is pure and stateless.
package liquiditymath

import (
	"math/big"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/clmmerr"
)

// ErrMathDomain mirrors clmmerr.ErrMathDomain for callers that only import
// this package.
var ErrMathDomain = clmmerr.ErrMathDomain

var q64 = new(big.Int).Lsh(big.NewInt(1), 64)

// bigToU128 converts a non-negative big.Int to U128, treating overflow as a
// domain error.
func bigToU128(v *big.Int) (bigmath.U128, error) {
	if v.Sign() < 0 {
		return bigmath.U128{}, ErrMathDomain
	}
	u, overflow := bigmath.FromBigInt(v)
	if overflow {
		return bigmath.U128{}, ErrMathDomain
	}
	return u, nil
}

// AmountsForLiquidity computes the token0/token1 amounts represented by
// liquidity L over the range [sqrtA, sqrtB] at current price sqrtP
// (spec.md §4.2). Requires sqrtA <= sqrtB. Rounding is floor throughout,
// matching the debit-calculation convention.
func AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity bigmath.U128) (amount0, amount1 bigmath.U128, err error) {
	if sqrtA.Cmp(sqrtB) > 0 {
		return bigmath.U128{}, bigmath.U128{}, ErrMathDomain
	}

	L := liquidity.Big()
	a := sqrtA.Big()
	b := sqrtB.Big()
	p := sqrtP.Big()

	switch {
	case p.Cmp(a) <= 0:
		// amount0 = floor( L * (sqrtB - sqrtA) * 2^64 / (sqrtA * sqrtB) ), amount1 = 0
		num := new(big.Int).Mul(L, new(big.Int).Sub(b, a))
		num.Mul(num, q64)
		den := new(big.Int).Mul(a, b)
		amt0, err := divFloor(num, den)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
		amount0, err = bigToU128(amt0)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
		return amount0, bigmath.Zero, nil

	case p.Cmp(b) >= 0:
		// amount0 = 0, amount1 = floor( L * (sqrtB - sqrtA) / 2^64 )
		num := new(big.Int).Mul(L, new(big.Int).Sub(b, a))
		amt1, err := divFloor(num, q64)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
		amount1, err = bigToU128(amt1)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
		return bigmath.Zero, amount1, nil

	default:
		// amount0 = floor( L * (sqrtB - sqrtP) * 2^64 / (sqrtP * sqrtB) )
		num0 := new(big.Int).Mul(L, new(big.Int).Sub(b, p))
		num0.Mul(num0, q64)
		den0 := new(big.Int).Mul(p, b)
		amt0, err := divFloor(num0, den0)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
		amount0, err = bigToU128(amt0)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}

		// amount1 = floor( L * (sqrtP - sqrtA) / 2^64 )
		num1 := new(big.Int).Mul(L, new(big.Int).Sub(p, a))
		amt1, err := divFloor(num1, q64)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
		amount1, err = bigToU128(amt1)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
		return amount0, amount1, nil
	}
}

func divFloor(num, den *big.Int) (*big.Int, error) {
	if den.Sign() == 0 {
		return nil, ErrMathDomain
	}
	return new(big.Int).Quo(num, den), nil
}

// LiquidityForAmounts computes the maximum liquidity obtainable from amount0
// and amount1 over [sqrtA, sqrtB] at current price sqrtP, without any swap.
// The inverse of AmountsForLiquidity: every division floors, so L is never
// over-issued against the amounts actually held (spec.md §4.2 rounding
// convention).
func LiquidityForAmounts(sqrtP, sqrtA, sqrtB bigmath.U128, amount0, amount1 bigmath.U128) (bigmath.U128, error) {
	if sqrtA.Cmp(sqrtB) > 0 {
		return bigmath.U128{}, ErrMathDomain
	}

	a := sqrtA.Big()
	b := sqrtB.Big()
	p := sqrtP.Big()
	amt0 := amount0.Big()
	amt1 := amount1.Big()

	switch {
	case p.Cmp(a) <= 0:
		// L = amount0 * sqrtA * sqrtB / ((sqrtB - sqrtA) * 2^64), floor (token0-only range).
		num := new(big.Int).Mul(amt0, a)
		num.Mul(num, b)
		den := new(big.Int).Mul(new(big.Int).Sub(b, a), q64)
		l, err := divFloor(num, den)
		if err != nil {
			return bigmath.U128{}, err
		}
		return bigToU128(l)

	case p.Cmp(b) >= 0:
		// L = amount1 * 2^64 / (sqrtB - sqrtA), floor (token1-only range).
		num := new(big.Int).Mul(amt1, q64)
		den := new(big.Int).Sub(b, a)
		l, err := divFloor(num, den)
		if err != nil {
			return bigmath.U128{}, err
		}
		return bigToU128(l)

	default:
		// In range: take the binding constraint of the two single-sided formulas.
		num0 := new(big.Int).Mul(amt0, p)
		num0.Mul(num0, b)
		den0 := new(big.Int).Mul(new(big.Int).Sub(b, p), q64)
		l0, err := divFloor(num0, den0)
		if err != nil {
			return bigmath.U128{}, err
		}

		num1 := new(big.Int).Mul(amt1, q64)
		den1 := new(big.Int).Sub(p, a)
		l1, err := divFloor(num1, den1)
		if err != nil {
			return bigmath.U128{}, err
		}

		if l0.Cmp(l1) < 0 {
			return bigToU128(l0)
		}
		return bigToU128(l1)
	}
}

// MaxLiquidityResult is the accounting record for
// MaxLiquidityWithOptionalSwap, satisfying
// amt_i == depositedAmount_i + swapFee_i + slip_i + remain_i for i in {0,1}
// (spec.md §4.2, §8 invariant 2). When a swap is taken, only the input
// token's SwapFee and only the output token's Slip can be non-zero: the swap
// input token pays the fee, the swap output token absorbs the slippage.
// Without a swap all four are zero.
//
// The source this spec was distilled from has two subtly different "remain"
// computations in the optimizer (one allowing negative accounting remain,
// one clamped non-negative). This implementation is pinned to Approach-A:
// Remain0/Remain1 are the signed accounting remainders and
// ActualRemain0/ActualRemain1 are the clamped non-negative physical
// leftovers actually returned to the caller's wallet. Downstream code that
// only knows one of those two conventions should use ActualRemain*.
type MaxLiquidityResult struct {
	Liquidity bigmath.U128

	DepositedAmount0 bigmath.U128
	DepositedAmount1 bigmath.U128

	SwapFee0 bigmath.U128
	SwapFee1 bigmath.U128

	Slip0 bigmath.U128
	Slip1 bigmath.U128

	// Remain0/Remain1 are the signed accounting remainders. The swap's output
	// side can be negative, because its deposit includes tokens received from
	// the swap, which no fee or slip term offsets.
	Remain0 *big.Int
	Remain1 *big.Int

	// ActualRemain0/ActualRemain1 are the non-negative physical amounts
	// credited back to the caller.
	ActualRemain0 bigmath.U128
	ActualRemain1 bigmath.U128
}

// feePPM and slippagePPM are parts-per-million throughout this package,
// matching spec.md's feeRate/ppm convention.
const ppmDenominator = 1_000_000

// MaxLiquidityWithOptionalSwap computes the maximum liquidity obtainable
// from amount0/amount1 at price sqrtP over [sqrtLower, sqrtUpper], optionally
// simulating a single swap of the excess side through a simple
// constant-product slippage model when that increases liquidity enough to
// clear the hysteresis threshold (spec.md §4.2 algorithm, steps 1-5).
//
// slippagePPM is the configurable percentage (in parts-per-million of the
// swap's output) lost to slippage in the simulated swap.
func MaxLiquidityWithOptionalSwap(
	sqrtP, sqrtLower, sqrtUpper bigmath.U128,
	amount0, amount1 bigmath.U128,
	feePPM uint32,
	slippagePPM uint32,
) (MaxLiquidityResult, error) {
	if sqrtLower.Cmp(sqrtUpper) > 0 {
		return MaxLiquidityResult{}, ErrMathDomain
	}

	l0, err := LiquidityForAmounts(sqrtP, sqrtLower, sqrtUpper, amount0, amount1)
	if err != nil {
		return MaxLiquidityResult{}, err
	}

	p := sqrtP.Big()
	a := sqrtLower.Big()
	b := sqrtUpper.Big()

	// l0 is the binding-constraint liquidity (LiquidityForAmounts takes the
	// min of the two single-sided formulas), so dep0 <= amount0 and
	// dep1 <= amount1 always hold.
	dep0, dep1, err := AmountsForLiquidity(sqrtP, sqrtLower, sqrtUpper, l0)
	if err != nil {
		return MaxLiquidityResult{}, err
	}

	best := MaxLiquidityResult{
		Liquidity:        l0,
		DepositedAmount0: dep0,
		DepositedAmount1: dep1,
		SwapFee0:         bigmath.Zero,
		SwapFee1:         bigmath.Zero,
		Slip0:            bigmath.Zero,
		Slip1:            bigmath.Zero,
		ActualRemain0:    clampNonNegativeU128(new(big.Int).Sub(amount0.Big(), dep0.Big())),
		ActualRemain1:    clampNonNegativeU128(new(big.Int).Sub(amount1.Big(), dep1.Big())),
	}

	// excess0/excess1 are the parts of amount0/amount1 held beyond their
	// share of the r̂ value split, valued at the spot price (pX64 is P in
	// Q64.64); at most one of them is positive.
	rNum, rDen := rHatRatio(p, a, b)
	rComp := new(big.Int).Sub(rDen, rNum)
	pX64 := new(big.Int).Rsh(new(big.Int).Mul(p, p), 64)
	amount1In0 := new(big.Int)
	if pX64.Sign() > 0 {
		amount1In0.Quo(new(big.Int).Lsh(amount1.Big(), 64), pX64)
	}
	excess0 := new(big.Int).Sub(new(big.Int).Mul(rNum, amount0.Big()), new(big.Int).Mul(rComp, amount1In0))
	excess0.Quo(excess0, rDen)
	excess1 := new(big.Int).Sub(new(big.Int).Mul(rComp, amount1.Big()), new(big.Int).Mul(rNum, new(big.Int).Rsh(new(big.Int).Mul(amount0.Big(), pX64), 64)))
	excess1.Quo(excess1, rDen)

	switch {
	case excess0.Sign() > 0:
		// Excess token0 beyond the target split: swap it into token1 to
		// relieve the token1-side binding constraint.
		if excess0.Sign() > 0 {
			cand, err := trySwapAndRecompute(sqrtP, sqrtLower, sqrtUpper, amount0, amount1, excess0, true, feePPM, slippagePPM)
			if err == nil && acceptSwap(l0, cand.Liquidity, cand.SwapFee0, cand.Slip1) {
				best = cand
			}
		}
	case excess1.Sign() > 0:
		if excess1.Sign() > 0 {
			cand, err := trySwapAndRecompute(sqrtP, sqrtLower, sqrtUpper, amount0, amount1, excess1, false, feePPM, slippagePPM)
			if err == nil && acceptSwap(l0, cand.Liquidity, cand.SwapFee1, cand.Slip0) {
				best = cand
			}
		}
	}

	// Special-case: one side of the deposit budget is exactly zero and the
	// range requires both tokens — a swap is required to deposit anything at
	// all, but it must only move the fraction of value spec.md §4.2 step 1's
	// target ratio r̂ calls for, not the entire budget: swapping 100% of the
	// only held token leaves the opposite token at exactly zero again, which
	// floors the in-range liquidity formula (LiquidityForAmounts' default
	// branch) straight back to 0.
	if amount0.Big().Sign() == 0 && p.Cmp(b) < 0 && amount1.Big().Sign() > 0 {
		// r̂ = rNum/rDen is the target fraction of value left in token1; swap
		// its complement out of token1 into token0.
		swapAmt := new(big.Int).Mul(amount1.Big(), new(big.Int).Sub(rDen, rNum))
		swapAmt.Quo(swapAmt, rDen)
		if swapAmt.Sign() > 0 {
			cand, err := trySwapAndRecompute(sqrtP, sqrtLower, sqrtUpper, amount0, amount1, swapAmt, false, feePPM, slippagePPM)
			if err == nil && cand.Liquidity.Cmp(best.Liquidity) > 0 {
				best = cand
			}
		}
	}
	if amount1.Big().Sign() == 0 && p.Cmp(a) > 0 && amount0.Big().Sign() > 0 {
		// r̂ = rNum/rDen is the target fraction of value to acquire in token1;
		// swap that fraction of amount0 into token1.
		swapAmt := new(big.Int).Mul(amount0.Big(), rNum)
		swapAmt.Quo(swapAmt, rDen)
		if swapAmt.Sign() > 0 {
			cand, err := trySwapAndRecompute(sqrtP, sqrtLower, sqrtUpper, amount0, amount1, swapAmt, true, feePPM, slippagePPM)
			if err == nil && cand.Liquidity.Cmp(best.Liquidity) > 0 {
				best = cand
			}
		}
	}

	// Derive remain* from the accounting invariant:
	// amt_i = depositedAmount_i + swapFee_i + slip_i + remain_i
	rem0 := new(big.Int).Sub(amount0.Big(), best.DepositedAmount0.Big())
	rem0.Sub(rem0, best.SwapFee0.Big())
	rem0.Sub(rem0, best.Slip0.Big())

	rem1 := new(big.Int).Sub(amount1.Big(), best.DepositedAmount1.Big())
	rem1.Sub(rem1, best.SwapFee1.Big())
	rem1.Sub(rem1, best.Slip1.Big())

	best.Remain0 = rem0
	best.Remain1 = rem1

	return best, nil
}

// rHatRatio computes the target value-fraction r̂ = r/(1+r) from spec.md
// §4.2 step 1, where r = (sqrtP-sqrtA)*sqrtB / (sqrtP*(sqrtB-sqrtP)) for the
// in-range case, clamped to 0 if sqrtP <= sqrtA and 1 if sqrtP >= sqrtB. The
// result is returned as an exact rational num/den (den > 0) rather than a
// float, so callers can multiply an amount by it with integer arithmetic.
func rHatRatio(p, a, b *big.Int) (num, den *big.Int) {
	if p.Cmp(a) <= 0 {
		return big.NewInt(0), big.NewInt(1)
	}
	if p.Cmp(b) >= 0 {
		return big.NewInt(1), big.NewInt(1)
	}
	// r = n/d with n = (p-a)*b, d = p*(b-p); r̂ = r/(1+r) = n/(n+d).
	n := new(big.Int).Mul(new(big.Int).Sub(p, a), b)
	d := new(big.Int).Mul(p, new(big.Int).Sub(b, p))
	return n, new(big.Int).Add(n, d)
}

func clampNonNegativeU128(v *big.Int) bigmath.U128 {
	if v.Sign() <= 0 {
		return bigmath.Zero
	}
	u, overflow := bigmath.FromBigInt(v)
	if overflow {
		return bigmath.Zero
	}
	return u
}

// acceptSwap implements the hysteresis test from spec.md §4.2 step 3(b):
// accept the swap iff (L1 - L0) > 2*(fee + slippage_output).
func acceptSwap(l0, l1, fee, slipOut bigmath.U128) bool {
	if l1.Cmp(l0) <= 0 {
		return false
	}
	gain := new(big.Int).Sub(l1.Big(), l0.Big())
	threshold := new(big.Int).Add(fee.Big(), slipOut.Big())
	threshold.Mul(threshold, big.NewInt(2))
	return gain.Cmp(threshold) > 0
}

// trySwapAndRecompute simulates a single swap of `excess` units of the
// over-supplied token through a simple constant-product slippage model
// (spec.md §4.2 step 3): fee is deducted on the input side first, the
// output is computed via the spot price, then a configurable percentage
// slippage is subtracted from the output. Liquidity is then recomputed from
// the post-swap amounts.
func trySwapAndRecompute(
	sqrtP, sqrtLower, sqrtUpper bigmath.U128,
	amount0, amount1 bigmath.U128,
	excessIn *big.Int,
	zeroForOne bool,
	feePPM uint32,
	slippagePPM uint32,
) (MaxLiquidityResult, error) {
	fee := new(big.Int).Quo(new(big.Int).Mul(excessIn, big.NewInt(int64(feePPM))), big.NewInt(ppmDenominator))
	netIn := new(big.Int).Sub(excessIn, fee)

	p := sqrtP.Big()

	var grossOut *big.Int
	if zeroForOne {
		// output = netIn * P, P = (sqrtP)^2 / 2^128 in real terms; using Q64.64
		// sqrtP, P_x64 = sqrtP^2 >> 64 gives token1-per-token0 in Q64.64.
		pX64 := new(big.Int).Rsh(new(big.Int).Mul(p, p), 64)
		grossOut = new(big.Int).Rsh(new(big.Int).Mul(netIn, pX64), 64)
	} else {
		// output = netIn / P
		pX64 := new(big.Int).Rsh(new(big.Int).Mul(p, p), 64)
		if pX64.Sign() == 0 {
			return MaxLiquidityResult{}, ErrMathDomain
		}
		numerator := new(big.Int).Lsh(netIn, 64)
		grossOut = new(big.Int).Quo(numerator, pX64)
	}

	slip := new(big.Int).Quo(new(big.Int).Mul(grossOut, big.NewInt(int64(slippagePPM))), big.NewInt(ppmDenominator))
	netOut := new(big.Int).Sub(grossOut, slip)
	if netOut.Sign() < 0 {
		netOut = big.NewInt(0)
	}

	newAmount0 := new(big.Int).Set(amount0.Big())
	newAmount1 := new(big.Int).Set(amount1.Big())
	var swapFee0, swapFee1, slip0, slip1 *big.Int
	swapFee0, swapFee1 = big.NewInt(0), big.NewInt(0)
	slip0, slip1 = big.NewInt(0), big.NewInt(0)

	if zeroForOne {
		newAmount0.Sub(newAmount0, excessIn)
		newAmount1.Add(newAmount1, netOut)
		swapFee0 = fee
		slip1 = slip
	} else {
		newAmount1.Sub(newAmount1, excessIn)
		newAmount0.Add(newAmount0, netOut)
		swapFee1 = fee
		slip0 = slip
	}

	a0, err := bigToU128(newAmount0)
	if err != nil {
		return MaxLiquidityResult{}, err
	}
	a1, err := bigToU128(newAmount1)
	if err != nil {
		return MaxLiquidityResult{}, err
	}

	l1, err := LiquidityForAmounts(sqrtP, sqrtLower, sqrtUpper, a0, a1)
	if err != nil {
		return MaxLiquidityResult{}, err
	}

	dep0, dep1, err := AmountsForLiquidity(sqrtP, sqrtLower, sqrtUpper, l1)
	if err != nil {
		return MaxLiquidityResult{}, err
	}

	sf0, _ := bigToU128(swapFee0)
	sf1, _ := bigToU128(swapFee1)
	s0, _ := bigToU128(slip0)
	s1, _ := bigToU128(slip1)

	return MaxLiquidityResult{
		Liquidity:        l1,
		DepositedAmount0: dep0,
		DepositedAmount1: dep1,
		SwapFee0:         sf0,
		SwapFee1:         sf1,
		Slip0:            s0,
		Slip1:            s1,
		ActualRemain0:    clampNonNegativeU128(new(big.Int).Sub(newAmount0, dep0.Big())),
		ActualRemain1:    clampNonNegativeU128(new(big.Int).Sub(newAmount1, dep1.Big())),
	}, nil
}
