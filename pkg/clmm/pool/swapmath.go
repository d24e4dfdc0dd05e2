package pool

import (
	"math/big"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
)

var q64 = new(big.Int).Lsh(big.NewInt(1), 64)

// ppmDenominator is the fee-rate denominator: fees are expressed in parts
// per million throughout the swap state machine.
const ppmDenominator = 1_000_000

func floorDiv(num, den *big.Int) *big.Int {
	return new(big.Int).Quo(num, den)
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func toU128(v *big.Int) bigmath.U128 {
	u, overflow := bigmath.FromBigInt(v)
	if overflow {
		// The swap math keeps every intermediate within 256 bits and every
		// final amount within a pool-sized 128 bits; reaching this means an
		// upstream invariant (liquidity/price bounds) was violated.
		panic("pool: swap math result overflowed 128 bits")
	}
	return u
}

// amount0Delta returns the token0 delta between sqrtA and sqrtB (sqrtA <=
// sqrtB required) for the given liquidity, rounding up or down per roundUp.
func amount0Delta(sqrtA, sqrtB bigmath.U128, liquidity bigmath.U128, roundUp bool) bigmath.U128 {
	a, b := sqrtA.Big(), sqrtB.Big()
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	numerator1 := new(big.Int).Lsh(liquidity.Big(), 64)
	numerator2 := new(big.Int).Sub(b, a)
	if a.Sign() == 0 {
		return bigmath.Zero
	}
	if roundUp {
		inner := ceilDiv(new(big.Int).Mul(numerator1, numerator2), b)
		return toU128(ceilDiv(inner, a))
	}
	inner := floorDiv(new(big.Int).Mul(numerator1, numerator2), b)
	return toU128(floorDiv(inner, a))
}

// amount1Delta returns the token1 delta between sqrtA and sqrtB for the
// given liquidity, rounding up or down per roundUp.
func amount1Delta(sqrtA, sqrtB bigmath.U128, liquidity bigmath.U128, roundUp bool) bigmath.U128 {
	a, b := sqrtA.Big(), sqrtB.Big()
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	numerator := new(big.Int).Mul(liquidity.Big(), new(big.Int).Sub(b, a))
	if roundUp {
		return toU128(ceilDiv(numerator, q64))
	}
	return toU128(floorDiv(numerator, q64))
}

// nextSqrtPriceFromAmount0RoundingUp computes the sqrt price after adding
// (add=true) or removing (add=false) amount of token0 at constant liquidity,
// always rounding the resulting price up.
func nextSqrtPriceFromAmount0RoundingUp(sqrtP bigmath.U128, liquidity bigmath.U128, amount *big.Int, add bool) bigmath.U128 {
	if amount.Sign() == 0 {
		return sqrtP
	}
	p := sqrtP.Big()
	numerator1 := new(big.Int).Lsh(liquidity.Big(), 64)
	product := new(big.Int).Mul(amount, p)

	var denominator *big.Int
	if add {
		denominator = new(big.Int).Add(numerator1, product)
	} else {
		denominator = new(big.Int).Sub(numerator1, product)
		if denominator.Sign() <= 0 {
			// Removing more token0 than the pool's liquidity can support at
			// this price; the caller (computeSwapStep) never reaches this
			// because it first caps amount against the available delta.
			panic("pool: next sqrt price from amount0 underflowed")
		}
	}
	return toU128(ceilDiv(new(big.Int).Mul(numerator1, p), denominator))
}

// nextSqrtPriceFromAmount1RoundingDown computes the sqrt price after adding
// or removing amount of token1 at constant liquidity, always rounding the
// resulting price down.
func nextSqrtPriceFromAmount1RoundingDown(sqrtP bigmath.U128, liquidity bigmath.U128, amount *big.Int, add bool) bigmath.U128 {
	p := sqrtP.Big()
	l := liquidity.Big()
	if add {
		quotient := floorDiv(new(big.Int).Lsh(amount, 64), l)
		return toU128(new(big.Int).Add(p, quotient))
	}
	quotient := ceilDiv(new(big.Int).Lsh(amount, 64), l)
	result := new(big.Int).Sub(p, quotient)
	if result.Sign() < 0 {
		panic("pool: next sqrt price from amount1 underflowed")
	}
	return toU128(result)
}

func nextSqrtPriceFromInput(sqrtP bigmath.U128, liquidity bigmath.U128, amountIn *big.Int, zeroForOne bool) bigmath.U128 {
	if zeroForOne {
		return nextSqrtPriceFromAmount0RoundingUp(sqrtP, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromAmount1RoundingDown(sqrtP, liquidity, amountIn, true)
}

func nextSqrtPriceFromOutput(sqrtP bigmath.U128, liquidity bigmath.U128, amountOut *big.Int, zeroForOne bool) bigmath.U128 {
	if zeroForOne {
		return nextSqrtPriceFromAmount1RoundingDown(sqrtP, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromAmount0RoundingUp(sqrtP, liquidity, amountOut, false)
}

// swapStepResult is one bounded step of the swap state machine: the price
// moves from sqrtPriceStart to at most sqrtPriceTarget, consuming amountIn
// (plus feeAmount) and producing amountOut.
type swapStepResult struct {
	sqrtPriceNext bigmath.U128
	amountIn      bigmath.U128
	amountOut     bigmath.U128
	feeAmount     bigmath.U128
}

// computeSwapStep advances the price from sqrtPriceCurrent towards
// sqrtPriceTarget (never past it) given the available liquidity,
// amountRemaining (positive for exact-input, negative for exact-output) and
// feePPM, the per-swap fee in parts per million of the input amount
// (spec.md §4.3.3 step 3).
func computeSwapStep(sqrtPriceCurrent, sqrtPriceTarget bigmath.U128, liquidity bigmath.U128, amountRemaining *big.Int, feePPM uint32) swapStepResult {
	zeroForOne := sqrtPriceCurrent.Cmp(sqrtPriceTarget) >= 0
	exactIn := amountRemaining.Sign() >= 0

	var sqrtPriceNext bigmath.U128
	var amountIn, amountOut bigmath.U128

	if exactIn {
		feeMultiplier := big.NewInt(int64(ppmDenominator - feePPM))
		amountRemainingLessFee := floorDiv(new(big.Int).Mul(amountRemaining, feeMultiplier), big.NewInt(ppmDenominator))

		if zeroForOne {
			amountIn = amount0Delta(sqrtPriceTarget, sqrtPriceCurrent, liquidity, true)
		} else {
			amountIn = amount1Delta(sqrtPriceCurrent, sqrtPriceTarget, liquidity, true)
		}

		if amountRemainingLessFee.Cmp(amountIn.Big()) >= 0 {
			sqrtPriceNext = sqrtPriceTarget
		} else {
			sqrtPriceNext = nextSqrtPriceFromInput(sqrtPriceCurrent, liquidity, amountRemainingLessFee, zeroForOne)
		}
	} else {
		amountSpecifiedAbs := new(big.Int).Neg(amountRemaining)

		if zeroForOne {
			amountOut = amount1Delta(sqrtPriceTarget, sqrtPriceCurrent, liquidity, false)
		} else {
			amountOut = amount0Delta(sqrtPriceCurrent, sqrtPriceTarget, liquidity, false)
		}

		if amountSpecifiedAbs.Cmp(amountOut.Big()) >= 0 {
			sqrtPriceNext = sqrtPriceTarget
		} else {
			sqrtPriceNext = nextSqrtPriceFromOutput(sqrtPriceCurrent, liquidity, amountSpecifiedAbs, zeroForOne)
		}
	}

	reachedTarget := sqrtPriceNext.Cmp(sqrtPriceTarget) == 0

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			amountIn = amount0Delta(sqrtPriceNext, sqrtPriceCurrent, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = amount1Delta(sqrtPriceNext, sqrtPriceCurrent, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			amountIn = amount1Delta(sqrtPriceCurrent, sqrtPriceNext, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = amount0Delta(sqrtPriceCurrent, sqrtPriceNext, liquidity, false)
		}
	}

	if !exactIn {
		amountSpecifiedAbs := new(big.Int).Neg(amountRemaining)
		if amountOut.Big().Cmp(amountSpecifiedAbs) > 0 {
			amountOut = toU128(amountSpecifiedAbs)
		}
	}

	var feeAmount bigmath.U128
	if exactIn && !reachedTarget {
		// The whole remaining amount was consumed without reaching the
		// target price: everything beyond the realized input is fee.
		feeAmount = toU128(new(big.Int).Sub(amountRemaining, amountIn.Big()))
	} else {
		feeAmount = toU128(bigmath.MulDivRoundUpBigInt(amountIn.Big(), big.NewInt(int64(feePPM)), big.NewInt(int64(ppmDenominator-feePPM))))
	}

	return swapStepResult{
		sqrtPriceNext: sqrtPriceNext,
		amountIn:      amountIn,
		amountOut:     amountOut,
		feeAmount:     feeAmount,
	}
}
