// Package bigmath provides the fixed-point primitives the CLMM math core is
// built on: a 128-bit unsigned integer type for Q64.64 sqrt-prices and
// liquidity values, and a wrapping 256-bit accumulator for Q128.128
// fee-growth values. Everything here is pure and allocation-light; no
// decimal or float64 arithmetic is used.
package bigmath

import (
	"errors"
	"math/big"

	"lukechampine.com/uint128"
)

var (
	// ErrDivByZero is returned by MulDivFloor/MulDivCeil when the divisor is zero.
	ErrDivByZero = errors.New("bigmath: division by zero")

	// ErrOverflow is returned when a 256-bit intermediate result does not fit
	// back into the 128-bit domain the caller requested.
	ErrOverflow = errors.New("bigmath: result overflows 128 bits")
)

// U128 is the concrete 128-bit unsigned integer used throughout the CLMM
// core for Q64.64 sqrt-prices, liquidity, and token amounts.
type U128 = uint128.Uint128

// Zero is the additive identity of U128.
var Zero = uint128.Zero

// From64 builds a U128 from a uint64.
func From64(v uint64) U128 { return uint128.From64(v) }

// FromBigInt converts an arbitrary-precision non-negative integer into a
// U128, reporting overflow rather than truncating silently.
func FromBigInt(v *big.Int) (U128, bool) {
	return uint128.FromBig(v)
}

// twoPow256 is the modulus fee-growth accumulators wrap around, matching the
// reference implementation's reliance on 256-bit wraparound subtraction.
var twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)

func wrap256(v *big.Int) *big.Int {
	v.Mod(v, twoPow256)
	if v.Sign() < 0 {
		v.Add(v, twoPow256)
	}
	return v
}

// FeeGrowth is a Q128.128 fixed-point fee-growth accumulator, always kept
// normalized into [0, 2^256) so that subtraction wraps exactly the way the
// reference Solidity/Rust implementations wrap on overflow/underflow.
type FeeGrowth struct {
	v *big.Int
}

// NewFeeGrowth returns the zero fee-growth accumulator.
func NewFeeGrowth() FeeGrowth {
	return FeeGrowth{v: new(big.Int)}
}

// FeeGrowthFromBigInt wraps an arbitrary big.Int into a normalized FeeGrowth.
func FeeGrowthFromBigInt(v *big.Int) FeeGrowth {
	return FeeGrowth{v: wrap256(new(big.Int).Set(v))}
}

// FeeGrowthFromU128 lifts a 128-bit value into the 256-bit fee-growth domain.
func FeeGrowthFromU128(v U128) FeeGrowth {
	return FeeGrowth{v: v.Big()}
}

// Add returns f + other, wrapped modulo 2^256.
func (f FeeGrowth) Add(other FeeGrowth) FeeGrowth {
	return FeeGrowth{v: wrap256(new(big.Int).Add(f.bigOrZero(), other.bigOrZero()))}
}

// SubWrapping returns f - other, wrapped modulo 2^256. This is the operation
// the fee-growth-inside formula and the per-position delta rely on: the
// reference implementation treats the subtraction as defined modulo 2^256,
// so a snapshot "ahead of" the current accumulator is not an error.
func (f FeeGrowth) SubWrapping(other FeeGrowth) FeeGrowth {
	return FeeGrowth{v: wrap256(new(big.Int).Sub(f.bigOrZero(), other.bigOrZero()))}
}

func (f FeeGrowth) bigOrZero() *big.Int {
	if f.v == nil {
		return new(big.Int)
	}
	return f.v
}

// BigInt returns a defensive copy of the underlying value.
func (f FeeGrowth) BigInt() *big.Int {
	return new(big.Int).Set(f.bigOrZero())
}

// String returns the base-10 representation of the accumulator.
func (f FeeGrowth) String() string {
	return f.bigOrZero().String()
}

// IsZero reports whether the accumulator is exactly zero.
func (f FeeGrowth) IsZero() bool {
	return f.bigOrZero().Sign() == 0
}

// Cmp compares f to other (-1, 0, 1), per big.Int.Cmp semantics.
func (f FeeGrowth) Cmp(other FeeGrowth) int {
	return f.bigOrZero().Cmp(other.bigOrZero())
}

// MulDivU128ByFeeGrowth computes floor(liquidity * delta / 2^128) where delta
// is a Q128.128 fee-growth difference and liquidity is plain L — the core
// per-position fee attribution formula (spec.md §4.3.6).
func MulDivU128ByFeeGrowth(delta FeeGrowth, liquidity U128) *big.Int {
	prod := new(big.Int).Mul(delta.bigOrZero(), liquidity.Big())
	return new(big.Int).Rsh(prod, 128)
}

// MulDivFloor computes floor(a*b/d) using a 256-bit intermediate product so
// that L * 2^64 * deltaSqrtPrice (which routinely exceeds 192 bits) never
// silently truncates.
func MulDivFloor(a, b, d U128) (U128, error) {
	if d.IsZero() {
		return U128{}, ErrDivByZero
	}
	prod := new(big.Int).Mul(a.Big(), b.Big())
	q := new(big.Int).Quo(prod, d.Big())
	result, overflow := uint128.FromBig(q)
	if overflow {
		return U128{}, ErrOverflow
	}
	return result, nil
}

// MulDivCeil computes ceil(a*b/d) using the same 256-bit intermediate as
// MulDivFloor.
func MulDivCeil(a, b, d U128) (U128, error) {
	if d.IsZero() {
		return U128{}, ErrDivByZero
	}
	prod := new(big.Int).Mul(a.Big(), b.Big())
	q, r := new(big.Int).QuoRem(prod, d.Big(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	result, overflow := uint128.FromBig(q)
	if overflow {
		return U128{}, ErrOverflow
	}
	return result, nil
}

// MulDivRoundUpBigInt computes ceil(a*b/d) over arbitrary-precision inputs,
// used by the swap-step fee computation when a step reaches its target price
// or is exact-output (fee = ceil(amountIn*feePPM/(1e6-feePPM))), where
// operands are not yet known to fit in 128 bits.
func MulDivRoundUpBigInt(a, b, d *big.Int) *big.Int {
	prod := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(prod, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
