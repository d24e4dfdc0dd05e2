package pool

import (
	"math/big"
	"sort"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/clmmerr"
)

// TickInfo is the per-tick accounting record: how much liquidity flips at
// this boundary and the fee growth that accrued on the far side of it the
// last time it was crossed (spec.md §4.3.4-4.3.5).
type TickInfo struct {
	LiquidityGross bigmath.U128
	// LiquidityNet is signed: positive when crossing left-to-right adds
	// liquidity (a lower tick), negative when it removes it (an upper tick).
	LiquidityNet *big.Int

	FeeGrowthOutside0 bigmath.FeeGrowth
	FeeGrowthOutside1 bigmath.FeeGrowth

	Initialized bool
}

func newTickInfo() *TickInfo {
	return &TickInfo{
		LiquidityGross: bigmath.Zero,
		LiquidityNet:   new(big.Int),
		FeeGrowthOutside0: bigmath.NewFeeGrowth(),
		FeeGrowthOutside1: bigmath.NewFeeGrowth(),
	}
}

// addDelta adds a signed liquidity delta to a non-negative U128 balance,
// failing with ErrInsufficientLiquidity if the result would go negative.
func addDelta(liquidity bigmath.U128, delta *big.Int) (bigmath.U128, error) {
	result := new(big.Int).Add(liquidity.Big(), delta)
	if result.Sign() < 0 {
		return bigmath.U128{}, clmmerr.ErrInsufficientLiquidity
	}
	u, overflow := bigmath.FromBigInt(result)
	if overflow {
		return bigmath.U128{}, clmmerr.ErrMathDomain
	}
	return u, nil
}

// update applies a mint/burn liquidity delta to this tick, returning whether
// the tick flipped from uninitialized to initialized or vice versa
// (spec.md §4.3.5). upper distinguishes whether this tick is the upper or
// lower bound of the position being modified, which determines the sign
// liquidityNet accumulates.
func (t *TickInfo) update(delta *big.Int, tickCurrent int32, tick int32, feeGrowthGlobal0, feeGrowthGlobal1 bigmath.FeeGrowth, upper bool, maxLiquidityPerTick bigmath.U128) (flipped bool, err error) {
	liquidityGrossBefore := t.LiquidityGross
	liquidityGrossAfter, err := addDelta(liquidityGrossBefore, delta)
	if err != nil {
		return false, err
	}

	if liquidityGrossAfter.Cmp(maxLiquidityPerTick) > 0 {
		return false, clmmerr.ErrInsufficientLiquidity
	}

	flipped = liquidityGrossAfter.IsZero() != liquidityGrossBefore.IsZero()

	if liquidityGrossBefore.IsZero() {
		// By convention, assume all growth up to this point happened below
		// the tick (spec.md §4.3.4): initializes the outside accumulators so
		// that feeGrowthInside is correct immediately after a tick first
		// becomes active.
		if tick <= tickCurrent {
			t.FeeGrowthOutside0 = feeGrowthGlobal0
			t.FeeGrowthOutside1 = feeGrowthGlobal1
		}
		t.Initialized = true
	}

	t.LiquidityGross = liquidityGrossAfter
	if upper {
		t.LiquidityNet = new(big.Int).Sub(t.LiquidityNet, delta)
	} else {
		t.LiquidityNet = new(big.Int).Add(t.LiquidityNet, delta)
	}

	return flipped, nil
}

// cross flips the tick's outside fee-growth accumulators when the swap state
// machine's current price moves across it, returning the signed liquidity
// delta to apply to the pool's active liquidity (spec.md §4.3.5).
func (t *TickInfo) cross(feeGrowthGlobal0, feeGrowthGlobal1 bigmath.FeeGrowth) *big.Int {
	t.FeeGrowthOutside0 = feeGrowthGlobal0.SubWrapping(t.FeeGrowthOutside0)
	t.FeeGrowthOutside1 = feeGrowthGlobal1.SubWrapping(t.FeeGrowthOutside1)
	return t.LiquidityNet
}

// clear removes a tick's accounting once liquidityGross returns to zero,
// matching the reference implementation's tick-table garbage collection.
func (t *TickInfo) clear() {
	t.LiquidityGross = bigmath.Zero
	t.LiquidityNet = new(big.Int)
	t.FeeGrowthOutside0 = bigmath.NewFeeGrowth()
	t.FeeGrowthOutside1 = bigmath.NewFeeGrowth()
	t.Initialized = false
}

// feeGrowthInside computes the fee growth accrued strictly inside [lower,
// upper] as of tickCurrent, using the four-case outside/inside bookkeeping
// (spec.md §4.3.4): below-range and above-range contributions are each
// either the tick's recorded outside growth or (global - outside),
// depending on which side of tickCurrent the boundary sits on.
func feeGrowthInside(lowerInfo, upperInfo *TickInfo, tickCurrent, tickLower, tickUpper int32, feeGrowthGlobal0, feeGrowthGlobal1 bigmath.FeeGrowth) (bigmath.FeeGrowth, bigmath.FeeGrowth) {
	var feeGrowthBelow0, feeGrowthBelow1 bigmath.FeeGrowth
	if tickCurrent >= tickLower {
		feeGrowthBelow0 = lowerInfo.FeeGrowthOutside0
		feeGrowthBelow1 = lowerInfo.FeeGrowthOutside1
	} else {
		feeGrowthBelow0 = feeGrowthGlobal0.SubWrapping(lowerInfo.FeeGrowthOutside0)
		feeGrowthBelow1 = feeGrowthGlobal1.SubWrapping(lowerInfo.FeeGrowthOutside1)
	}

	var feeGrowthAbove0, feeGrowthAbove1 bigmath.FeeGrowth
	if tickCurrent < tickUpper {
		feeGrowthAbove0 = upperInfo.FeeGrowthOutside0
		feeGrowthAbove1 = upperInfo.FeeGrowthOutside1
	} else {
		feeGrowthAbove0 = feeGrowthGlobal0.SubWrapping(upperInfo.FeeGrowthOutside0)
		feeGrowthAbove1 = feeGrowthGlobal1.SubWrapping(upperInfo.FeeGrowthOutside1)
	}

	inside0 := feeGrowthGlobal0.SubWrapping(feeGrowthBelow0).SubWrapping(feeGrowthAbove0)
	inside1 := feeGrowthGlobal1.SubWrapping(feeGrowthBelow1).SubWrapping(feeGrowthAbove1)
	return inside0, inside1
}

// tickTable stores initialized ticks in a map keyed by their index;
// nextInitializedTick sorts the keys on each call for its boundary search.
type tickTable struct {
	ticks map[int32]*TickInfo
}

func newTickTable() *tickTable {
	return &tickTable{ticks: make(map[int32]*TickInfo)}
}

func (tt *tickTable) getOrInit(tick int32) *TickInfo {
	info, ok := tt.ticks[tick]
	if !ok {
		info = newTickInfo()
		tt.ticks[tick] = info
	}
	return info
}

func (tt *tickTable) get(tick int32) (*TickInfo, bool) {
	info, ok := tt.ticks[tick]
	return info, ok
}

func (tt *tickTable) clear(tick int32) {
	delete(tt.ticks, tick)
}

// sortedTicks returns the initialized tick indices in ascending order.
func (tt *tickTable) sortedTicks() []int32 {
	out := make([]int32, 0, len(tt.ticks))
	for tick := range tt.ticks {
		out = append(out, tick)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// nextInitializedTick finds the nearest initialized tick at or below the
// current one (zeroForOne=true, searching down) or strictly above it
// (zeroForOne=false, searching up). When none exists it returns minTick or
// maxTick respectively, with initialized=false.
func (tt *tickTable) nextInitializedTick(tickCurrent int32, tickSpacing int32, zeroForOne bool, minTick, maxTick int32) (tick int32, initialized bool) {
	ticks := tt.sortedTicks()

	if zeroForOne {
		// Search at or below tickCurrent.
		for i := len(ticks) - 1; i >= 0; i-- {
			if ticks[i] <= tickCurrent {
				return ticks[i], true
			}
		}
		return minTick, false
	}

	for _, t := range ticks {
		if t > tickCurrent {
			return t, true
		}
	}
	return maxTick, false
}
