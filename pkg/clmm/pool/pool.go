// Package pool implements the ground-truth concentrated-liquidity AMM core
// (component C3): tick and position tables, mint/burn/collect, and the
// tick-crossing swap state machine, with fee-growth accounting kept exact
// via Q128.128 wrapping arithmetic. It holds no notion of "virtual"
// positions or historical events; those live one layer up in vpm and
// ingestion.
package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/clmmerr"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/tickmath"
)

// MinTick and MaxTick bound every tick this package accepts, matching
// tickmath's domain.
const (
	MinTick = tickmath.MinTick
	MaxTick = tickmath.MaxTick
)

// Config describes the immutable parameters of a pool: its token pair, fee
// tier, and tick spacing.
type Config struct {
	Token0      common.Address
	Token1      common.Address
	FeePPM      uint32
	TickSpacing int32

	// MaxIterations bounds the swap loop's tick-crossing steps, a backstop
	// against a pathologically fragmented tick table rather than a limit
	// ordinary backtests are expected to hit. Zero selects
	// defaultMaxIterations.
	MaxIterations uint64
}

// defaultMaxIterations is the default swap-loop iteration bound (spec.md
// §4.3.3, §6), sized as a pathological-loop backstop.
const defaultMaxIterations = 5_000_000

// DefaultConfig returns a 0.30% fee, 60-tick-spacing configuration, the most
// common Uniswap V3 tier.
func DefaultConfig(token0, token1 common.Address) Config {
	return Config{
		Token0:        token0,
		Token1:        token1,
		FeePPM:        3000,
		TickSpacing:   60,
		MaxIterations: defaultMaxIterations,
	}
}

// maxIterations returns the pool's configured swap-loop bound, defaulting to
// defaultMaxIterations when unset.
func (p *Pool) maxIterations() uint64 {
	if p.Config.MaxIterations == 0 {
		return defaultMaxIterations
	}
	return p.Config.MaxIterations
}

// Pool is the concentrated-liquidity AMM core: ticks, positions, and the
// global swap state (current price, active liquidity, global fee-growth
// accumulators). It is not safe for concurrent use by multiple goroutines
// without external synchronization, matching the reference simulator's
// single-writer-per-pool assumption.
type Pool struct {
	Config Config

	SqrtPriceX64 bigmath.U128
	TickCurrent  int32
	Liquidity    bigmath.U128

	FeeGrowthGlobal0 bigmath.FeeGrowth
	FeeGrowthGlobal1 bigmath.FeeGrowth

	maxLiquidityPerTick bigmath.U128

	ticks     *tickTable
	positions map[PositionKey]*Position
}

// New constructs a pool initialized at the given starting sqrt price.
func New(config Config, initialSqrtPriceX64 bigmath.U128) (*Pool, error) {
	if config.TickSpacing < 1 {
		return nil, fmt.Errorf("pool: tick spacing must be >= 1: %w", clmmerr.ErrInvalidRange)
	}
	tick, err := tickmath.SqrtPriceX64ToTick(initialSqrtPriceX64, 1)
	if err != nil {
		return nil, fmt.Errorf("pool: initializing price: %w", err)
	}

	maxPerTick, err := maxLiquidityPerTick(config.TickSpacing)
	if err != nil {
		return nil, err
	}

	return &Pool{
		Config:              config,
		SqrtPriceX64:        initialSqrtPriceX64,
		TickCurrent:         tick,
		Liquidity:            bigmath.Zero,
		FeeGrowthGlobal0:     bigmath.NewFeeGrowth(),
		FeeGrowthGlobal1:     bigmath.NewFeeGrowth(),
		maxLiquidityPerTick:  maxPerTick,
		ticks:                newTickTable(),
		positions:            make(map[PositionKey]*Position),
	}, nil
}

// maxLiquidityPerTick caps the liquidity any single tick can hold so that
// liquidityGross never overflows 128 bits across the full tick range, the
// same ceiling Uniswap V3 pools compute from tick spacing.
func maxLiquidityPerTick(tickSpacing int32) (bigmath.U128, error) {
	numTicks := (uint64(MaxTick)/uint64(tickSpacing))*2 + 1
	maxU128 := new(big.Int).Lsh(big.NewInt(1), 128)
	maxU128.Sub(maxU128, big.NewInt(1))
	perTick := new(big.Int).Quo(maxU128, big.NewInt(int64(numTicks)))
	u, overflow := bigmath.FromBigInt(perTick)
	if overflow {
		return bigmath.U128{}, clmmerr.ErrMathDomain
	}
	return u, nil
}

func (p *Pool) checkTicks(tickLower, tickUpper int32) error {
	if tickLower >= tickUpper {
		return clmmerr.ErrInvalidRange
	}
	if tickLower < MinTick || tickUpper > MaxTick {
		return clmmerr.ErrInvalidTick
	}
	if tickLower%p.Config.TickSpacing != 0 || tickUpper%p.Config.TickSpacing != 0 {
		return clmmerr.ErrInvalidTick
	}
	return nil
}

// Mint adds liquidityDelta to the position identified by (owner, tickLower,
// tickUpper), returning the token0/token1 amounts the caller must supply
// (spec.md §4.3.1).
func (p *Pool) Mint(owner string, tickLower, tickUpper int32, liquidityDelta bigmath.U128) (amount0, amount1 bigmath.U128, err error) {
	if liquidityDelta.IsZero() {
		return bigmath.U128{}, bigmath.U128{}, fmt.Errorf("pool: mint requires positive liquidity: %w", clmmerr.ErrMathDomain)
	}
	a0, a1, err := p.modifyPosition(owner, tickLower, tickUpper, new(big.Int).Set(liquidityDelta.Big()))
	if err != nil {
		return bigmath.U128{}, bigmath.U128{}, err
	}
	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.Debugf("pool mint: owner=%s range=[%d,%d] liquidity=%s amount0=%s amount1=%s", owner, tickLower, tickUpper, liquidityDelta.String(), a0.String(), a1.String())
	}
	return a0, a1, nil
}

// Burn removes liquidityDelta from the position and returns the resulting
// token0/token1 amounts. The same amounts are credited to the position's
// owed balances, from which they are withdrawn separately via Collect,
// matching the reference implementation's two-phase withdraw (spec.md
// §4.3.1).
func (p *Pool) Burn(owner string, tickLower, tickUpper int32, liquidityDelta bigmath.U128) (amount0, amount1 bigmath.U128, err error) {
	if liquidityDelta.IsZero() {
		return bigmath.U128{}, bigmath.U128{}, fmt.Errorf("pool: burn requires positive liquidity: %w", clmmerr.ErrMathDomain)
	}
	negDelta := new(big.Int).Neg(liquidityDelta.Big())
	a0, a1, err := p.modifyPosition(owner, tickLower, tickUpper, negDelta)
	if err != nil {
		return bigmath.U128{}, bigmath.U128{}, err
	}

	key := PositionKey{Owner: owner, LowerTick: tickLower, UpperTick: tickUpper}
	position := p.positions[key]
	if a0.Big().Sign() > 0 {
		position.TokensOwed0, err = addU128Big(position.TokensOwed0, a0.Big())
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
	}
	if a1.Big().Sign() > 0 {
		position.TokensOwed1, err = addU128Big(position.TokensOwed1, a1.Big())
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}
	}

	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.Debugf("pool burn: owner=%s range=[%d,%d] liquidity=%s amount0=%s amount1=%s", owner, tickLower, tickUpper, liquidityDelta.String(), a0.String(), a1.String())
	}
	return a0, a1, nil
}

// Collect withdraws up to amount0Req/amount1Req from a position's owed
// balances, returning the amounts actually transferred (capped at what is
// owed).
func (p *Pool) Collect(owner string, tickLower, tickUpper int32, amount0Req, amount1Req bigmath.U128) (amount0, amount1 bigmath.U128, err error) {
	key := PositionKey{Owner: owner, LowerTick: tickLower, UpperTick: tickUpper}
	position, ok := p.positions[key]
	if !ok {
		return bigmath.U128{}, bigmath.U128{}, clmmerr.ErrPositionMissing
	}

	amount0 = minU128(amount0Req, position.TokensOwed0)
	amount1 = minU128(amount1Req, position.TokensOwed1)

	if amount0.Big().Sign() > 0 {
		position.TokensOwed0 = subU128(position.TokensOwed0, amount0)
	}
	if amount1.Big().Sign() > 0 {
		position.TokensOwed1 = subU128(position.TokensOwed1, amount1)
	}

	return amount0, amount1, nil
}

// CreditFees adds amount0/amount1 directly to a position's owed-token
// balance, without touching its liquidity or fee-growth snapshot. Used by
// the swap-event ingestion adapter to attribute a ground-truth event's fee
// to the virtual positions active at the time, bypassing the fee-growth
// machinery that a real swap would otherwise drive.
func (p *Pool) CreditFees(owner string, tickLower, tickUpper int32, amount0, amount1 bigmath.U128) error {
	key := PositionKey{Owner: owner, LowerTick: tickLower, UpperTick: tickUpper}
	position, ok := p.positions[key]
	if !ok {
		return clmmerr.ErrPositionMissing
	}
	var err error
	if amount0.Big().Sign() > 0 {
		position.TokensOwed0, err = addU128Big(position.TokensOwed0, amount0.Big())
		if err != nil {
			return err
		}
	}
	if amount1.Big().Sign() > 0 {
		position.TokensOwed1, err = addU128Big(position.TokensOwed1, amount1.Big())
		if err != nil {
			return err
		}
	}
	return nil
}

// Poke rolls a position's owed-fees balance forward to the current
// fee-growth-inside without changing its liquidity, letting a caller collect
// accrued fees without closing the position.
func (p *Pool) Poke(owner string, tickLower, tickUpper int32) error {
	return p.updatePosition(owner, tickLower, tickUpper, new(big.Int))
}

func minU128(a, b bigmath.U128) bigmath.U128 {
	if a.Cmp(b) < 0 {
		return a
	}
	return b
}

func subU128(a, b bigmath.U128) bigmath.U128 {
	return toU128(new(big.Int).Sub(a.Big(), b.Big()))
}

// modifyPosition is the shared mint/burn path: it updates the tick table,
// rolls the position's owed fees forward, and computes the token0/token1
// amounts the delta represents at the current price (spec.md §4.3.1-4.3.2).
func (p *Pool) modifyPosition(owner string, tickLower, tickUpper int32, delta *big.Int) (amount0, amount1 bigmath.U128, err error) {
	if err := p.checkTicks(tickLower, tickUpper); err != nil {
		return bigmath.U128{}, bigmath.U128{}, err
	}

	if err := p.updatePosition(owner, tickLower, tickUpper, delta); err != nil {
		return bigmath.U128{}, bigmath.U128{}, err
	}

	if delta.Sign() == 0 {
		return bigmath.Zero, bigmath.Zero, nil
	}

	sqrtLower, err := tickmath.TickToSqrtPriceX64(tickLower)
	if err != nil {
		return bigmath.U128{}, bigmath.U128{}, err
	}
	sqrtUpper, err := tickmath.TickToSqrtPriceX64(tickUpper)
	if err != nil {
		return bigmath.U128{}, bigmath.U128{}, err
	}

	absDelta := toU128(new(big.Int).Abs(delta))
	isAdd := delta.Sign() > 0

	// Rounding: mints round up (the caller must supply at least this much),
	// burns round down (the caller is owed at most this much) — amount0Delta
	// and amount1Delta take that directly as their roundUp flag.
	switch {
	case p.TickCurrent < tickLower:
		amount0 = amount0Delta(sqrtLower, sqrtUpper, absDelta, isAdd)

	case p.TickCurrent < tickUpper:
		amount0 = amount0Delta(p.SqrtPriceX64, sqrtUpper, absDelta, isAdd)
		amount1 = amount1Delta(sqrtLower, p.SqrtPriceX64, absDelta, isAdd)
		p.Liquidity, err = addDelta(p.Liquidity, delta)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, err
		}

	default:
		amount1 = amount1Delta(sqrtLower, sqrtUpper, absDelta, isAdd)
	}

	return amount0, amount1, nil
}

func (p *Pool) updatePosition(owner string, tickLower, tickUpper int32, delta *big.Int) error {
	key := PositionKey{Owner: owner, LowerTick: tickLower, UpperTick: tickUpper}
	position, ok := p.positions[key]
	if !ok {
		position = newPosition()
		p.positions[key] = position
	}

	var flippedLower, flippedUpper bool
	var err error

	if delta.Sign() != 0 {
		lowerInfo := p.ticks.getOrInit(tickLower)
		flippedLower, err = lowerInfo.update(delta, p.TickCurrent, tickLower, p.FeeGrowthGlobal0, p.FeeGrowthGlobal1, false, p.maxLiquidityPerTick)
		if err != nil {
			return err
		}

		upperInfo := p.ticks.getOrInit(tickUpper)
		flippedUpper, err = upperInfo.update(delta, p.TickCurrent, tickUpper, p.FeeGrowthGlobal0, p.FeeGrowthGlobal1, true, p.maxLiquidityPerTick)
		if err != nil {
			return err
		}
	}

	lowerInfo := p.ticks.getOrInit(tickLower)
	upperInfo := p.ticks.getOrInit(tickUpper)
	inside0, inside1 := feeGrowthInside(lowerInfo, upperInfo, p.TickCurrent, tickLower, tickUpper, p.FeeGrowthGlobal0, p.FeeGrowthGlobal1)

	if err := position.update(delta, inside0, inside1); err != nil {
		return err
	}

	if delta.Sign() < 0 {
		if flippedLower {
			p.ticks.clear(tickLower)
		}
		if flippedUpper {
			p.ticks.clear(tickUpper)
		}
	}

	return nil
}

// SwapResult is the outcome of a Swap call.
type SwapResult struct {
	Amount0 *big.Int
	Amount1 *big.Int

	// IterationLimitReached is set when the swap loop hit its step bound
	// before amountSpecified was fully consumed or the price limit was
	// reached; Amount0/Amount1 reflect the partial swap actually applied
	// (spec.md §4.3.3, the SwapIterationLimit warning).
	IterationLimitReached bool
}

// Swap executes a swap against the pool's tick table, consuming
// amountSpecified (positive: exact input of the input token; negative:
// exact output of the output token) in the direction zeroForOne, optionally
// bounded by sqrtPriceLimit (nil selects the protocol-wide min/max bound in
// that direction) (spec.md §4.3.3).
func (p *Pool) Swap(zeroForOne bool, amountSpecified *big.Int, sqrtPriceLimit *bigmath.U128) (SwapResult, error) {
	if amountSpecified.Sign() == 0 {
		return SwapResult{}, fmt.Errorf("pool: amountSpecified must be non-zero: %w", clmmerr.ErrMathDomain)
	}

	limit, err := p.resolvePriceLimit(zeroForOne, sqrtPriceLimit)
	if err != nil {
		return SwapResult{}, err
	}
	if err := p.validatePriceLimit(zeroForOne, limit); err != nil {
		return SwapResult{}, err
	}

	exactInput := amountSpecified.Sign() >= 0

	state := struct {
		amountSpecifiedRemaining *big.Int
		amountCalculated         *big.Int
		sqrtPrice                bigmath.U128
		tick                     int32
		liquidity                bigmath.U128
		feeGrowthGlobal          bigmath.FeeGrowth
	}{
		amountSpecifiedRemaining: new(big.Int).Set(amountSpecified),
		amountCalculated:         new(big.Int),
		sqrtPrice:                p.SqrtPriceX64,
		tick:                     p.TickCurrent,
		liquidity:                p.Liquidity,
	}
	if zeroForOne {
		state.feeGrowthGlobal = p.FeeGrowthGlobal0
	} else {
		state.feeGrowthGlobal = p.FeeGrowthGlobal1
	}

	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.Debugf("pool swap: zeroForOne=%t exactInput=%t amountSpecified=%s price=%s limit=%s", zeroForOne, exactInput, amountSpecified.String(), p.SqrtPriceX64.String(), limit.String())
	}

	maxIterations := p.maxIterations()
	iterationLimitReached := false
	for i := uint64(0); ; i++ {
		if state.amountSpecifiedRemaining.Sign() == 0 || state.sqrtPrice.Cmp(limit) == 0 {
			break
		}
		if i >= maxIterations {
			iterationLimitReached = true
			logrus.WithFields(logrus.Fields{
				"zeroForOne":    zeroForOne,
				"maxIterations": maxIterations,
				"tick":          state.tick,
				"remaining":     state.amountSpecifiedRemaining.String(),
			}).Warn("pool swap: iteration limit reached, returning partial result")
			break
		}

		tickNext, initialized := p.ticks.nextInitializedTick(state.tick, p.Config.TickSpacing, zeroForOne, MinTick, MaxTick)

		sqrtPriceNextForTick, err := tickmath.TickToSqrtPriceX64(tickNext)
		if err != nil {
			return SwapResult{}, err
		}

		var target bigmath.U128
		if zeroForOne {
			if sqrtPriceNextForTick.Cmp(limit) < 0 {
				target = limit
			} else {
				target = sqrtPriceNextForTick
			}
		} else {
			if sqrtPriceNextForTick.Cmp(limit) > 0 {
				target = limit
			} else {
				target = sqrtPriceNextForTick
			}
		}

		step := computeSwapStep(state.sqrtPrice, target, state.liquidity, state.amountSpecifiedRemaining, p.Config.FeePPM)
		state.sqrtPrice = step.sqrtPriceNext

		if exactInput {
			consumed := new(big.Int).Add(step.amountIn.Big(), step.feeAmount.Big())
			state.amountSpecifiedRemaining.Sub(state.amountSpecifiedRemaining, consumed)
			state.amountCalculated.Sub(state.amountCalculated, step.amountOut.Big())
		} else {
			state.amountSpecifiedRemaining.Add(state.amountSpecifiedRemaining, step.amountOut.Big())
			state.amountCalculated.Add(state.amountCalculated, new(big.Int).Add(step.amountIn.Big(), step.feeAmount.Big()))
		}

		if state.liquidity.Big().Sign() > 0 {
			feeGrowthDelta := bigmath.FeeGrowthFromBigInt(new(big.Int).Quo(new(big.Int).Lsh(step.feeAmount.Big(), 128), state.liquidity.Big()))
			state.feeGrowthGlobal = state.feeGrowthGlobal.Add(feeGrowthDelta)
		}

		if state.sqrtPrice.Cmp(sqrtPriceNextForTick) == 0 {
			if initialized {
				tickInfo := p.ticks.getOrInit(tickNext)
				var liquidityNet *big.Int
				if zeroForOne {
					liquidityNet = tickInfo.cross(state.feeGrowthGlobal, p.FeeGrowthGlobal1)
				} else {
					liquidityNet = tickInfo.cross(p.FeeGrowthGlobal0, state.feeGrowthGlobal)
				}
				if zeroForOne {
					liquidityNet = new(big.Int).Neg(liquidityNet)
				}
				state.liquidity, err = addDelta(state.liquidity, liquidityNet)
				if err != nil {
					return SwapResult{}, err
				}
			}
			if zeroForOne {
				state.tick = tickNext - 1
			} else {
				state.tick = tickNext
			}
		} else if state.sqrtPrice.Cmp(p.SqrtPriceX64) != 0 {
			newTick, err := tickmath.SqrtPriceX64ToTick(state.sqrtPrice, 1)
			if err != nil {
				return SwapResult{}, err
			}
			state.tick = newTick
		}

		if logrus.GetLevel() >= logrus.TraceLevel {
			logrus.Tracef("swap step %d: tick=%d price=%s amountIn=%s amountOut=%s fee=%s", i, state.tick, state.sqrtPrice.String(), step.amountIn.String(), step.amountOut.String(), step.feeAmount.String())
		}
	}

	p.SqrtPriceX64 = state.sqrtPrice
	p.TickCurrent = state.tick
	p.Liquidity = state.liquidity
	if zeroForOne {
		p.FeeGrowthGlobal0 = state.feeGrowthGlobal
	} else {
		p.FeeGrowthGlobal1 = state.feeGrowthGlobal
	}

	var amount0, amount1 *big.Int
	consumed := new(big.Int).Sub(amountSpecified, state.amountSpecifiedRemaining)
	if zeroForOne == exactInput {
		amount0 = consumed
		amount1 = state.amountCalculated
	} else {
		amount0 = state.amountCalculated
		amount1 = consumed
	}

	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.Debugf("pool swap complete: amount0=%s amount1=%s newPrice=%s newTick=%d limitReached=%t", amount0.String(), amount1.String(), p.SqrtPriceX64.String(), p.TickCurrent, iterationLimitReached)
	}

	return SwapResult{Amount0: amount0, Amount1: amount1, IterationLimitReached: iterationLimitReached}, nil
}

func (p *Pool) resolvePriceLimit(zeroForOne bool, limit *bigmath.U128) (bigmath.U128, error) {
	if limit != nil {
		return *limit, nil
	}
	if zeroForOne {
		sp, err := tickmath.TickToSqrtPriceX64(MinTick)
		if err != nil {
			return bigmath.U128{}, err
		}
		return toU128(new(big.Int).Add(sp.Big(), big.NewInt(1))), nil
	}
	sp, err := tickmath.TickToSqrtPriceX64(MaxTick)
	if err != nil {
		return bigmath.U128{}, err
	}
	return toU128(new(big.Int).Sub(sp.Big(), big.NewInt(1))), nil
}

func (p *Pool) validatePriceLimit(zeroForOne bool, limit bigmath.U128) error {
	minSP, err := tickmath.TickToSqrtPriceX64(MinTick)
	if err != nil {
		return err
	}
	maxSP, err := tickmath.TickToSqrtPriceX64(MaxTick)
	if err != nil {
		return err
	}

	if zeroForOne {
		if limit.Cmp(minSP) <= 0 || limit.Cmp(p.SqrtPriceX64) >= 0 {
			return fmt.Errorf("pool: invalid price limit for token0->token1 swap: %w", clmmerr.ErrMathDomain)
		}
	} else {
		if limit.Cmp(maxSP) >= 0 || limit.Cmp(p.SqrtPriceX64) <= 0 {
			return fmt.Errorf("pool: invalid price limit for token1->token0 swap: %w", clmmerr.ErrMathDomain)
		}
	}
	return nil
}

// View is a read-only snapshot of the pool's public state, returned by
// Snapshot so callers (the virtual position manager, reporting code) cannot
// mutate pool internals directly.
type View struct {
	SqrtPriceX64     bigmath.U128
	TickCurrent      int32
	Liquidity        bigmath.U128
	FeeGrowthGlobal0 bigmath.FeeGrowth
	FeeGrowthGlobal1 bigmath.FeeGrowth
}

// Snapshot returns the pool's current read-only view.
func (p *Pool) Snapshot() View {
	return View{
		SqrtPriceX64:     p.SqrtPriceX64,
		TickCurrent:      p.TickCurrent,
		Liquidity:        p.Liquidity,
		FeeGrowthGlobal0: p.FeeGrowthGlobal0,
		FeeGrowthGlobal1: p.FeeGrowthGlobal1,
	}
}

// PositionView returns a read-only copy of a position's state, or
// ErrPositionMissing if owner has no position over [tickLower, tickUpper].
func (p *Pool) PositionView(owner string, tickLower, tickUpper int32) (Position, error) {
	key := PositionKey{Owner: owner, LowerTick: tickLower, UpperTick: tickUpper}
	position, ok := p.positions[key]
	if !ok {
		return Position{}, clmmerr.ErrPositionMissing
	}
	return *position, nil
}
