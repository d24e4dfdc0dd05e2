package concentrated_liquidity

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	core "github.com/daoleno/uniswap-sdk-core/entities"
	"github.com/daoleno/uniswapv3-sdk/constants"
	"github.com/daoleno/uniswapv3-sdk/utils"
	"github.com/ethereum/go-ethereum/common"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/liquiditymath"
	clmmpool "github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/pool"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/tickmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/mechanisms"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/primitives"
)

var (
	// ErrInvalidPoolParams is returned when pool parameters are invalid
	ErrInvalidPoolParams = errors.New("invalid pool parameters")

	// ErrInvalidTickRange is returned when tick range is invalid
	ErrInvalidTickRange = errors.New("invalid tick range: tickLower must be less than tickUpper")

	// ErrInsufficientLiquidity is returned when there's insufficient liquidity
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrTickRangeNotSet is returned by AddLiquidity when SetActiveRange has
	// not been called: a concentrated liquidity deposit has no meaning
	// without a price range to deposit into.
	ErrTickRangeNotSet = errors.New("active tick range not set: call SetActiveRange first")
)

// Pool implements the LiquidityPool interface for Uniswap V3 style concentrated liquidity.
// It wraps the daoleno/uniswapv3-sdk library to provide integration with our framework.
//
// This implementation provides a bridge between our framework's interfaces and the
// battle-tested Uniswap V3 SDK math, ensuring accuracy and reliability.
type Pool struct {
	poolID      string
	tokenA      *core.Token
	tokenB      *core.Token
	fee         constants.FeeAmount
	tickSpacing int

	// core is the ground-truth CLMM pool (pkg/clmm/pool) backing
	// AddLiquidity: this bridge delegates its liquidity math to the same
	// tick/liquidity machinery the rest of the engine uses, rather than the
	// uniswapv3-sdk utilities RemoveLiquidity still calls directly.
	core *clmmpool.Pool

	tickLower, tickUpper int32
	hasActiveRange       bool
}

// NewPool creates a new concentrated liquidity pool.
//
// Parameters:
//   - poolID: Unique identifier for this pool
//   - tokenAAddress: Address of token A
//   - tokenADecimals: Decimals for token A
//   - tokenBAddress: Address of token B
//   - tokenBDecimals: Decimals for token B
//   - fee: Fee tier (500 for 0.05%, 3000 for 0.3%, 10000 for 1%)
//
// The pool uses Uniswap V3's concentrated liquidity model where liquidity providers
// can specify price ranges for their capital.
func NewPool(
	poolID string,
	tokenAAddress common.Address,
	tokenADecimals uint,
	tokenBAddress common.Address,
	tokenBDecimals uint,
	fee constants.FeeAmount,
) (*Pool, error) {
	// Validate inputs
	if poolID == "" {
		return nil, errors.New("poolID cannot be empty")
	}

	// Create token instances using the SDK
	// Chain ID is set to 1 (mainnet) but could be parameterized if needed
	tokenA := core.NewToken(1, tokenAAddress, tokenADecimals, "", "")
	tokenB := core.NewToken(1, tokenBAddress, tokenBDecimals, "", "")

	// Get tick spacing for the fee tier
	tickSpacing, ok := constants.TickSpacings[fee]
	if !ok {
		return nil, fmt.Errorf("invalid fee amount: %d", fee)
	}

	initialSqrtPrice, err := tickmath.TickToSqrtPriceX64(0)
	if err != nil {
		return nil, fmt.Errorf("initializing core pool: %w", err)
	}
	corePool, err := clmmpool.New(clmmpool.Config{
		Token0:      tokenAAddress,
		Token1:      tokenBAddress,
		FeePPM:      uint32(fee),
		TickSpacing: int32(tickSpacing),
	}, initialSqrtPrice)
	if err != nil {
		return nil, fmt.Errorf("initializing core pool: %w", err)
	}

	return &Pool{
		poolID:      poolID,
		tokenA:      tokenA,
		tokenB:      tokenB,
		fee:         fee,
		tickSpacing: tickSpacing,
		core:        corePool,
	}, nil
}

// SetActiveRange configures the tick range AddLiquidity deposits into. A
// concentrated liquidity position is meaningless without a range, and the
// generic LiquidityPool interface has no room for one in AddLiquidity's
// signature — callers (typically a strategy) set it once per intended
// deposit, mirroring how the reference pool.go leaves range selection to
// "the strategy deciding the range".
func (p *Pool) SetActiveRange(tickLower, tickUpper int32) error {
	if tickLower >= tickUpper {
		return ErrInvalidTickRange
	}
	if tickLower < clmmpool.MinTick || tickUpper > clmmpool.MaxTick {
		return fmt.Errorf("tick out of bounds [%d, %d]: %w", clmmpool.MinTick, clmmpool.MaxTick, ErrInvalidPoolParams)
	}
	if tickLower%int32(p.tickSpacing) != 0 || tickUpper%int32(p.tickSpacing) != 0 {
		return fmt.Errorf("tick not aligned to spacing %d: %w", p.tickSpacing, ErrInvalidPoolParams)
	}
	p.tickLower = tickLower
	p.tickUpper = tickUpper
	p.hasActiveRange = true
	return nil
}

// Mechanism returns the mechanism type identifier.
func (p *Pool) Mechanism() mechanisms.MechanismType {
	return mechanisms.MechanismTypeLiquidityPool
}

// Venue returns the venue identifier (could be "uniswap-v3", "pancakeswap-v3", etc.)
func (p *Pool) Venue() string {
	return "uniswap-v3"
}

// Calculate computes the current state of the pool given the parameters.
//
// Required metadata fields:
//   - "current_tick" (int): Current tick of the pool
//   - "sqrt_price_x96" (string): Current sqrt price in Q64.96 format
//   - "liquidity" (string): Current liquidity
//
// Returns pool state including spot price, liquidity, and fees.
func (p *Pool) Calculate(ctx context.Context, params mechanisms.PoolParams) (mechanisms.PoolState, error) {
	// Extract required metadata
	currentTick, ok := params.Metadata["current_tick"].(int)
	if !ok {
		return mechanisms.PoolState{}, errors.New("current_tick required in metadata")
	}

	sqrtPriceX96Str, ok := params.Metadata["sqrt_price_x96"].(string)
	if !ok {
		return mechanisms.PoolState{}, errors.New("sqrt_price_x96 required in metadata")
	}

	liquidityStr, ok := params.Metadata["liquidity"].(string)
	if !ok {
		return mechanisms.PoolState{}, errors.New("liquidity required in metadata")
	}

	// Parse sqrt price
	sqrtPriceX96, ok := new(big.Int).SetString(sqrtPriceX96Str, 10)
	if !ok {
		return mechanisms.PoolState{}, errors.New("invalid sqrt_price_x96 format")
	}

	// Parse liquidity
	liquidity, ok := new(big.Int).SetString(liquidityStr, 10)
	if !ok {
		return mechanisms.PoolState{}, errors.New("invalid liquidity format")
	}

	// Calculate spot price from sqrt price
	// price = (sqrtPriceX96 / 2^96)^2
	q96 := new(big.Int).Exp(big.NewInt(2), big.NewInt(96), nil)
	sqrtPrice := new(big.Float).Quo(
		new(big.Float).SetInt(sqrtPriceX96),
		new(big.Float).SetInt(q96),
	)

	// Square to get price
	priceFloat := new(big.Float).Mul(sqrtPrice, sqrtPrice)

	// Adjust for decimals: price * 10^(tokenB.decimals - tokenA.decimals)
	decimalAdjustment := new(big.Int).Exp(
		big.NewInt(10),
		big.NewInt(int64(p.tokenB.Decimals())-int64(p.tokenA.Decimals())),
		nil,
	)
	adjustedPrice := new(big.Float).Mul(priceFloat, new(big.Float).SetInt(decimalAdjustment))

	// Convert to primitives.Price
	priceRat, _ := adjustedPrice.Rat(nil)
	priceDec, err := primitives.NewDecimalFromString(priceRat.FloatString(18))
	if err != nil {
		return mechanisms.PoolState{}, fmt.Errorf("invalid price decimal: %w", err)
	}
	spotPrice, err := primitives.NewPrice(priceDec)
	if err != nil {
		return mechanisms.PoolState{}, fmt.Errorf("invalid spot price: %w", err)
	}

	// Convert liquidity to Amount
	liquidityDec, err := primitives.NewDecimalFromString(liquidity.String())
	if err != nil {
		return mechanisms.PoolState{}, fmt.Errorf("invalid liquidity decimal: %w", err)
	}
	liquidityAmount, err := primitives.NewAmount(liquidityDec)
	if err != nil {
		return mechanisms.PoolState{}, fmt.Errorf("invalid liquidity: %w", err)
	}

	return mechanisms.PoolState{
		SpotPrice:          spotPrice,
		Liquidity:          liquidityAmount,
		EffectiveLiquidity: liquidityAmount,
		AccumulatedFeesA:   primitives.ZeroAmount(),
		AccumulatedFeesB:   primitives.ZeroAmount(),
		Metadata: map[string]interface{}{
			"current_tick":   currentTick,
			"sqrt_price_x96": sqrtPriceX96Str,
			"tick_spacing":   p.tickSpacing,
		},
	}, nil
}

// AddLiquidity deposits amounts.AmountA/AmountB into the range set by the
// most recent SetActiveRange call, using the same liquidity-for-amounts
// math the rest of the engine uses (pkg/clmm/liquiditymath) against the
// core pool's current price, then mints the resulting liquidity into the
// core pool under this Pool's poolID as owner.
//
// The returned PoolPosition.Metadata mirrors RemoveLiquidity's expectations
// exactly ("tick_lower"/"tick_upper" as int, "sqrt_price_x96" as a Q96
// decimal string, "liquidity" as a decimal string) so a position minted here
// can be handed straight back to RemoveLiquidity.
func (p *Pool) AddLiquidity(ctx context.Context, amounts mechanisms.TokenAmounts) (mechanisms.PoolPosition, error) {
	if !p.hasActiveRange {
		return mechanisms.PoolPosition{}, ErrTickRangeNotSet
	}

	amount0, err := decimalStringToU128(amounts.AmountA.String())
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid amountA: %w", err)
	}
	amount1, err := decimalStringToU128(amounts.AmountB.String())
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid amountB: %w", err)
	}

	sqrtLower, err := tickmath.TickToSqrtPriceX64(p.tickLower)
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid tickLower: %w", err)
	}
	sqrtUpper, err := tickmath.TickToSqrtPriceX64(p.tickUpper)
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid tickUpper: %w", err)
	}

	liquidity, err := liquiditymath.LiquidityForAmounts(p.core.SqrtPriceX64, sqrtLower, sqrtUpper, amount0, amount1)
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("computing liquidity for amounts: %w", err)
	}
	if liquidity.IsZero() {
		return mechanisms.PoolPosition{}, ErrInsufficientLiquidity
	}

	deposited0, deposited1, err := p.core.Mint(p.poolID, p.tickLower, p.tickUpper, liquidity)
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("minting liquidity: %w", err)
	}

	amountADec, err := primitives.NewDecimalFromString(deposited0.Big().String())
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid deposited amount0: %w", err)
	}
	amountA, err := primitives.NewAmount(amountADec)
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid deposited amount0: %w", err)
	}
	amountBDec, err := primitives.NewDecimalFromString(deposited1.Big().String())
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid deposited amount1: %w", err)
	}
	amountB, err := primitives.NewAmount(amountBDec)
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid deposited amount1: %w", err)
	}

	liquidityDec, err := primitives.NewDecimalFromString(liquidity.Big().String())
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid liquidity decimal: %w", err)
	}
	liquidityAmount, err := primitives.NewAmount(liquidityDec)
	if err != nil {
		return mechanisms.PoolPosition{}, fmt.Errorf("invalid liquidity amount: %w", err)
	}

	// sqrt_price_x96 must carry the Q96 convention RemoveLiquidity expects;
	// the core pool stores sqrt price in Q64.64, so shift left 32 bits.
	sqrtPriceX96 := new(big.Int).Lsh(p.core.SqrtPriceX64.Big(), 32)

	return mechanisms.PoolPosition{
		PoolID:    p.poolID,
		Liquidity: liquidityAmount,
		TokensDeposited: mechanisms.TokenAmounts{
			AmountA: amountA,
			AmountB: amountB,
		},
		Metadata: map[string]interface{}{
			"tick_lower":     int(p.tickLower),
			"tick_upper":     int(p.tickUpper),
			"liquidity":      liquidity.Big().String(),
			"sqrt_price_x96": sqrtPriceX96.String(),
		},
	}, nil
}

// decimalStringToU128 parses a base-10 decimal string (as produced by
// primitives.Amount.String) into a U128, matching the conversion pattern
// RemoveLiquidity uses in the other direction.
func decimalStringToU128(s string) (bigmath.U128, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return bigmath.Zero, fmt.Errorf("invalid decimal amount: %q", s)
	}
	u, overflow := bigmath.FromBigInt(v)
	if overflow {
		return bigmath.Zero, fmt.Errorf("amount %q overflows u128", s)
	}
	return u, nil
}

// RemoveLiquidity simulates removing liquidity from the pool.
//
// Returns the token amounts that would be withdrawn for the given position.
func (p *Pool) RemoveLiquidity(ctx context.Context, position mechanisms.PoolPosition) (mechanisms.TokenAmounts, error) {
	// Extract position information
	liquidityStr, ok := position.Metadata["liquidity"].(string)
	if !ok {
		return mechanisms.TokenAmounts{}, errors.New("liquidity required in position metadata")
	}

	tickLower, ok := position.Metadata["tick_lower"].(int)
	if !ok {
		return mechanisms.TokenAmounts{}, errors.New("tick_lower required in position metadata")
	}

	tickUpper, ok := position.Metadata["tick_upper"].(int)
	if !ok {
		return mechanisms.TokenAmounts{}, errors.New("tick_upper required in position metadata")
	}

	sqrtPriceX96Str, ok := position.Metadata["sqrt_price_x96"].(string)
	if !ok {
		return mechanisms.TokenAmounts{}, errors.New("sqrt_price_x96 required in position metadata")
	}

	// Parse values
	liquidity, ok := new(big.Int).SetString(liquidityStr, 10)
	if !ok {
		return mechanisms.TokenAmounts{}, errors.New("invalid liquidity format")
	}

	sqrtPriceX96, ok := new(big.Int).SetString(sqrtPriceX96Str, 10)
	if !ok {
		return mechanisms.TokenAmounts{}, errors.New("invalid sqrt_price_x96 format")
	}

	// Calculate sqrt prices at tick boundaries
	sqrtPriceLower, err := utils.GetSqrtRatioAtTick(tickLower)
	if err != nil {
		return mechanisms.TokenAmounts{}, fmt.Errorf("invalid tickLower: %w", err)
	}
	sqrtPriceUpper, err := utils.GetSqrtRatioAtTick(tickUpper)
	if err != nil {
		return mechanisms.TokenAmounts{}, fmt.Errorf("invalid tickUpper: %w", err)
	}

	// Clamp the current price into the range: below it the position holds
	// only token0, above it only token1.
	if sqrtPriceX96.Cmp(sqrtPriceLower) < 0 {
		sqrtPriceX96 = sqrtPriceLower
	} else if sqrtPriceX96.Cmp(sqrtPriceUpper) > 0 {
		sqrtPriceX96 = sqrtPriceUpper
	}

	// Calculate token amounts using SDK utilities
	// This uses the Uniswap V3 formulas to determine how many tokens to return
	// GetAmount0Delta calculates: amount0 = L * (sqrt(Pu) - sqrt(P)) / (sqrt(P) * sqrt(Pu))
	// GetAmount1Delta calculates: amount1 = L * (sqrt(P) - sqrt(Pl))
	amount0 := utils.GetAmount0Delta(
		sqrtPriceX96,
		sqrtPriceUpper,
		liquidity,
		false, // roundUp = false for removals
	)

	amount1 := utils.GetAmount1Delta(
		sqrtPriceLower,
		sqrtPriceX96,
		liquidity,
		false, // roundUp = false for removals
	)

	// Convert to our Amount types
	amount0Dec, err := primitives.NewDecimalFromString(amount0.String())
	if err != nil {
		return mechanisms.TokenAmounts{}, fmt.Errorf("invalid amount0 decimal: %w", err)
	}
	amountA, err := primitives.NewAmount(amount0Dec)
	if err != nil {
		return mechanisms.TokenAmounts{}, fmt.Errorf("invalid amount0: %w", err)
	}

	amount1Dec, err := primitives.NewDecimalFromString(amount1.String())
	if err != nil {
		return mechanisms.TokenAmounts{}, fmt.Errorf("invalid amount1 decimal: %w", err)
	}
	amountB, err := primitives.NewAmount(amount1Dec)
	if err != nil {
		return mechanisms.TokenAmounts{}, fmt.Errorf("invalid amount1: %w", err)
	}

	return mechanisms.TokenAmounts{
		AmountA: amountA,
		AmountB: amountB,
	}, nil
}

// CalculatePositionValue calculates the current value of a concentrated liquidity position.
//
// This is a helper function that computes the value of a position given current market conditions.
// It accounts for:
//   - Current token amounts in the position
//   - Accumulated fees
//   - Impermanent loss/gain
func (p *Pool) CalculatePositionValue(
	position mechanisms.PoolPosition,
	currentPriceA primitives.Price,
	currentPriceB primitives.Price,
) (primitives.Amount, error) {
	// Get the tokens that would be withdrawn
	amounts, err := p.RemoveLiquidity(context.Background(), position)
	if err != nil {
		return primitives.ZeroAmount(), err
	}

	// Calculate value: amountA * priceA + amountB * priceB
	valueA := amounts.AmountA.MulPrice(currentPriceA)
	valueB := amounts.AmountB.MulPrice(currentPriceB)

	totalValue := valueA.Add(valueB)
	return totalValue, nil
}
