// Package vpm implements the virtual position manager (component C4): a
// wallet of token balances and a set of simulator-side "virtual" positions
// layered on top of a ground-truth pool.Pool. Unlike the pool's own
// position table (keyed by owner+range, one entry per distinct range),
// virtual positions are independently addressable even when two share the
// same range, which is what lets a backtest track several strategies'
// positions separately against one real pool.
package vpm

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/clmmerr"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/liquiditymath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/pool"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/tickmath"
)

// maxU128 is used as the "collect everything owed" request amount: the
// largest value a U128 can hold, so Collect always caps at what is actually
// owed rather than at this request.
var maxU128 = func() bigmath.U128 {
	v := new(big.Int).Lsh(big.NewInt(1), 128)
	v.Sub(v, big.NewInt(1))
	u, _ := bigmath.FromBigInt(v)
	return u
}()

// minTick and maxTick bound the ranges CreatePosition accepts, a narrower
// clamp than the pool's own ±887,272 because ordinary positions never use
// the pool extremes (spec.md §4.4).
const (
	minTick = -443636
	maxTick = 443636
)

// Wallet tracks per-token balances available to open new positions or
// receive withdrawals. It never goes negative: Debit fails with
// ErrInsufficientBalance rather than allowing an overdraft.
type Wallet struct {
	balances map[common.Address]bigmath.U128

	// CostSwap0/1 and CostSlippage0/1 are the cumulative swap fee and
	// slippage costs paid, in each token, across every CreatePosition call
	// that opted into the optional swap (spec.md §3's VPM Wallet cumulative
	// cost/slippage fields).
	CostSwap0     bigmath.U128
	CostSwap1     bigmath.U128
	CostSlippage0 bigmath.U128
	CostSlippage1 bigmath.U128
}

// NewWallet returns an empty wallet.
func NewWallet() *Wallet {
	return &Wallet{balances: make(map[common.Address]bigmath.U128)}
}

// Balance returns the current balance of token, zero if never funded.
func (w *Wallet) Balance(token common.Address) bigmath.U128 {
	if b, ok := w.balances[token]; ok {
		return b
	}
	return bigmath.Zero
}

// Credit increases token's balance by amount.
func (w *Wallet) Credit(token common.Address, amount bigmath.U128) {
	if amount.IsZero() {
		return
	}
	sum := new(big.Int).Add(w.Balance(token).Big(), amount.Big())
	u, overflow := bigmath.FromBigInt(sum)
	if overflow {
		// A wallet balance overflowing 128 bits indicates a scale far
		// outside anything this engine models; fail loud rather than wrap.
		panic("vpm: wallet balance overflowed 128 bits")
	}
	w.balances[token] = u
}

// Debit decreases token's balance by amount, failing ErrInsufficientBalance
// without mutating state if the balance is insufficient.
func (w *Wallet) Debit(token common.Address, amount bigmath.U128) error {
	if amount.IsZero() {
		return nil
	}
	balance := w.Balance(token)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("vpm: debiting %s of %s: %w", amount.String(), token.Hex(), clmmerr.ErrInsufficientBalance)
	}
	w.balances[token], _ = bigmath.FromBigInt(new(big.Int).Sub(balance.Big(), amount.Big()))
	return nil
}

// accrueSwapCost adds a CreatePosition call's swap fee and slippage to the
// wallet's cumulative cost totals.
func (w *Wallet) accrueSwapCost(swapFee0, swapFee1, slip0, slip1 bigmath.U128) {
	w.CostSwap0 = addU128(w.CostSwap0, swapFee0)
	w.CostSwap1 = addU128(w.CostSwap1, swapFee1)
	w.CostSlippage0 = addU128(w.CostSlippage0, slip0)
	w.CostSlippage1 = addU128(w.CostSlippage1, slip1)
}

// VirtualPosition is a simulator-owned liquidity position backed by a
// ground-truth pool.Pool position keyed by the position's own ID (so
// distinct virtual positions over the same range never collide in the
// pool's position table).
type VirtualPosition struct {
	ID        string
	TickLower int32
	TickUpper int32
	Liquidity bigmath.U128

	// TokensOwed0/1 mirror the pool's own position table as of the last
	// call that refreshed them: CreditPositionFees copies the pool's owed
	// balances after crediting, and CollectAllPositionFees resets them to
	// zero after collecting; they are not kept continuously in sync.
	TokensOwed0 bigmath.U128
	TokensOwed1 bigmath.U128

	// SwapCost0/1 and Slippage0/1 are the fee and slippage this position
	// paid, in its own tokens, to the single optional swap CreatePosition
	// ran to maximize its liquidity (liquiditymath.MaxLiquidityResult's
	// SwapFee0/1 and Slip0/1).
	SwapCost0 bigmath.U128
	SwapCost1 bigmath.U128
	Slippage0 bigmath.U128
	Slippage1 bigmath.U128

	OpenTime int64
	ClosedAt int64 // 0 while open; an event ordinal once closed.
}

// Manager owns a wallet and a set of virtual positions against a single
// pool, mirroring the reference simulator's TokenPositionManager but keyed
// by a deterministic string ID rather than an NFT tokenID.
type Manager struct {
	pool   *pool.Pool
	wallet *Wallet

	token0 common.Address
	token1 common.Address

	open            map[string]*VirtualPosition
	closed          []VirtualPosition
	nextPositionNum uint64

	// SimulateErrors, when true, makes every mutating call fail
	// deterministically with ErrSimulatedError except the FaultEveryN-th in
	// each cycle, which succeeds and resets the cycle — "every attempt
	// except the Nth raises SimulatedError" — for exercising a strategy's
	// error-handling and retry paths.
	SimulateErrors bool
	FaultEveryN    uint64
	opCounter      uint64

	// SlippagePPM is the configurable percentage (in parts-per-million of
	// the swap's output) CreatePosition's optional swap loses to slippage
	// (spec.md §4.2 step 3). Zero disables slippage modeling entirely.
	SlippagePPM uint32
}

// NewManager constructs a virtual position manager over p, tracking
// balances for p's two tokens.
func NewManager(p *pool.Pool, token0, token1 common.Address) *Manager {
	return &Manager{
		pool:   p,
		wallet: NewWallet(),
		token0: token0,
		token1: token1,
		open:   make(map[string]*VirtualPosition),
	}
}

// Wallet returns the manager's wallet.
func (m *Manager) Wallet() *Wallet { return m.wallet }

// NewPositionID returns the next deterministic position identifier:
// "pos_0", "pos_1", and so on, in creation order.
func (m *Manager) NewPositionID() string {
	id := fmt.Sprintf("pos_%d", m.nextPositionNum)
	m.nextPositionNum++
	return id
}

// checkFault implements deterministic fault injection: every call except
// the FaultEveryN-th in a cycle raises ErrSimulatedError, and the Nth call
// both succeeds and resets the cycle.
func (m *Manager) checkFault(op string) error {
	if !m.SimulateErrors || m.FaultEveryN == 0 {
		return nil
	}
	m.opCounter++
	if m.opCounter%m.FaultEveryN != 0 {
		return fmt.Errorf("vpm: %s: %w", op, clmmerr.ErrSimulatedError)
	}
	return nil
}

// CreatePosition opens a virtual position over [tickLower, tickUpper],
// sizing its liquidity from amt0Budget/amt1Budget via liquiditymath's
// max-liquidity-with-optional-swap optimizer (spec.md §4.2, §4.4): the
// budget is debited from the wallet up front, the optimizer's simulated
// swap fee and slippage are recorded on both the position and the wallet's
// cumulative cost totals, and the optimizer's actual physical remainder is
// credited back. On any failure (invalid range, insufficient balance,
// sizing error, fault injection) the wallet is restored to its pre-call
// balance and no pool-side mint occurs.
func (m *Manager) CreatePosition(id string, tickLower, tickUpper int32, amt0Budget, amt1Budget bigmath.U128, timestamp int64) (*VirtualPosition, error) {
	if err := m.checkFault("CreatePosition"); err != nil {
		return nil, err
	}

	if tickLower < minTick || tickUpper > maxTick {
		return nil, fmt.Errorf("vpm: create position: range [%d,%d] exceeds VPM bound [%d,%d]: %w", tickLower, tickUpper, minTick, maxTick, clmmerr.ErrInvalidTick)
	}

	sqrtLower, err := tickmath.TickToSqrtPriceX64(tickLower)
	if err != nil {
		return nil, fmt.Errorf("vpm: create position: %w", err)
	}
	sqrtUpper, err := tickmath.TickToSqrtPriceX64(tickUpper)
	if err != nil {
		return nil, fmt.Errorf("vpm: create position: %w", err)
	}

	if err := m.wallet.Debit(m.token0, amt0Budget); err != nil {
		return nil, err
	}
	if err := m.wallet.Debit(m.token1, amt1Budget); err != nil {
		m.wallet.Credit(m.token0, amt0Budget)
		return nil, err
	}

	result, err := liquiditymath.MaxLiquidityWithOptionalSwap(m.pool.SqrtPriceX64, sqrtLower, sqrtUpper, amt0Budget, amt1Budget, m.pool.Config.FeePPM, m.SlippagePPM)
	if err != nil {
		m.wallet.Credit(m.token0, amt0Budget)
		m.wallet.Credit(m.token1, amt1Budget)
		return nil, fmt.Errorf("vpm: create position: sizing liquidity: %w", err)
	}

	amount0, amount1, err := m.pool.Mint(id, tickLower, tickUpper, result.Liquidity)
	if err != nil {
		m.wallet.Credit(m.token0, amt0Budget)
		m.wallet.Credit(m.token1, amt1Budget)
		return nil, fmt.Errorf("vpm: create position: %w", err)
	}

	m.wallet.accrueSwapCost(result.SwapFee0, result.SwapFee1, result.Slip0, result.Slip1)
	m.wallet.Credit(m.token0, result.ActualRemain0)
	m.wallet.Credit(m.token1, result.ActualRemain1)

	vp := &VirtualPosition{
		ID:        id,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: result.Liquidity,
		SwapCost0: result.SwapFee0,
		SwapCost1: result.SwapFee1,
		Slippage0: result.Slip0,
		Slippage1: result.Slip1,
		OpenTime:  timestamp,
	}
	m.open[id] = vp

	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.Debugf("vpm create position: id=%s range=[%d,%d] liquidity=%s amount0=%s amount1=%s swapFee0=%s swapFee1=%s slip0=%s slip1=%s",
			id, tickLower, tickUpper, result.Liquidity.String(), amount0.String(), amount1.String(), result.SwapFee0.String(), result.SwapFee1.String(), result.Slip0.String(), result.Slip1.String())
	}

	return vp, nil
}

// ClosePosition burns all liquidity from the position, collects every owed
// token (principal plus accrued fees), credits the wallet, and moves the
// position to closed history. eventOrdinal is recorded as the position's
// close marker (spec.md's deterministic event-ordinal convention).
func (m *Manager) ClosePosition(id string, eventOrdinal int64) (amount0, amount1 bigmath.U128, err error) {
	if err := m.checkFault("ClosePosition"); err != nil {
		return bigmath.U128{}, bigmath.U128{}, err
	}

	vp, ok := m.open[id]
	if !ok {
		return bigmath.U128{}, bigmath.U128{}, clmmerr.ErrPositionMissing
	}

	if !vp.Liquidity.IsZero() {
		if _, _, err := m.pool.Burn(id, vp.TickLower, vp.TickUpper, vp.Liquidity); err != nil {
			return bigmath.U128{}, bigmath.U128{}, fmt.Errorf("vpm: close position: %w", err)
		}
	}

	amount0, amount1, err = m.pool.Collect(id, vp.TickLower, vp.TickUpper, maxU128, maxU128)
	if err != nil {
		return bigmath.U128{}, bigmath.U128{}, fmt.Errorf("vpm: collect on close: %w", err)
	}

	m.wallet.Credit(m.token0, amount0)
	m.wallet.Credit(m.token1, amount1)

	vp.Liquidity = bigmath.Zero
	vp.ClosedAt = eventOrdinal
	m.closed = append(m.closed, *vp)
	delete(m.open, id)

	if logrus.GetLevel() >= logrus.DebugLevel {
		logrus.Debugf("vpm close position: id=%s amount0=%s amount1=%s", id, amount0.String(), amount1.String())
	}

	return amount0, amount1, nil
}

// CloseAllPositions closes every open position, in ascending ID order for
// determinism, stopping at the first error (earlier closes are not rolled
// back: each ClosePosition call already committed atomically).
func (m *Manager) CloseAllPositions(eventOrdinal int64) error {
	for _, id := range m.openIDsSorted() {
		if _, _, err := m.ClosePosition(id, eventOrdinal); err != nil {
			return err
		}
	}
	return nil
}

// CollectAllPositionFees rolls every open position's fee growth forward
// (without changing liquidity) and sweeps the resulting owed balances into
// the wallet, returning the total collected per token.
func (m *Manager) CollectAllPositionFees() (total0, total1 bigmath.U128, err error) {
	if err := m.checkFault("CollectAllPositionFees"); err != nil {
		return bigmath.U128{}, bigmath.U128{}, err
	}

	total0, total1 = bigmath.Zero, bigmath.Zero
	for _, id := range m.openIDsSorted() {
		vp := m.open[id]
		if err := m.pool.Poke(id, vp.TickLower, vp.TickUpper); err != nil {
			return bigmath.U128{}, bigmath.U128{}, fmt.Errorf("vpm: poke %s: %w", id, err)
		}
		a0, a1, err := m.pool.Collect(id, vp.TickLower, vp.TickUpper, maxU128, maxU128)
		if err != nil {
			return bigmath.U128{}, bigmath.U128{}, fmt.Errorf("vpm: collect %s: %w", id, err)
		}
		m.wallet.Credit(m.token0, a0)
		m.wallet.Credit(m.token1, a1)
		total0 = addU128(total0, a0)
		total1 = addU128(total1, a1)

		// Collect requests the maximum owed, so nothing remains outstanding.
		vp.TokensOwed0 = bigmath.Zero
		vp.TokensOwed1 = bigmath.Zero
	}
	return total0, total1, nil
}

func addU128(a, b bigmath.U128) bigmath.U128 {
	u, overflow := bigmath.FromBigInt(new(big.Int).Add(a.Big(), b.Big()))
	if overflow {
		panic("vpm: fee total overflowed 128 bits")
	}
	return u
}

func (m *Manager) openIDsSorted() []string {
	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Totals is the wallet balance plus every open position's current
// liquidity value, at the pool's current price.
type Totals struct {
	Wallet0    bigmath.U128
	Wallet1    bigmath.U128
	Deployed0  bigmath.U128
	Deployed1  bigmath.U128
}

// GetTotals reports the manager's full token0/token1 exposure: idle wallet
// balances plus the value of liquidity currently deployed across all open
// positions, valued at the pool's current sqrt price.
func (m *Manager) GetTotals() (Totals, error) {
	totals := Totals{
		Wallet0:   m.wallet.Balance(m.token0),
		Wallet1:   m.wallet.Balance(m.token1),
		Deployed0: bigmath.Zero,
		Deployed1: bigmath.Zero,
	}

	snapshot := m.pool.Snapshot()

	for _, id := range m.openIDsSorted() {
		vp := m.open[id]
		sqrtLower, err := tickmath.TickToSqrtPriceX64(vp.TickLower)
		if err != nil {
			return Totals{}, err
		}
		sqrtUpper, err := tickmath.TickToSqrtPriceX64(vp.TickUpper)
		if err != nil {
			return Totals{}, err
		}
		a0, a1, err := liquiditymath.AmountsForLiquidity(snapshot.SqrtPriceX64, sqrtLower, sqrtUpper, vp.Liquidity)
		if err != nil {
			return Totals{}, err
		}
		totals.Deployed0 = addU128(totals.Deployed0, a0)
		totals.Deployed1 = addU128(totals.Deployed1, a1)
	}

	return totals, nil
}

// OpenPositions returns a snapshot of every currently open virtual
// position, sorted by ID.
func (m *Manager) OpenPositions() []VirtualPosition {
	ids := m.openIDsSorted()
	out := make([]VirtualPosition, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.open[id])
	}
	return out
}

// ClosedPositions returns the historical record of every position this
// manager has closed, in the order they were closed.
func (m *Manager) ClosedPositions() []VirtualPosition {
	out := make([]VirtualPosition, len(m.closed))
	copy(out, m.closed)
	return out
}

// ActivePositions returns every open virtual position whose range covers
// currentTick, i.e. the positions that would have been earning fees on a
// swap that left the pool at that tick. Used by the swap-event ingestion
// adapter to decide who shares an event's reported fee.
func (m *Manager) ActivePositions(currentTick int32) []VirtualPosition {
	out := make([]VirtualPosition, 0, len(m.open))
	for _, id := range m.openIDsSorted() {
		vp := m.open[id]
		if vp.TickLower <= currentTick && currentTick < vp.TickUpper {
			out = append(out, *vp)
		}
	}
	return out
}

// CreditPositionFees attributes amount0/amount1 directly to an open virtual
// position's owed-token balance via the underlying pool's CreditFees, without
// touching liquidity or the fee-growth-inside snapshot. Used by the
// swap-event ingestion adapter (component C5) to distribute an event's
// ground-truth fee across the positions active when it occurred.
func (m *Manager) CreditPositionFees(id string, amount0, amount1 bigmath.U128) error {
	vp, ok := m.open[id]
	if !ok {
		return clmmerr.ErrPositionMissing
	}
	if err := m.pool.CreditFees(id, vp.TickLower, vp.TickUpper, amount0, amount1); err != nil {
		return err
	}
	position, err := m.pool.PositionView(id, vp.TickLower, vp.TickUpper)
	if err != nil {
		return err
	}
	vp.TokensOwed0 = position.TokensOwed0
	vp.TokensOwed1 = position.TokensOwed1
	return nil
}
