package vpm_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/pool"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/tickmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/vpm"
)

var (
	token0 = common.HexToAddress("0x1")
	token1 = common.HexToAddress("0x2")
)

func newTestSetup(t *testing.T) (*pool.Pool, *vpm.Manager) {
	t.Helper()
	sp, err := tickmath.TickToSqrtPriceX64(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := pool.DefaultConfig(token0, token1)
	cfg.TickSpacing = 60
	p, err := pool.New(cfg, sp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := vpm.NewManager(p, token0, token1)
	return p, m
}

func TestCreatePosition_DebitsWallet(t *testing.T) {
	_, m := newTestSetup(t)
	m.Wallet().Credit(token0, bigmath.From64(10_000_000))
	m.Wallet().Credit(token1, bigmath.From64(10_000_000))

	before0 := m.Wallet().Balance(token0)
	before1 := m.Wallet().Balance(token1)

	vp, err := m.CreatePosition(m.NewPositionID(), -600, 600, bigmath.From64(1_000_000), bigmath.From64(1_000_000), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vp.ID != "pos_0" {
		t.Fatalf("expected deterministic ID pos_0, got %s", vp.ID)
	}
	if vp.OpenTime != 1 {
		t.Fatalf("expected OpenTime to be recorded, got %d", vp.OpenTime)
	}

	after0 := m.Wallet().Balance(token0)
	after1 := m.Wallet().Balance(token1)
	if after0.Cmp(before0) >= 0 || after1.Cmp(before1) >= 0 {
		t.Fatalf("expected wallet to be debited by the mint cost")
	}
}

func TestCreatePosition_InsufficientBalanceRollsBack(t *testing.T) {
	p, m := newTestSetup(t)
	// Fund only token0, not token1: an in-range mint needs both.
	m.Wallet().Credit(token0, bigmath.From64(1_000_000_000))

	_, err := m.CreatePosition(m.NewPositionID(), -600, 600, bigmath.From64(1_000_000), bigmath.From64(1_000_000), 1)
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}

	if m.Wallet().Balance(token0).Big().Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("wallet token0 balance was not restored after rollback: got %s", m.Wallet().Balance(token0).String())
	}
	if p.Liquidity.Big().Sign() != 0 {
		t.Fatalf("expected pool liquidity to be rolled back to zero, got %s", p.Liquidity.String())
	}
	if len(m.OpenPositions()) != 0 {
		t.Fatalf("expected no open positions after a rolled-back create, got %d", len(m.OpenPositions()))
	}
}

func TestCreatePosition_InvalidTickExceedsVPMBound(t *testing.T) {
	_, m := newTestSetup(t)
	m.Wallet().Credit(token0, bigmath.From64(1_000_000_000))
	m.Wallet().Credit(token1, bigmath.From64(1_000_000_000))

	_, err := m.CreatePosition(m.NewPositionID(), -443680, 443680, bigmath.From64(1_000), bigmath.From64(1_000), 1)
	if err == nil {
		t.Fatal("expected a range outside the VPM's +-443636 bound to fail")
	}
}

func TestDeterministicPositionIDs(t *testing.T) {
	_, m := newTestSetup(t)
	m.Wallet().Credit(token0, bigmath.From64(100_000_000))
	m.Wallet().Credit(token1, bigmath.From64(100_000_000))

	first, err := m.CreatePosition(m.NewPositionID(), -600, 600, bigmath.From64(1_000), bigmath.From64(1_000), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.CreatePosition(m.NewPositionID(), -1200, 1200, bigmath.From64(1_000), bigmath.From64(1_000), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != "pos_0" || second.ID != "pos_1" {
		t.Fatalf("expected pos_0/pos_1, got %s/%s", first.ID, second.ID)
	}
}

func TestClosePosition_CreditsWalletAndMovesToHistory(t *testing.T) {
	_, m := newTestSetup(t)
	m.Wallet().Credit(token0, bigmath.From64(100_000_000))
	m.Wallet().Credit(token1, bigmath.From64(100_000_000))

	vp, err := m.CreatePosition(m.NewPositionID(), -600, 600, bigmath.From64(1_000_000), bigmath.From64(1_000_000), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before0 := m.Wallet().Balance(token0)
	amount0, _, err := m.ClosePosition(vp.ID, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after0 := m.Wallet().Balance(token0)

	if after0.Big().Cmp(new(big.Int).Add(before0.Big(), amount0.Big())) != 0 {
		t.Fatalf("wallet not credited by closed position's principal")
	}
	if len(m.OpenPositions()) != 0 {
		t.Fatalf("expected the position to no longer be open")
	}
	closed := m.ClosedPositions()
	if len(closed) != 1 || closed[0].ID != vp.ID {
		t.Fatalf("expected closed history to contain %s, got %+v", vp.ID, closed)
	}
}

func TestClosePosition_UnknownIDFails(t *testing.T) {
	_, m := newTestSetup(t)
	if _, _, err := m.ClosePosition("pos_999", 1); err == nil {
		t.Fatal("expected ErrPositionMissing for an unknown position ID")
	}
}

func TestCollectAllPositionFees_SweepsAccruedFees(t *testing.T) {
	p, m := newTestSetup(t)
	m.Wallet().Credit(token0, bigmath.From64(1_000_000_000))
	m.Wallet().Credit(token1, bigmath.From64(1_000_000_000))

	if _, err := m.CreatePosition(m.NewPositionID(), -6000, 6000, bigmath.From64(10_000_000), bigmath.From64(10_000_000), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Swap(true, big.NewInt(1_000_000), nil); err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	before0 := m.Wallet().Balance(token0)
	collected0, _, err := m.CollectAllPositionFees()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if collected0.Big().Sign() <= 0 {
		t.Fatalf("expected non-zero token0 fees collected from a zeroForOne swap, got %s", collected0.String())
	}
	after0 := m.Wallet().Balance(token0)
	if after0.Big().Cmp(new(big.Int).Add(before0.Big(), collected0.Big())) != 0 {
		t.Fatal("wallet was not credited by the collected fee amount")
	}
}

func TestSimulateErrors_FailsDeterministicallyWithoutSideEffects(t *testing.T) {
	_, m := newTestSetup(t)
	m.Wallet().Credit(token0, bigmath.From64(1_000_000_000))
	m.Wallet().Credit(token1, bigmath.From64(1_000_000_000))
	m.SimulateErrors = true
	m.FaultEveryN = 2

	// Every attempt except the Nth raises SimulatedError: with N=2, the
	// first call fails and the second succeeds (and resets the cycle).
	_, err1 := m.CreatePosition(m.NewPositionID(), -600, 600, bigmath.From64(1_000), bigmath.From64(1_000), 1)
	if err1 == nil {
		t.Fatal("expected the first call to be faulted deterministically")
	}
	if len(m.OpenPositions()) != 0 {
		t.Fatalf("a faulted call must not create a position, got %d open", len(m.OpenPositions()))
	}
	_, err2 := m.CreatePosition(m.NewPositionID(), -600, 600, bigmath.From64(1_000), bigmath.From64(1_000), 2)
	if err2 != nil {
		t.Fatalf("second call should not be faulted: %v", err2)
	}
	if len(m.OpenPositions()) != 1 {
		t.Fatalf("expected exactly one open position after the Nth call succeeds, got %d", len(m.OpenPositions()))
	}

	_, err3 := m.CreatePosition(m.NewPositionID(), -600, 600, bigmath.From64(1_000), bigmath.From64(1_000), 3)
	if err3 == nil {
		t.Fatal("expected the cycle to reset and the third call to be faulted again")
	}
}

func TestCreatePosition_RecordsSwapCostAndSlippageWhenOneSidedBudgetTriggersASwap(t *testing.T) {
	_, m := newTestSetup(t)
	m.Wallet().Credit(token1, bigmath.From64(6_000_000_000))
	m.SlippagePPM = 500

	// A one-sided token1 budget over a range straddling the current price
	// (spec.md §8 scenario S5) always triggers the optional swap.
	vp, err := m.CreatePosition(m.NewPositionID(), -60, 60, bigmath.Zero, bigmath.From64(6_000_000_000), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vp.Liquidity.Big().Sign() <= 0 {
		t.Fatalf("expected positive liquidity from the swap-assisted deposit, got %s", vp.Liquidity.String())
	}
	if vp.SwapCost1.Big().Sign() <= 0 {
		t.Fatalf("expected a positive token1 swap fee recorded on the position, got %s", vp.SwapCost1.String())
	}
	if vp.Slippage0.Big().Sign() <= 0 {
		t.Fatalf("expected positive token0 slippage recorded on the position, got %s", vp.Slippage0.String())
	}

	if m.Wallet().CostSwap1.Cmp(vp.SwapCost1) != 0 {
		t.Fatalf("expected the wallet's cumulative swap cost to match the position's, got %s vs %s", m.Wallet().CostSwap1.String(), vp.SwapCost1.String())
	}
	if m.Wallet().CostSlippage0.Cmp(vp.Slippage0) != 0 {
		t.Fatalf("expected the wallet's cumulative slippage to match the position's, got %s vs %s", m.Wallet().CostSlippage0.String(), vp.Slippage0.String())
	}
}

func TestGetTotals_ReflectsWalletAndDeployedLiquidity(t *testing.T) {
	_, m := newTestSetup(t)
	m.Wallet().Credit(token0, bigmath.From64(1_000_000_000))
	m.Wallet().Credit(token1, bigmath.From64(1_000_000_000))

	if _, err := m.CreatePosition(m.NewPositionID(), -600, 600, bigmath.From64(1_000_000), bigmath.From64(1_000_000), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	totals, err := m.GetTotals()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals.Deployed0.Big().Sign() <= 0 || totals.Deployed1.Big().Sign() <= 0 {
		t.Fatalf("expected positive deployed amounts for an in-range position, got %s/%s", totals.Deployed0.String(), totals.Deployed1.String())
	}
}
