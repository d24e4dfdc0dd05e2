// Package ingestion implements the swap-event ingestion adapter (component
// C5): it turns an external, ground-truth SwapEvent into pool and virtual
// position state changes. Unlike a strategy-driven pool.Swap, the adapter
// never re-derives a swap's trajectory through the tick-crossing state
// machine — it trusts the event's reported post-state and resyncs directly,
// the same trust boundary a market-data replay draws between "what the
// chain did" and "how we choose to model it" (spec.md §4.5).
package ingestion

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/clmmerr"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/pool"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/vpm"
)

// SwapEvent is the decoder-agnostic wire shape an external swap feed must
// supply. Transport and encoding are out of scope; the adapter accepts
// anything that structurally matches this.
type SwapEvent struct {
	Timestamp  int64
	PoolID     string
	AmountIn   bigmath.U128
	AmountOut  bigmath.U128
	ZeroForOne bool
	FeeAmount  bigmath.U128
	Liquidity  bigmath.U128 // post-event pool liquidity
	Tick       int32        // post-event tick
	ReserveA   bigmath.U128
	ReserveB   bigmath.U128

	SqrtPriceBeforeX64 bigmath.U128
	SqrtPriceAfterX64  bigmath.U128
}

// Feed is the minimal source an Adapter reads events from, leaving the
// actual decoding (JSON, a DB cursor, a file, a websocket) to the caller.
// Next returns (event, false, nil) once the feed is exhausted.
type Feed interface {
	Next() (SwapEvent, bool, error)
}

// Adapter resyncs one pool.Pool and attributes fees to one vpm.Manager's
// virtual positions as events arrive. It is not safe for concurrent use,
// matching the single-writer-per-pool assumption the rest of the core makes.
type Adapter struct {
	pool *pool.Pool
	vpm  *vpm.Manager

	lastTimestamp int64
	sequence      uint64
}

// eventOrdinalNamespace is an arbitrary, fixed namespace UUID used only to
// derive deterministic event ordinals: the same (timestamp, poolID,
// sequence) tuple always hashes to the same ordinal, so replaying an
// identical event log reproduces byte-identical ordinals without touching
// the wall clock or a random source.
var eventOrdinalNamespace = uuid.MustParse("c46b1a13-2e2f-4c77-9f2e-2f6a0a2d6c1e")

// NewAdapter wires an ingestion adapter to the pool and virtual position
// manager it will resync and credit, respectively.
func NewAdapter(p *pool.Pool, m *vpm.Manager) *Adapter {
	return &Adapter{pool: p, vpm: m}
}

// Apply processes one swap event: it first resyncs the pool's price, tick,
// and liquidity to the event's reported post-state, then attributes the
// event's fee to the virtual positions active at that post-state (spec.md
// §4.5 steps 1-2) — the fee share denominator is the pool's liquidity
// *after* resync, i.e. the event's own reported liquidity. It returns a
// deterministic event ordinal derived from the event's timestamp, pool ID,
// and ingestion sequence number, for breaking timestamp ties downstream.
func (a *Adapter) Apply(event SwapEvent) (uuid.UUID, error) {
	if event.Timestamp < a.lastTimestamp {
		return uuid.UUID{}, fmt.Errorf("ingestion: event at %d precedes last processed %d: %w", event.Timestamp, a.lastTimestamp, clmmerr.ErrEventOutOfOrder)
	}

	a.pool.SqrtPriceX64 = event.SqrtPriceAfterX64
	a.pool.TickCurrent = event.Tick
	a.pool.Liquidity = event.Liquidity

	if err := a.attributeFees(event, event.Liquidity); err != nil {
		return uuid.UUID{}, err
	}

	a.lastTimestamp = event.Timestamp
	ordinal := uuid.NewSHA1(eventOrdinalNamespace, []byte(fmt.Sprintf("%d|%s|%d", event.Timestamp, event.PoolID, a.sequence)))
	a.sequence++

	return ordinal, nil
}

// attributeFees splits event.FeeAmount across every virtual position active
// at the post-event tick (its range contains event.Tick, with nonzero
// liquidity — this also guarantees it overlapped the span the swap crossed,
// since that span has event.Tick as one endpoint), weighted by each
// position's share of the pool's post-resync liquidity (poolLiquidity is the
// event's own reported liquidity). Floor division on each share guarantees
// the total distributed never exceeds event.FeeAmount; the running-sum clamp
// below is a defensive backstop against that invariant, not the primary
// mechanism.
func (a *Adapter) attributeFees(event SwapEvent, poolLiquidity bigmath.U128) error {
	if event.FeeAmount.IsZero() || poolLiquidity.IsZero() {
		return nil
	}

	distributed := new(big.Int)
	feeAmount := event.FeeAmount.Big()

	for _, vp := range a.vpm.ActivePositions(event.Tick) {
		if vp.Liquidity.IsZero() {
			continue
		}

		share, err := bigmath.MulDivFloor(event.FeeAmount, vp.Liquidity, poolLiquidity)
		if err != nil {
			return fmt.Errorf("ingestion: computing fee share for %s: %w", vp.ID, err)
		}
		shareBig := share.Big()
		if shareBig.Sign() == 0 {
			continue
		}
		if new(big.Int).Add(distributed, shareBig).Cmp(feeAmount) > 0 {
			shareBig = new(big.Int).Sub(feeAmount, distributed)
		}
		if shareBig.Sign() <= 0 {
			continue
		}
		clamped, overflow := bigmath.FromBigInt(shareBig)
		if overflow {
			return fmt.Errorf("ingestion: fee share for %s: %w", vp.ID, clmmerr.ErrMathDomain)
		}

		var amount0, amount1 bigmath.U128
		if event.ZeroForOne {
			amount0 = clamped
		} else {
			amount1 = clamped
		}
		if err := a.vpm.CreditPositionFees(vp.ID, amount0, amount1); err != nil {
			return fmt.Errorf("ingestion: crediting fee share to %s: %w", vp.ID, err)
		}
		distributed.Add(distributed, shareBig)
	}

	return nil
}
