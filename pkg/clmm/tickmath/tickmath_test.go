package tickmath_test

import (
	"math/big"
	"testing"

	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/bigmath"
	"github.com/johnayoung/go-crypto-quant-toolkit/pkg/clmm/tickmath"
)

// q64 is 2^64, used throughout as the fixed point reference value.
var q64 = new(big.Int).Lsh(big.NewInt(1), 64)

func TestTickToSqrtPriceX64_Identity(t *testing.T) {
	sp, err := tickmath.TickToSqrtPriceX64(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := bigmath.FromBigInt(q64)
	if sp.Cmp(want) != 0 {
		t.Fatalf("tick 0: got %s, want %s", sp.String(), want.String())
	}
}

func TestSqrtPriceX64ToTick_Identity(t *testing.T) {
	q64U128, _ := bigmath.FromBigInt(q64)
	tick, err := tickmath.SqrtPriceX64ToTick(q64U128, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick != 0 {
		t.Fatalf("got tick %d, want 0", tick)
	}
}

func TestTickToSqrtPriceX64_Domain(t *testing.T) {
	tests := []struct {
		name string
		tick int32
		ok   bool
	}{
		{"min tick ok", tickmath.MinTick, true},
		{"max tick ok", tickmath.MaxTick, true},
		{"below min fails", tickmath.MinTick - 1, false},
		{"above max fails", tickmath.MaxTick + 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tickmath.TickToSqrtPriceX64(tc.tick)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected ErrMathDomain, got nil")
			}
		})
	}
}

func TestRoundTrip_AllTicks(t *testing.T) {
	// Exhaustively round-tripping all ~1.7M ticks is unnecessary for a unit
	// test; sample across the domain including both extremes.
	sample := []int32{tickmath.MinTick, tickmath.MinTick + 1, -500000, -100000, -1, 0, 1, 100000, 500000, tickmath.MaxTick - 1, tickmath.MaxTick}
	for _, tick := range sample {
		sp, err := tickmath.TickToSqrtPriceX64(tick)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		got, err := tickmath.SqrtPriceX64ToTick(sp, 1)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if got != tick {
			t.Fatalf("round trip mismatch: tick %d -> sqrtPrice -> tick %d", tick, got)
		}
	}
}

func TestSqrtPriceX64ToTick_TickSpacingAlignment(t *testing.T) {
	sp, err := tickmath.TickToSqrtPriceX64(65)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := tickmath.SqrtPriceX64ToTick(sp, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 60 {
		t.Fatalf("got %d, want 60 (aligned down from 65)", got)
	}
}

func TestSqrtPriceX64ToTick_NegativeAlignment(t *testing.T) {
	sp, err := tickmath.TickToSqrtPriceX64(-65)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := tickmath.SqrtPriceX64ToTick(sp, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -120 {
		t.Fatalf("got %d, want -120 (aligned down from -65)", got)
	}
}

func TestMulDivFloorAndCeil(t *testing.T) {
	a := bigmath.From64(10)
	b := bigmath.From64(3)
	d := bigmath.From64(4)

	floor, err := tickmath.MulDivFloor(a, b, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if floor.Big().Int64() != 7 { // floor(30/4) = 7
		t.Fatalf("MulDivFloor: got %s, want 7", floor.String())
	}

	ceil, err := tickmath.MulDivCeil(a, b, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ceil.Big().Int64() != 8 { // ceil(30/4) = 8
		t.Fatalf("MulDivCeil: got %s, want 8", ceil.String())
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	a := bigmath.From64(1)
	if _, err := tickmath.MulDivFloor(a, a, bigmath.Zero); err == nil {
		t.Fatal("expected ErrMathDomain on division by zero")
	}
	if _, err := tickmath.MulDivCeil(a, a, bigmath.Zero); err == nil {
		t.Fatal("expected ErrMathDomain on division by zero")
	}
}

func TestMonotonic_TickToSqrtPrice(t *testing.T) {
	prev, err := tickmath.TickToSqrtPriceX64(-10)
	if err != nil {
		t.Fatal(err)
	}
	for tick := int32(-9); tick <= 10; tick++ {
		cur, err := tickmath.TickToSqrtPriceX64(tick)
		if err != nil {
			t.Fatal(err)
		}
		if cur.Cmp(prev) <= 0 {
			t.Fatalf("sqrt price not strictly increasing at tick %d", tick)
		}
		prev = cur
	}
}
