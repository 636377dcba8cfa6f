package token_test

import (
	"testing"

	"github.com/jrife/tabletcore/tablets/token"
)

func TestFirstLastTokenCoverRing(t *testing.T) {
	const count = 8

	var prev token.Token = token.MinToken

	for id := token.TabletID(0); id < count; id++ {
		first := token.FirstToken(id, count)
		last := token.LastToken(id, count)

		if first != prev {
			t.Fatalf("tablet %d: expected first token %d to equal previous last token %d", id, first, prev)
		}

		if last < first {
			t.Fatalf("tablet %d: last token %d is before first token %d", id, last, first)
		}

		prev = last
	}

	if prev != token.MaxToken {
		t.Fatalf("expected final tablet to end at MaxToken, got %d", prev)
	}
}

func TestTabletOfRoundTrips(t *testing.T) {
	const count = 16

	for id := token.TabletID(0); id < count; id++ {
		last := token.LastToken(id, count)

		if got := token.TabletOf(last, count); got != id {
			t.Errorf("TabletOf(LastToken(%d)) = %d, want %d", id, got, id)
		}
	}
}

func TestSplitPreservesBoundaries(t *testing.T) {
	const count = 4

	for id := token.TabletID(0); id < count; id++ {
		first := token.FirstToken(id, count)
		last := token.LastToken(id, count)

		left, right := token.Split(id)

		splitFirst := token.FirstToken(left, count*2)
		splitLast := token.LastToken(right, count*2)

		if splitFirst != first {
			t.Errorf("tablet %d split left boundary = %d, want %d", id, splitFirst, first)
		}

		if splitLast != last {
			t.Errorf("tablet %d split right boundary = %d, want %d", id, splitLast, last)
		}

		mid := token.FirstToken(right, count*2)

		if mid <= splitFirst || mid > splitLast {
			t.Errorf("tablet %d split midpoint %d out of range (%d, %d]", id, mid, splitFirst, splitLast)
		}
	}
}

func TestGetTabletIDAndSide(t *testing.T) {
	const count = 4

	for id := token.TabletID(0); id < count; id++ {
		first := token.FirstToken(id, count)
		last := token.LastToken(id, count)

		gotID, side := token.GetTabletIDAndSide(last, count)

		if gotID != id {
			t.Fatalf("GetTabletIDAndSide(last of %d) id = %d, want %d", id, gotID, id)
		}

		if side != token.Right {
			t.Errorf("GetTabletIDAndSide(last of %d) side = %v, want Right", id, side)
		}

		_ = first
	}
}

func TestTabletOfSingleTabletTable(t *testing.T) {
	const count = 1

	for _, tok := range []token.Token{token.MinToken, token.MinToken + 1, 0, token.MaxToken} {
		if got := token.TabletOf(tok, count); got != 0 {
			t.Errorf("TabletOf(%d, 1) = %d, want 0", tok, got)
		}
	}

	if got, side := token.GetTabletIDAndSide(token.MaxToken, count); got != 0 || side != token.Right {
		t.Errorf("GetTabletIDAndSide(MaxToken, 1) = (%d, %v), want (0, Right)", got, side)
	}
}

func TestMergeIsInverseOfSplit(t *testing.T) {
	for id := token.TabletID(0); id < 10; id++ {
		left, right := token.Split(id)

		if token.Merge(left) != id || token.Merge(right) != id {
			t.Errorf("Merge(Split(%d)) did not round trip: left=%d right=%d", id, token.Merge(left), token.Merge(right))
		}
	}
}

func TestValidCount(t *testing.T) {
	valid := []uint64{1, 2, 4, 8, 1024}
	invalid := []uint64{0, 3, 5, 6, 7, 100}

	for _, c := range valid {
		if !token.ValidCount(c) {
			t.Errorf("ValidCount(%d) = false, want true", c)
		}
	}

	for _, c := range invalid {
		if token.ValidCount(c) {
			t.Errorf("ValidCount(%d) = true, want false", c)
		}
	}
}
