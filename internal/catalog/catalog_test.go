package catalog

import (
	"math/big"
	"testing"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

func testPosition(dexName, tokenID string) *model.Position {
	id, _ := new(big.Int).SetString(tokenID, 10)
	return &model.Position{
		TokenID:   id,
		DexName:   dexName,
		DexType:   model.DexUniswapV3,
		TickLower: -1000,
		TickUpper: 1000,
		Liquidity: big.NewInt(1),
	}
}

func scanWith(positions ...*model.Position) *ScanResult {
	result := &ScanResult{Positions: make(map[model.PositionKey]*model.Position)}
	for _, pos := range positions {
		result.Positions[pos.Key()] = pos
	}
	return result
}

func TestApplyFullScanAdds(t *testing.T) {
	cat := New(2, nil)
	cat.ApplyFullScan(scanWith(testPosition("dex", "1"), testPosition("dex", "2")))
	if cat.Len() != 2 {
		t.Fatalf("expected 2 positions, got %d", cat.Len())
	}
}

func TestRemovalNeedsRepeatedAbsence(t *testing.T) {
	cat := New(2, nil)
	pos := testPosition("dex", "1")
	cat.ApplyFullScan(scanWith(pos))

	// First absence is a strike, not a removal.
	cat.ApplyFullScan(scanWith())
	if cat.Len() != 1 {
		t.Fatalf("one absence must not remove, have %d positions", cat.Len())
	}

	// Second consecutive absence crosses the threshold.
	cat.ApplyFullScan(scanWith())
	if cat.Len() != 0 {
		t.Fatalf("second absence should remove, have %d positions", cat.Len())
	}
}

func TestReappearanceClearsStrikes(t *testing.T) {
	cat := New(2, nil)
	pos := testPosition("dex", "1")
	cat.ApplyFullScan(scanWith(pos))
	cat.ApplyFullScan(scanWith())

	// The position shows up again: the strike resets.
	cat.ApplyFullScan(scanWith(pos))
	cat.ApplyFullScan(scanWith())
	if cat.Len() != 1 {
		t.Fatalf("strike should have reset on reappearance")
	}
}

func TestErroredScanSuppressesRemoval(t *testing.T) {
	cat := New(1, nil)
	pos := testPosition("dex", "1")
	cat.ApplyFullScan(scanWith(pos))

	errored := scanWith()
	errored.HadErrors = true
	cat.ApplyFullScan(errored)
	cat.ApplyFullScan(errored)
	if cat.Len() != 1 {
		t.Fatalf("errored scans must never remove positions")
	}

	cat.ApplyFullScan(scanWith())
	if cat.Len() != 0 {
		t.Fatalf("clean absence should remove with debounce 1")
	}
}

func TestCorroboratedRemovalSkipsDebounce(t *testing.T) {
	cat := New(3, nil)
	pos := testPosition("dex", "1")
	cat.ApplyFullScan(scanWith(pos))

	cat.NoteRemovalHint(pos.Key())
	cat.ApplyFullScan(scanWith())
	if cat.Len() != 0 {
		t.Fatalf("transfer-corroborated absence should remove immediately")
	}
}

func TestHintAloneDoesNotRemove(t *testing.T) {
	cat := New(2, nil)
	pos := testPosition("dex", "1")
	cat.ApplyFullScan(scanWith(pos))

	cat.NoteRemovalHint(pos.Key())
	if cat.Len() != 1 {
		t.Fatalf("a hint without a confirming scan must not remove")
	}

	// The position is still owned per the next scan: hint discarded.
	cat.ApplyFullScan(scanWith(pos))
	cat.ApplyFullScan(scanWith())
	if cat.Len() != 1 {
		t.Fatalf("stale hint should have been cleared by the upsert")
	}
}

func TestUpsertPreservesResolvedEntry(t *testing.T) {
	cat := New(2, nil)
	pos := testPosition("dex", "1")
	price := 1.5
	pos.Entry = &model.EntryDetail{EntryPrice: &price, Strategy: model.EntryFromMintEvent}
	cat.Upsert(pos)

	// A rescan rebuilds the position without entry data.
	cat.ApplyFullScan(scanWith(testPosition("dex", "1")))

	got, ok := cat.Get(pos.Key())
	if !ok {
		t.Fatalf("position missing after rescan")
	}
	if got.Entry == nil || got.Entry.EntryPrice == nil || *got.Entry.EntryPrice != 1.5 {
		t.Fatalf("resolved entry lost on rescan upsert")
	}
}

func TestSnapshotStableOrder(t *testing.T) {
	cat := New(2, nil)
	cat.Upsert(testPosition("b", "2"))
	cat.Upsert(testPosition("a", "1"))
	cat.Upsert(testPosition("a", "10"))

	snap := cat.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Key().String() >= snap[i].Key().String() {
			t.Fatalf("snapshot not sorted: %s before %s",
				snap[i-1].Key().String(), snap[i].Key().String())
		}
	}
}
