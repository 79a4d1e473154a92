package combine

import "testing"

func TestAggregatorFoldsCompletedTargets(t *testing.T) {
	agg := NewAggregator(1200)
	agg.Record("prior", 1000, 1000)
	agg.CompleteTarget(1000)

	agg.Record("A", 10, 20)
	agg.Record("B", 5, 10)
	downloaded, total := agg.Snapshot()
	if downloaded != 1015 || total != 1200 {
		t.Fatalf("snapshot = %d/%d, want 1015/1200", downloaded, total)
	}

	// A later tick replaces the earlier entry for the same piece.
	agg.Record("A", 20, 20)
	if downloaded, _ = agg.Snapshot(); downloaded != 1025 {
		t.Fatalf("downloaded = %d, want 1025", downloaded)
	}
}

func TestAggregatorEmptyManifest(t *testing.T) {
	agg := NewAggregator(0)
	downloaded, total := agg.Snapshot()
	if downloaded != 0 || total != 0 {
		t.Fatalf("snapshot = %d/%d, want 0/0", downloaded, total)
	}
}
