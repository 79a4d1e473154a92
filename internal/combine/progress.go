package combine

// ProgressEntry is the latest byte count reported for one piece.
type ProgressEntry struct {
	Downloaded int64
	Total      int64
}

// Aggregator folds per-piece progress of the active target together with the
// bytes of targets that already finished.
type Aggregator struct {
	total     int64
	completed int64
	entries   map[string]ProgressEntry
}

func NewAggregator(total int64) *Aggregator {
	return &Aggregator{
		total:   total,
		entries: make(map[string]ProgressEntry),
	}
}

// Record replaces the entry for a piece of the active target.
func (a *Aggregator) Record(piece string, downloaded, total int64) {
	a.entries[piece] = ProgressEntry{Downloaded: downloaded, Total: total}
}

// CompleteTarget folds a finished target into the completed total and
// clears the active entries.
func (a *Aggregator) CompleteTarget(size int64) {
	a.completed += size
	clear(a.entries)
}

// Snapshot returns (downloaded so far, expected total).
func (a *Aggregator) Snapshot() (int64, int64) {
	downloaded := a.completed
	for _, e := range a.entries {
		downloaded += e.Downloaded
	}
	return downloaded, a.total
}
