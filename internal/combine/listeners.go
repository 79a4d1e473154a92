package combine

import "sync"

// ProgressListener receives (downloaded, total) byte counts for the whole run.
type ProgressListener func(downloaded, total int64)

// CombineCompletedListener receives a finished target. The listener owns data
// from then on; the combiner keeps no reference to it.
type CombineCompletedListener func(name string, data []byte)

// AllTargetsBuiltListener fires once after the last target finished.
type AllTargetsBuiltListener func()

// listeners holds the three callback lists in registration order.
type listeners struct {
	mu        sync.Mutex
	progress  []ProgressListener
	completed []CombineCompletedListener
	allBuilt  []AllTargetsBuiltListener
}

func (l *listeners) addProgress(fn ProgressListener) error {
	if fn == nil {
		return ErrInvalidListener
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, fn)
	return nil
}

func (l *listeners) addCompleted(fn CombineCompletedListener) error {
	if fn == nil {
		return ErrInvalidListener
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, fn)
	return nil
}

func (l *listeners) addAllBuilt(fn AllTargetsBuiltListener) error {
	if fn == nil {
		return ErrInvalidListener
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allBuilt = append(l.allBuilt, fn)
	return nil
}

// The emit helpers call a snapshot of the list without holding the lock, so a
// listener may register more listeners or call Cleanup.

func (l *listeners) emitProgress(downloaded, total int64) {
	l.mu.Lock()
	fns := append([]ProgressListener(nil), l.progress...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(downloaded, total)
	}
}

func (l *listeners) emitCompleted(name string, data []byte) {
	l.mu.Lock()
	fns := append([]CombineCompletedListener(nil), l.completed...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(name, data)
	}
}

func (l *listeners) emitAllBuilt() {
	l.mu.Lock()
	fns := append([]AllTargetsBuiltListener(nil), l.allBuilt...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *listeners) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = nil
	l.completed = nil
	l.allBuilt = nil
}

func (l *listeners) counts() (int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.progress), len(l.completed), len(l.allBuilt)
}
