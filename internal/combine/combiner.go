package combine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/stitch/internal/manifest"
)

type Config struct {
	// BaseURL resolves relative locations. A trailing slash is implied.
	BaseURL string
	// LocationFilter maps "/name" paths to locations. Defaults to DefaultLocationFilter.
	LocationFilter LocationFilter
	// MaxConcurrent caps in-flight pieces of the active target; 0 means unbounded.
	MaxConcurrent int
	// MaxTargetSize rejects targets declaring more bytes before their buffer
	// is allocated; 0 means DefaultMaxTargetSize.
	MaxTargetSize int64
	Transport     Transport
}

type State int

const (
	StateIdle State = iota
	StateFetchingManifest
	StateProcessingTarget
	StateAllBuilt
)

func (s State) String() string {
	switch s {
	case StateFetchingManifest:
		return "fetching-manifest"
	case StateProcessingTarget:
		return "processing-target"
	case StateAllBuilt:
		return "all-built"
	default:
		return "idle"
	}
}

// Status is a point-in-time view of a Combiner.
type Status struct {
	State       State
	TargetIndex int
	Completed   bool
	TotalBytes  int64

	ProgressListeners  int
	CompletedListeners int
	AllBuiltListeners  int
}

// Combiner fetches a manifest and builds its targets one at a time. Listener
// callbacks run on the goroutine that called Process.
type Combiner struct {
	cfg       Config
	base      *url.URL
	listeners listeners

	mu          sync.Mutex
	running     bool
	completed   bool
	state       State
	targetIndex int
	totalBytes  int64
	// generation changes on every Cleanup so a run can tell it was discarded.
	generation uint64
}

func New(cfg Config) (*Combiner, error) {
	if cfg.Transport == nil {
		return nil, errors.New("combine: transport is required")
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("combine: max concurrent must not be negative, got %d", cfg.MaxConcurrent)
	}
	if cfg.MaxTargetSize < 0 {
		return nil, fmt.Errorf("combine: max target size must not be negative, got %d", cfg.MaxTargetSize)
	}
	if cfg.LocationFilter == nil {
		cfg.LocationFilter = DefaultLocationFilter
	}
	base, err := parseBase(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("combine: %w", err)
	}
	return &Combiner{cfg: cfg, base: base}, nil
}

func (c *Combiner) AddProgressListener(fn ProgressListener) error {
	return c.listeners.addProgress(fn)
}

func (c *Combiner) AddCombineCompletedListener(fn CombineCompletedListener) error {
	return c.listeners.addCompleted(fn)
}

func (c *Combiner) AddAllTargetsBuiltListener(fn AllTargetsBuiltListener) error {
	return c.listeners.addAllBuilt(fn)
}

func (c *Combiner) IsCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

func (c *Combiner) Status() Status {
	c.mu.Lock()
	s := Status{
		State:       c.state,
		TargetIndex: c.targetIndex,
		Completed:   c.completed,
		TotalBytes:  c.totalBytes,
	}
	c.mu.Unlock()
	s.ProgressListeners, s.CompletedListeners, s.AllBuiltListeners = c.listeners.counts()
	return s
}

// Cleanup resets listeners, totals and the completion flag. A run in
// progress stops at its next event and Process returns ErrDiscarded.
func (c *Combiner) Cleanup() {
	c.listeners.reset()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.completed = false
	c.state = StateIdle
	c.targetIndex = 0
	c.totalBytes = 0
}

// run is the per-Process context.
type run struct {
	id         string
	generation uint64
	log        zerolog.Logger
	manifest   *manifest.Manifest
	progress   *Aggregator
}

// Process fetches the manifest at manifestPath and builds every target in
// order. It blocks until all targets were delivered or a fault aborted the run.
func (c *Combiner) Process(ctx context.Context, manifestPath string) error {
	r, err := c.begin()
	if err != nil {
		return err
	}
	err = c.execute(ctx, r, manifestPath)
	c.end(r, err)
	return err
}

func (c *Combiner) begin() (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil, ErrBusy
	}
	c.running = true
	c.completed = false
	c.state = StateFetchingManifest
	c.targetIndex = 0
	c.totalBytes = 0
	id := uuid.NewString()
	return &run{
		id:         id,
		generation: c.generation,
		log:        log.With().Str("run", id).Logger(),
	}, nil
}

func (c *Combiner) end(r *run, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if err != nil && c.generation == r.generation {
		c.state = StateIdle
		c.targetIndex = 0
	}
	if err != nil {
		r.log.Error().Str("op", "combine/process").Err(err).Msg("Run aborted")
	}
}

func (c *Combiner) discarded(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != r.generation
}

func (c *Combiner) enterTarget(r *run, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == r.generation {
		c.state = StateProcessingTarget
		c.targetIndex = index
	}
}

func (c *Combiner) execute(ctx context.Context, r *run, manifestPath string) error {
	location, err := c.locate(manifestPath)
	if err != nil {
		return &Fault{Err: fmt.Errorf("%w: %w", ErrProtocol, err)}
	}
	r.log.Info().Str("op", "combine/process").Msgf("Fetching manifest %s", location)
	body, err := c.cfg.Transport.Fetch(ctx, location, nil)
	if err != nil {
		return &Fault{Err: fmt.Errorf("fetch manifest: %w", asTransport(err))}
	}
	if c.discarded(r) {
		return ErrDiscarded
	}
	m, err := manifest.Parse(body)
	if err != nil {
		return &Fault{Err: fmt.Errorf("%w: %w", ErrProtocol, err)}
	}
	r.manifest = m
	r.progress = NewAggregator(m.TotalSize())
	c.mu.Lock()
	c.totalBytes = m.TotalSize()
	c.mu.Unlock()
	r.log.Info().Str("op", "combine/process").Msgf("Manifest lists %d targets, %d pieces, %d bytes", len(m.Targets), m.PieceCount(), m.TotalSize())

	for i := range m.Targets {
		if err := c.buildTarget(ctx, r, i); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.generation == r.generation {
		c.state = StateAllBuilt
		c.completed = true
	}
	c.mu.Unlock()
	r.log.Info().Str("op", "combine/process").Msg("All targets built")
	c.listeners.emitAllBuilt()
	return nil
}

// locate applies the location filter to a path unless it is already an
// absolute URL, then resolves it against the base. Paths are passed to the
// filter with a single leading slash.
func (c *Combiner) locate(path string) (string, error) {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return u.String(), nil
	}
	return resolveLocation(c.base, c.cfg.LocationFilter("/"+strings.TrimPrefix(path, "/")))
}

type pieceEvent struct {
	index  int
	loaded int64
	total  int64
	data   []byte
	err    error
	done   bool
}

func (c *Combiner) buildTarget(ctx context.Context, r *run, index int) error {
	target := &r.manifest.Targets[index]
	c.enterTarget(r, index)
	a, err := newAssembly(target, c.cfg.MaxTargetSize)
	if err != nil {
		return err
	}
	r.log.Debug().Str("op", "combine/target").Msgf("Building %s (%d pieces, %d bytes)", target.Name, len(target.Pieces), target.Size)

	window := len(target.Pieces)
	if c.cfg.MaxConcurrent > 0 {
		window = min(c.cfg.MaxConcurrent, window)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	events := make(chan pieceEvent, window)

	issue := func() error {
		next := a.nextUnrequested()
		if next < 0 {
			return nil
		}
		if err := a.claim(next); err != nil {
			return err
		}
		location, err := c.locate("/" + strings.TrimPrefix(target.Pieces[next].Name, "/"))
		if err != nil {
			return a.fault(next, fmt.Errorf("%w: %v", ErrTransport, err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.fetchPiece(ctx, next, location, events)
		}()
		return nil
	}

	for range window {
		if err := issue(); err != nil {
			return err
		}
	}

	for !a.complete() {
		var ev pieceEvent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev = <-events:
		}
		if c.discarded(r) {
			return ErrDiscarded
		}
		if ev.err != nil {
			if errors.Is(ev.err, context.Canceled) || errors.Is(ev.err, context.DeadlineExceeded) {
				return ev.err
			}
			return a.fault(ev.index, asTransport(ev.err))
		}
		name := target.Pieces[ev.index].Name
		if !ev.done {
			r.progress.Record(name, ev.loaded, ev.total)
			c.emitProgress(r)
			continue
		}
		if err := a.copyIn(ev.index, ev.data); err != nil {
			return err
		}
		n := int64(len(ev.data))
		r.progress.Record(name, n, n)
		c.emitProgress(r)
		if c.discarded(r) {
			return ErrDiscarded
		}
		if err := issue(); err != nil {
			return err
		}
	}
	return c.deliver(r, a)
}

func (c *Combiner) fetchPiece(ctx context.Context, index int, location string, events chan<- pieceEvent) {
	send := func(ev pieceEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	data, err := c.cfg.Transport.Fetch(ctx, location, func(loaded, total int64) {
		send(pieceEvent{index: index, loaded: loaded, total: total})
	})
	send(pieceEvent{index: index, data: data, err: err, done: true})
}

func (c *Combiner) deliver(r *run, a *assembly) error {
	data, err := a.finalize()
	if err != nil {
		return err
	}
	r.progress.CompleteTarget(a.target.Size)
	c.emitProgress(r)
	if c.discarded(r) {
		return ErrDiscarded
	}
	r.log.Info().Str("op", "combine/target").Msgf("Combined %s (%d bytes)", a.target.Name, len(data))
	c.listeners.emitCompleted(a.target.Name, data)
	if c.discarded(r) {
		return ErrDiscarded
	}
	return nil
}

// asTransport classifies errors from third-party transports.
func asTransport(err error) error {
	if errors.Is(err, ErrTransport) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func (c *Combiner) emitProgress(r *run) {
	downloaded, total := r.progress.Snapshot()
	c.listeners.emitProgress(downloaded, total)
}
