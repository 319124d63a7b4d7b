package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	// defaultEventBuffer bounds the Arrived/Removed channel. A slow consumer
	// applies backpressure to discovery rather than losing events.
	defaultEventBuffer = 64

	// persistTimeout bounds a single sighting write.
	persistTimeout = 2 * time.Second
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Source is a discovery feed. Run blocks, sending sightings to out until
// ctx is cancelled. Sends must select on ctx.Done().
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Sighting) error
}

type opKind int

const (
	opRelease opKind = iota + 1
	opReclaim
)

type op struct {
	kind  opKind
	id    string
	reply chan error
}

// Registry tracks which projectors are attached and emits Arrived and
// Removed events for them.
//
// A single writer goroutine applies every sighting, release and reclaim,
// so events come out in the order the changes happened. List and Get read
// under a shared lock from any goroutine.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
type Registry struct {
	classifier *Classifier
	repo       SightingRepository
	sources    []Source
	logger     Logger
	now        func() time.Time

	mu       sync.RWMutex
	devices  map[string]*Device
	released map[string]bool

	sightings chan Sighting
	ops       chan op
	events    chan Event

	startMu  sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRegistry creates a registry. repo may be nil to skip persistence.
func NewRegistry(classifier *Classifier, repo SightingRepository, sources ...Source) *Registry {
	return &Registry{
		classifier: classifier,
		repo:       repo,
		sources:    sources,
		logger:     noopLogger{},
		now:        time.Now,
		devices:    make(map[string]*Device),
		released:   make(map[string]bool),
		sightings:  make(chan Sighting),
		ops:        make(chan op),
		events:     make(chan Event, defaultEventBuffer),
		done:       make(chan struct{}),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Events returns the Arrived/Removed stream. It is closed after Stop.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Start launches the writer goroutine and every discovery source.
// The host subscriptions live until Stop or until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.stopped {
		return ErrRegistryStopped
	}
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.restoreReleases(ctx)

	go r.run(ctx)

	for _, src := range r.sources {
		r.wg.Add(1)
		go func(src Source) {
			defer r.wg.Done()
			r.logger.Info("discovery source started", "source", src.Name())
			if err := src.Run(ctx, r.sightings); err != nil && ctx.Err() == nil {
				r.logger.Error("discovery source failed", "source", src.Name(), "error", err)
			}
		}(src)
	}
	return nil
}

// Stop cancels discovery and waits for the writer to exit.
// Events is closed once Stop returns.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.startMu.Lock()
		started := r.started
		cancel := r.cancel
		r.stopped = true
		r.startMu.Unlock()

		if !started {
			close(r.events)
			close(r.done)
			return
		}
		cancel()
		r.wg.Wait()
		<-r.done
	})
}

// HealthCheck reports whether discovery is running.
func (r *Registry) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.startMu.Lock()
	defer r.startMu.Unlock()
	switch {
	case r.stopped:
		return ErrRegistryStopped
	case !r.started:
		return ErrNotStarted
	}
	return nil
}

// Report feeds a sighting into the registry. Discovery adapters that are
// not Sources (and tests) use it.
func (r *Registry) Report(ctx context.Context, s Sighting) error {
	select {
	case r.sightings <- s:
		return nil
	case <-r.done:
		return ErrRegistryStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns every attached device, present or released, sorted by ID.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the attached device with id, or ErrDeviceNotFound.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return *d, nil
}

// Release detaches a present device from session control. A Removed event
// is emitted and later sightings of the device are suppressed until
// Reclaim. Releasing a released device is a no-op.
func (r *Registry) Release(ctx context.Context, id string) error {
	return r.do(ctx, op{kind: opRelease, id: id})
}

// Reclaim undoes Release. If the device is still attached an Arrived event
// is emitted.
func (r *Registry) Reclaim(ctx context.Context, id string) error {
	return r.do(ctx, op{kind: opReclaim, id: id})
}

func (r *Registry) do(ctx context.Context, o op) error {
	o.reply = make(chan error, 1)
	select {
	case r.ops <- o:
	case <-r.done:
		return ErrRegistryStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-o.reply:
		return err
	case <-r.done:
		return ErrRegistryStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)
	defer close(r.events)

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-r.sightings:
			if s.Present {
				r.handleArrival(ctx, s)
			} else {
				r.handleRemoval(ctx, s.Key)
			}
		case o := <-r.ops:
			switch o.kind {
			case opRelease:
				o.reply <- r.handleRelease(ctx, o.id)
			case opReclaim:
				o.reply <- r.handleReclaim(ctx, o.id)
			}
		}
	}
}

func (r *Registry) handleArrival(ctx context.Context, s Sighting) {
	cl, err := r.classifier.Classify(s)
	if err != nil {
		r.logger.Debug("ignoring unrecognised device", "key", s.Key, "source", s.Source, "error", err)
		return
	}

	r.mu.Lock()
	if _, exists := r.devices[s.Key]; exists {
		r.mu.Unlock()
		r.logger.Debug("duplicate sighting ignored", "device_id", s.Key, "source", s.Source)
		return
	}
	dev := &Device{
		ID:           s.Key,
		Class:        cl.Name,
		Source:       s.Source,
		Endpoint:     ResolveEndpoint(cl, s.Endpoint),
		Signature:    s.Signature,
		State:        StatePresent,
		DiscoveredAt: r.now(),
	}
	if r.released[s.Key] {
		dev.State = StateReleased
	}
	r.devices[s.Key] = dev
	snapshot := *dev
	r.mu.Unlock()

	r.persist(ctx, "arrival", func(ctx context.Context) error {
		return r.repo.RecordArrival(ctx, snapshot)
	})

	if snapshot.State == StateReleased {
		r.logger.Info("released device attached, holding", "device_id", snapshot.ID)
		return
	}
	r.logger.Info("device arrived",
		"device_id", snapshot.ID,
		"class", snapshot.Class,
		"endpoint", snapshot.Endpoint.String(),
	)
	r.emit(ctx, Event{Kind: Arrived, Device: snapshot})
}

func (r *Registry) handleRemoval(ctx context.Context, id string) {
	now := r.now()

	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.devices, id)
	snapshot := *dev
	r.mu.Unlock()

	r.persist(ctx, "removal", func(ctx context.Context) error {
		return r.repo.RecordRemoval(ctx, id, now)
	})

	r.logger.Info("device removed", "device_id", id)
	if snapshot.State != StatePresent {
		return
	}
	snapshot.State = StateRemoved
	snapshot.RemovedAt = &now
	r.emit(ctx, Event{Kind: Removed, Device: snapshot})
}

func (r *Registry) handleRelease(ctx context.Context, id string) error {
	now := r.now()

	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok {
		released := r.released[id]
		r.mu.Unlock()
		if released {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if dev.State == StateReleased {
		r.mu.Unlock()
		return nil
	}
	dev.State = StateReleased
	r.released[id] = true
	snapshot := *dev
	r.mu.Unlock()

	r.persist(ctx, "release", func(ctx context.Context) error {
		return r.repo.RecordRelease(ctx, id, &now)
	})

	r.logger.Info("device released", "device_id", id)
	r.emit(ctx, Event{Kind: Removed, Device: snapshot})
	return nil
}

func (r *Registry) handleReclaim(ctx context.Context, id string) error {
	r.mu.Lock()
	if !r.released[id] {
		_, attached := r.devices[id]
		r.mu.Unlock()
		if attached {
			return fmt.Errorf("%w: %s", ErrNotReleased, id)
		}
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.released, id)
	dev, attached := r.devices[id]
	var snapshot Device
	if attached {
		dev.State = StatePresent
		snapshot = *dev
	}
	r.mu.Unlock()

	r.persist(ctx, "reclaim", func(ctx context.Context) error {
		return r.repo.RecordRelease(ctx, id, nil)
	})

	r.logger.Info("device reclaimed", "device_id", id, "attached", attached)
	if attached {
		r.emit(ctx, Event{Kind: Arrived, Device: snapshot})
	}
	return nil
}

// restoreReleases reloads releases made before a restart so those devices
// stay held when they are sighted again. It runs before the writer starts.
func (r *Registry) restoreReleases(ctx context.Context) {
	if r.repo == nil {
		return
	}
	ids, err := r.repo.Released(ctx)
	if err != nil {
		r.logger.Warn("could not restore device releases", "error", err)
		return
	}
	for _, id := range ids {
		r.released[id] = true
	}
	if len(ids) > 0 {
		r.logger.Info("device releases restored", "count", len(ids))
	}
}

func (r *Registry) emit(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

func (r *Registry) persist(ctx context.Context, what string, fn func(context.Context) error) {
	if r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("persisting device sighting failed", "what", what, "error", err)
	}
}
