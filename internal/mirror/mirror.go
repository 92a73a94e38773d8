// Package mirror keeps a change-detected, derived and observable copy of
// protocol state read from chain.
//
// A Mirror moves from unloaded to loaded on the first complete read (Load)
// and then merges partial reads (Update). Every update recomputes the
// derived state, because fee decay moves it even when no base field
// changed. Listeners receive the old state, the new state and exactly the
// fields that differ.
package mirror

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/moneyprotocol/engineering-sub002/internal/metrics"
)

// DefaultFallbackRefresh is how long the mirror waits for a push-driven
// update before asking for a refresh itself.
const DefaultFallbackRefresh = 30 * time.Second

var (
	ErrNotLoaded     = errors.New("mirror: not loaded")
	ErrAlreadyLoaded = errors.New("mirror: already loaded")
	ErrStopped       = errors.New("mirror: stopped")
)

// Notification is passed to listeners after an accepted update.
type Notification struct {
	Old    State
	New    State
	Fields FieldSet
}

// Listener receives notifications synchronously. A listener may subscribe
// or unsubscribe listeners, including itself, but must not call Load or
// Update.
type Listener func(Notification)

// Options configure a Mirror. Zero values select defaults.
type Options struct {
	Clock           func() time.Time
	Logger          *slog.Logger
	// FallbackRefresh defaults to DefaultFallbackRefresh; negative disables it.
	FallbackRefresh time.Duration
	// OnLoaded runs once, after the first successful Load.
	OnLoaded func(State)
}

// Mirror is the state machine owning the mirrored snapshot.
type Mirror struct {
	clock    func() time.Time
	logger   *slog.Logger
	fallback time.Duration
	onLoaded func(State)

	writeMu sync.Mutex // serializes Load/Update including notification

	mu        sync.RWMutex
	state     State
	loaded    bool
	stopped   bool
	listeners map[uint64]Listener
	nextID    uint64
	timer     *time.Timer
	refresher func()
	onStop    []func()
}

// New creates an unloaded mirror.
func New(opts Options) *Mirror {
	m := &Mirror{
		clock:     opts.Clock,
		logger:    opts.Logger,
		fallback:  opts.FallbackRefresh,
		onLoaded:  opts.OnLoaded,
		listeners: make(map[uint64]Listener),
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.fallback == 0 {
		m.fallback = DefaultFallbackRefresh
	}
	return m
}

// Load stores the first complete read and computes derived state.
func (m *Mirror) Load(base Base) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	switch {
	case m.stopped:
		m.mu.Unlock()
		return ErrStopped
	case m.loaded:
		m.mu.Unlock()
		return ErrAlreadyLoaded
	}
	m.state = State{Base: base, Derived: derive(base, m.clock())}
	m.loaded = true
	state := m.state
	m.scheduleLocked()
	m.mu.Unlock()

	observeGauges(state)
	m.logger.Info("mirror loaded",
		"price", state.Price,
		"number_of_vaults", state.NumberOfVaults,
		"recovery_mode", state.RecoveryMode,
	)
	if m.onLoaded != nil {
		m.onLoaded(state)
	}
	return nil
}

// Update merges a partial read. Fields equal to the current value keep
// the current value. Listeners are notified only if a non-silent field
// changed. It returns the notification, or nil if none was sent.
func (m *Mirror) Update(p Partial) (*Notification, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	switch {
	case m.stopped:
		m.mu.Unlock()
		return nil, ErrStopped
	case !m.loaded:
		m.mu.Unlock()
		return nil, ErrNotLoaded
	}

	old := m.state
	r := &reducer{logger: m.logger}
	base := r.reduceBase(old.Base, p)
	derived := r.reduceDerived(old.Derived, derive(base, m.clock()))
	m.state = State{Base: base, Derived: derived}
	next := m.state
	m.scheduleLocked()
	m.mu.Unlock()

	metrics.MirrorUpdates.Inc()
	observeGauges(next)
	if len(r.changed.Loud()) == 0 {
		return nil, nil
	}

	n := Notification{Old: old, New: next, Fields: r.changed}
	m.notify(n)
	return &n, nil
}

// notify calls every listener subscribed when notification started that
// is still subscribed when its turn comes.
func (m *Mirror) notify(n Notification) {
	m.mu.RLock()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)

	metrics.MirrorNotifications.Inc()
	for _, id := range ids {
		m.mu.RLock()
		listener, ok := m.listeners[id]
		m.mu.RUnlock()
		if ok {
			listener(n)
		}
	}
}

// Subscribe registers a listener and returns the function that removes it.
// Listeners run in subscription order.
func (m *Mirror) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// State returns the current snapshot and whether the mirror is loaded.
func (m *Mirror) State() (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.loaded
}

// Loaded reports whether Load has succeeded.
func (m *Mirror) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// SetRefresher installs the function the fallback timer calls when no
// update arrived for the fallback interval.
func (m *Mirror) SetRefresher(refresh func()) {
	m.mu.Lock()
	m.refresher = refresh
	m.mu.Unlock()
}

// OnStop registers cleanup to run on Stop, such as dropping a block
// subscription.
func (m *Mirror) OnStop(fn func()) {
	m.mu.Lock()
	m.onStop = append(m.onStop, fn)
	m.mu.Unlock()
}

// Stop cancels the fallback timer and runs the OnStop hooks. Later Load and
// Update calls fail with ErrStopped.
func (m *Mirror) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	hooks := m.onStop
	m.onStop = nil
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	m.logger.Info("mirror stopped")
}

// scheduleLocked restarts the fallback timer. Caller holds m.mu.
func (m *Mirror) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	if m.fallback < 0 {
		m.timer = nil
		return
	}
	m.timer = time.AfterFunc(m.fallback, m.fallbackRefresh)
}

func (m *Mirror) fallbackRefresh() {
	m.mu.RLock()
	refresh, stopped := m.refresher, m.stopped
	m.mu.RUnlock()
	if stopped || refresh == nil {
		return
	}
	m.logger.Debug("no update within fallback interval, refreshing", "interval", m.fallback)
	metrics.MirrorFallbackRefreshes.Inc()
	refresh()
}

// observeGauges exports the headline state.
func observeGauges(s State) {
	metrics.Price.Set(s.Price.Float64())
	metrics.TotalCollateralRatio.Set(s.Total.CollateralRatio(s.Price).Float64())
	metrics.BorrowingRate.Set(s.BorrowingRate.Float64())
	recovery := 0.0
	if s.RecoveryMode {
		recovery = 1
	}
	metrics.RecoveryMode.Set(recovery)
}
