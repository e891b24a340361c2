// Package supervisor owns the set of live per-stream engines: it creates them
// on first use, tracks who is watching, routes commands and evicts streams
// nobody watches any more.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"stream-orchestrator/internal/orchestrator"
)

// Defaults for Config fields left at zero.
const (
	DefaultIdleGrace       = 60 * time.Second
	DefaultStaleAfter      = 90 * time.Second
	DefaultSweepInterval   = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

var (
	// ErrSupervisorClosed is returned by every call after ShutdownAll.
	ErrSupervisorClosed = fmt.Errorf("supervisor: closed: %w", orchestrator.ErrInternal)

	// ErrUnknownStream is returned when a stream has no live engine.
	ErrUnknownStream = errors.New("supervisor: unknown stream")

	// ErrUnknownSubscriber is returned for a client id the stream does not know.
	ErrUnknownSubscriber = errors.New("supervisor: unknown subscriber")
)

// Config holds supervisor timing. Zero fields take the package defaults.
type Config struct {
	IdleGrace       time.Duration
	StaleAfter      time.Duration
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
	Shards          int
}

func (c Config) withDefaults() Config {
	if c.IdleGrace <= 0 {
		c.IdleGrace = DefaultIdleGrace
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	return c
}

// Publisher receives every new snapshot of a watched stream. Implementations
// must not block for long; delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, id orchestrator.StreamID, st orchestrator.State) error
}

// ConfigProvider supplies the initial config for a newly created stream.
type ConfigProvider interface {
	ConfigFor(id orchestrator.StreamID) orchestrator.Config
}

// ConfigProviderFunc adapts a function to ConfigProvider.
type ConfigProviderFunc func(id orchestrator.StreamID) orchestrator.Config

// ConfigFor implements ConfigProvider.
func (f ConfigProviderFunc) ConfigFor(id orchestrator.StreamID) orchestrator.Config { return f(id) }

// Recorder receives lifecycle counters. Metrics are optional; a nil Recorder
// records nothing.
type Recorder interface {
	StreamCreated()
	StreamEvicted(reason string)
	CommandRouted(command, result string)
	EngineTicked()
}

type nopRecorder struct{}

func (nopRecorder) StreamCreated()               {}
func (nopRecorder) StreamEvicted(string)         {}
func (nopRecorder) CommandRouted(string, string) {}
func (nopRecorder) EngineTicked()                {}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger; engines inherit it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPublisher forwards snapshots of watched streams to p.
func WithPublisher(p Publisher) Option {
	return func(s *Supervisor) { s.publisher = p }
}

// WithRecorder reports lifecycle events to r.
func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithConfigProvider chooses the initial config of new streams.
func WithConfigProvider(p ConfigProvider) Option {
	return func(s *Supervisor) {
		if p != nil {
			s.configs = p
		}
	}
}

// WithEngineOptions appends options passed to every orchestrator.New call.
func WithEngineOptions(opts ...orchestrator.Option) Option {
	return func(s *Supervisor) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithNow overrides the clock used for subscriber last-seen times.
func WithNow(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

type subscriber struct {
	addr     string
	lastSeen time.Time
}

// entry is one live stream. mu guards everything below it.
type entry struct {
	id     orchestrator.StreamID
	handle *orchestrator.Handle

	mu          sync.Mutex
	subscribers map[string]*subscriber
	evictGen    uint64
	evictTimer  *time.Timer
	removed     bool
}

// cancelEvictionLocked stops a pending eviction. Bumping the generation
// also defeats a timer that already fired and is waiting for mu.
func (e *entry) cancelEvictionLocked() {
	e.evictGen++
	if e.evictTimer != nil {
		e.evictTimer.Stop()
		e.evictTimer = nil
	}
}

func (e *entry) subscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

// Supervisor maps stream ids to engines. All methods are safe for concurrent use.
type Supervisor struct {
	cfg        Config
	store      *store
	log        *slog.Logger
	publisher  Publisher
	recorder   Recorder
	configs    ConfigProvider
	engineOpts []orchestrator.Option
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New returns a running supervisor. Call ShutdownAll to stop it.
func New(cfg Config, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:      cfg,
		store:    newStore(cfg.Shards),
		log:      slog.Default(),
		recorder: nopRecorder{},
		configs:  orchestrator.DefaultPresets(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// ensure returns the live entry for id, creating its engine if needed.
func (s *Supervisor) ensure(id orchestrator.StreamID) (*entry, error) {
	if s.closed.Load() {
		return nil, ErrSupervisorClosed
	}
	e, created, err := s.store.getOrCreate(id, func() (*entry, error) {
		// Checked again under the shard lock so nothing is created after
		// ShutdownAll has drained the store.
		if s.closed.Load() {
			return nil, ErrSupervisorClosed
		}
		opts := append([]orchestrator.Option{
			orchestrator.WithLogger(s.log),
			orchestrator.WithStreamID(id),
			orchestrator.WithParentContext(s.ctx),
			orchestrator.WithTickHook(s.recorder.EngineTicked),
		}, s.engineOpts...)
		h, err := orchestrator.New(s.configs.ConfigFor(id), opts...)
		if err != nil {
			return nil, fmt.Errorf("supervisor: create stream %q: %w", id, err)
		}
		// Added under the shard lock: ShutdownAll drains every shard before
		// it waits, so this Add always happens before that Wait.
		if s.publisher != nil {
			s.wg.Add(1)
		}
		return &entry{id: id, handle: h, subscribers: make(map[string]*subscriber)}, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.recorder.StreamCreated()
		s.log.Info("stream created", slog.String("stream_id", string(id)))
		if s.publisher != nil {
			go s.publishLoop(e)
		}
	}
	return e, nil
}

// Route forwards cmd to the stream's engine, creating it on first use. If the
// engine has already exited the entry is dropped, an error matching
// orchestrator.ErrInternal is returned and the next call starts afresh.
func (s *Supervisor) Route(ctx context.Context, id orchestrator.StreamID, cmd orchestrator.Command) error {
	name := orchestrator.CommandName(cmd)
	ctx, span := tracer.Start(ctx, "route command", trace.WithAttributes(
		attribute.String("stream.id", string(id)),
		attribute.String("command", name),
	))
	defer span.End()

	err := s.route(ctx, id, cmd)
	s.recorder.CommandRouted(name, orchestrator.Code(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Supervisor) route(ctx context.Context, id orchestrator.StreamID, cmd orchestrator.Command) error {
	e, err := s.ensure(id)
	if err != nil {
		return err
	}
	err = e.handle.Send(ctx, cmd)
	if errors.Is(err, orchestrator.ErrInternal) {
		s.discard(e, "engine exited")
		return fmt.Errorf("supervisor: route to %q: %w", id, err)
	}
	return err
}

// discard drops an entry whose engine is gone.
func (s *Supervisor) discard(e *entry, reason string) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return
	}
	e.removed = true
	e.cancelEvictionLocked()
	removed := s.store.remove(e.id, e)
	e.mu.Unlock()

	if removed {
		s.recorder.StreamEvicted(reason)
		s.log.Warn("stream discarded", slog.String("stream_id", string(e.id)), slog.String("reason", reason))
	}
}

// RegisterSubscriber adds clientID to the stream's watchers, creating the
// engine if needed. The first watcher starts the timeline.
func (s *Supervisor) RegisterSubscriber(ctx context.Context, id orchestrator.StreamID, clientID, addr string) error {
	// An entry can be evicted between ensure and taking its lock. The
	// eviction removes it from the store first, so the retry creates a new one.
	for attempt := 0; attempt < 3; attempt++ {
		e, err := s.ensure(id)
		if err != nil {
			return err
		}

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		e.cancelEvictionLocked()
		_, existed := e.subscribers[clientID]
		e.subscribers[clientID] = &subscriber{addr: addr, lastSeen: s.now()}
		count := len(e.subscribers)

		var startErr error
		if count == 1 && !existed {
			startErr = e.handle.Start(ctx)
		}
		e.mu.Unlock()

		log := s.log.With(slog.String("stream_id", string(id)), slog.String("client_id", clientID))
		switch {
		case startErr == nil:
		case errors.Is(startErr, orchestrator.ErrAlreadyRunning), errors.Is(startErr, orchestrator.ErrNotConfigured):
			log.Debug("auto start skipped", slog.Any("error", startErr))
		case errors.Is(startErr, orchestrator.ErrInternal):
			s.discard(e, "engine exited")
			return fmt.Errorf("supervisor: register on %q: %w", id, startErr)
		default:
			log.Warn("auto start failed", slog.Any("error", startErr))
		}
		if !existed {
			log.Info("subscriber registered", slog.String("addr", addr), slog.Int("subscribers", count))
		}
		return nil
	}
	return fmt.Errorf("supervisor: register on %q: %w", id, orchestrator.ErrInternal)
}

// UnregisterSubscriber removes clientID. When the last watcher leaves, the
// timeline is stopped and the stream is evicted after the idle grace period
// unless someone registers again first.
func (s *Supervisor) UnregisterSubscriber(ctx context.Context, id orchestrator.StreamID, clientID string) error {
	e, ok := s.store.get(id)
	if !ok {
		return ErrUnknownStream
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return ErrUnknownStream
	}
	if _, ok := e.subscribers[clientID]; !ok {
		return ErrUnknownSubscriber
	}
	delete(e.subscribers, clientID)
	s.log.Info("subscriber unregistered",
		slog.String("stream_id", string(id)),
		slog.String("client_id", clientID),
		slog.Int("subscribers", len(e.subscribers)))

	if len(e.subscribers) == 0 {
		s.idleLocked(ctx, e)
	}
	return nil
}

// Heartbeat refreshes clientID's last-seen time.
func (s *Supervisor) Heartbeat(id orchestrator.StreamID, clientID string) error {
	e, ok := s.store.get(id)
	if !ok {
		return ErrUnknownSubscriber
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subscribers[clientID]
	if e.removed || !ok {
		return ErrUnknownSubscriber
	}
	sub.lastSeen = s.now()
	return nil
}

// idleLocked stops a stream that just lost its last watcher and arms the
// eviction timer. e.mu must be held.
func (s *Supervisor) idleLocked(ctx context.Context, e *entry) {
	if err := e.handle.Stop(ctx); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
		s.log.Warn("stop on idle failed", slog.String("stream_id", string(e.id)), slog.Any("error", err))
	}

	s.armEvictionLocked(e)
}

// armEvictionLocked (re)starts the idle grace timer. e.mu must be held.
func (s *Supervisor) armEvictionLocked(e *entry) {
	e.cancelEvictionLocked()
	gen := e.evictGen
	e.evictTimer = time.AfterFunc(s.cfg.IdleGrace, func() { s.evictIfIdle(e, gen) })
	s.log.Debug("eviction scheduled",
		slog.String("stream_id", string(e.id)),
		slog.Duration("grace", s.cfg.IdleGrace))
}

// evictIfIdle is the deferred half of idleLocked. It re-checks under the
// entry lock and leaves the stream alone if anyone came back.
func (s *Supervisor) evictIfIdle(e *entry, gen uint64) {
	e.mu.Lock()
	if e.removed || e.evictGen != gen || len(e.subscribers) > 0 {
		e.mu.Unlock()
		return
	}
	e.removed = true
	e.evictTimer = nil
	s.store.remove(e.id, e)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.handle.Shutdown(ctx); err != nil {
		s.log.Error("evicted engine did not stop", slog.String("stream_id", string(e.id)), slog.Any("error", err))
	}
	s.recorder.StreamEvicted("idle")
	s.log.Info("stream evicted", slog.String("stream_id", string(e.id)))
}

func (s *Supervisor) sweepLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.sweepOnce(s.now())
		}
	}
}

// sweepOnce drops subscribers silent for longer than StaleAfter. Streams
// created by commands alone, with nobody ever watching, get an eviction
// timer here; their timeline is left running until it fires.
func (s *Supervisor) sweepOnce(now time.Time) {
	for _, e := range s.store.entries() {
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if len(e.subscribers) == 0 {
			if e.evictTimer == nil {
				s.armEvictionLocked(e)
			}
			e.mu.Unlock()
			continue
		}
		var stale []string
		for clientID, sub := range e.subscribers {
			if now.Sub(sub.lastSeen) > s.cfg.StaleAfter {
				stale = append(stale, clientID)
				delete(e.subscribers, clientID)
			}
		}
		if len(stale) > 0 {
			s.log.Info("stale subscribers dropped",
				slog.String("stream_id", string(e.id)),
				slog.Any("client_ids", stale),
				slog.Int("subscribers", len(e.subscribers)))
			if len(e.subscribers) == 0 {
				s.idleLocked(s.ctx, e)
			}
		}
		e.mu.Unlock()
	}
}

func (s *Supervisor) publishLoop(e *entry) {
	defer s.wg.Done()
	sub := e.handle.Subscribe()
	defer sub.Close()
	for {
		st, err := sub.Next(s.ctx)
		if err != nil {
			return
		}
		if e.subscriberCount() == 0 {
			continue
		}
		if err := s.publisher.Publish(s.ctx, e.id, st); err != nil {
			s.log.Debug("state publish failed", slog.String("stream_id", string(e.id)), slog.Any("error", err))
		}
	}
}

// ShutdownAll stops every engine and empties the supervisor. It waits at
// most ShutdownTimeout (or until ctx ends) and reports engines that did not
// stop in time.
func (s *Supervisor) ShutdownAll(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	entries := s.store.drain()
	for _, e := range entries {
		e.mu.Lock()
		e.removed = true
		e.cancelEvictionLocked()
		e.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var (
		mu         sync.Mutex
		stragglers []string
		g          errgroup.Group
	)
	for _, e := range entries {
		g.Go(func() error {
			if err := e.handle.Shutdown(ctx); err != nil {
				mu.Lock()
				stragglers = append(stragglers, string(e.id))
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if len(stragglers) > 0 {
		sort.Strings(stragglers)
		s.log.Error("engines did not stop in time", slog.Any("stream_ids", stragglers))
		return fmt.Errorf("supervisor: shutdown: %d engines still running: %w", len(stragglers), err)
	}
	s.log.Info("supervisor stopped", slog.Int("streams", len(entries)))
	return nil
}

// Subscribe returns a latest-value observer for the stream, creating its
// engine if needed. It does not register a watcher.
func (s *Supervisor) Subscribe(id orchestrator.StreamID) (*orchestrator.Subscription, error) {
	e, err := s.ensure(id)
	if err != nil {
		return nil, err
	}
	return e.handle.Subscribe(), nil
}

// State returns the current snapshot of a live stream.
func (s *Supervisor) State(id orchestrator.StreamID) (orchestrator.State, bool) {
	e, ok := s.store.get(id)
	if !ok {
		return orchestrator.State{}, false
	}
	return e.handle.CurrentState(), true
}

// StreamInfo summarises one live stream.
type StreamInfo struct {
	ID          orchestrator.StreamID `json:"stream_id"`
	Subscribers int                   `json:"subscribers"`
	IsRunning   bool                  `json:"is_running"`
	Scene       string                `json:"current_scene,omitempty"`
}

// Streams lists live streams ordered by id.
func (s *Supervisor) Streams() []StreamInfo {
	entries := s.store.entries()
	out := make([]StreamInfo, 0, len(entries))
	for _, e := range entries {
		st := e.handle.CurrentState()
		out = append(out, StreamInfo{
			ID:          e.id,
			Subscribers: e.subscriberCount(),
			IsRunning:   st.IsRunning,
			Scene:       st.SceneName(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live streams.
func (s *Supervisor) Count() int { return s.store.len() }

// SubscriberCount returns the watchers of one stream, 0 if it is not live.
func (s *Supervisor) SubscriberCount(id orchestrator.StreamID) int {
	e, ok := s.store.get(id)
	if !ok {
		return 0
	}
	return e.subscriberCount()
}

// TotalSubscribers returns the watchers across all streams.
func (s *Supervisor) TotalSubscribers() int {
	n := 0
	for _, e := range s.store.entries() {
		n += e.subscriberCount()
	}
	return n
}
