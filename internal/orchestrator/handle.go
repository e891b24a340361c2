package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
)

const defaultCommandBuffer = 64

// Option configures a Handle.
type Option func(*options)

type options struct {
	log    *slog.Logger
	clock  Clock
	parent context.Context
	id     StreamID
	buffer int
	onTick func()
}

// WithLogger sets the engine logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock replaces the system clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithParentContext ties the engine's lifetime to ctx: cancelling it stops
// the engine just like Shutdown.
func WithParentContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.parent = ctx
		}
	}
}

// WithStreamID tags the engine's log lines with id.
func WithStreamID(id StreamID) Option {
	return func(o *options) { o.id = id }
}

// WithCommandBuffer sets how many commands may wait for the engine.
func WithCommandBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithTickHook registers fn to run on the engine goroutine after every tick
// that changed the state. fn must not block.
func WithTickHook(fn func()) Option {
	return func(o *options) { o.onTick = fn }
}

// Handle is the only way to talk to a running engine. It is safe for
// concurrent use; commands from one goroutine are applied in call order.
type Handle struct {
	id     StreamID
	cmds   chan request
	out    *broadcaster
	done   chan struct{}
	cancel context.CancelFunc
	log    *slog.Logger
}

// New validates cfg and starts an engine for it. The engine runs until
// Shutdown is called or the parent context is cancelled.
func New(cfg Config, opts ...Option) (*Handle, error) {
	o := options{
		log:    slog.Default(),
		clock:  SystemClock{},
		parent: context.Background(),
		buffer: defaultCommandBuffer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if o.id != "" {
		log = log.With(slog.String("stream_id", string(o.id)))
	}

	tl, err := newTimeline(cfg, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(o.parent)
	h := &Handle{
		id:     o.id,
		cmds:   make(chan request, o.buffer),
		out:    newBroadcaster(tl.snapshot()),
		done:   make(chan struct{}),
		cancel: cancel,
		log:    log,
	}
	e := &engine{
		tl:     tl,
		clock:  o.clock,
		cmds:   h.cmds,
		out:    h.out,
		log:    log,
		onTick: o.onTick,
	}
	go e.run(ctx, h.done)
	return h, nil
}

// StreamID returns the id given with WithStreamID.
func (h *Handle) StreamID() StreamID { return h.id }

// Done is closed once the engine loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Send enqueues cmd and waits until the engine has applied it. Once the
// engine has exited every call fails with an error matching ErrInternal.
func (h *Handle) Send(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return ErrUnknownCommand
	}
	select {
	case <-h.done:
		return errEngineStopped
	default:
	}

	req := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case h.cmds <- req:
	case <-h.done:
		return errEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-h.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return errEngineStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the timeline from its current position, or from zero once it has completed.
func (h *Handle) Start(ctx context.Context) error {
	return h.Send(ctx, Start{})
}

// Stop halts the timeline and keeps its position.
func (h *Handle) Stop(ctx context.Context) error {
	return h.Send(ctx, Stop{})
}

// Pause freezes a running timeline.
func (h *Handle) Pause(ctx context.Context) error {
	return h.Send(ctx, Pause{})
}

// Resume continues a paused timeline.
func (h *Handle) Resume(ctx context.Context) error {
	return h.Send(ctx, Resume{})
}

// Reset stops the timeline and rewinds it to the first scene.
func (h *Handle) Reset(ctx context.Context) error {
	return h.Send(ctx, Reset{})
}

// ForceScene jumps to the start of the named scene.
func (h *Handle) ForceScene(ctx context.Context, name string) error {
	return h.Send(ctx, ForceScene{Name: name})
}

// SkipCurrentScene jumps to the start of the next scene.
func (h *Handle) SkipCurrentScene(ctx context.Context) error {
	return h.Send(ctx, SkipCurrentScene{})
}

// UpdateStreamStatus records what the encoder last reported.
func (h *Handle) UpdateStreamStatus(ctx context.Context, isStreaming bool, streamTimeMS int64, timecode string) error {
	return h.Send(ctx, UpdateStreamStatus{
		IsStreaming:  isStreaming,
		StreamTimeMS: streamTimeMS,
		Timecode:     timecode,
	})
}

// Reconfigure replaces the scene list; a running timeline is stopped and rewound.
func (h *Handle) Reconfigure(ctx context.Context, cfg Config) error {
	return h.Send(ctx, Reconfigure{Config: cfg})
}

// Subscribe returns an observer whose first read yields the current state.
func (h *Handle) Subscribe() *Subscription {
	return newSubscription(h.out)
}

// CurrentState returns the most recently published snapshot.
func (h *Handle) CurrentState() State {
	st, _, _, _ := h.out.load()
	return st.Clone()
}

// Shutdown stops the engine and waits for its loop to exit or ctx to end.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator: shutdown stream %q: %w", h.id, ctx.Err())
	}
}
