package orchestrator

import (
	"context"
	"log/slog"
)

type request struct {
	cmd   Command
	reply chan error
}

// engine is the single writer of one stream's timeline. Everything it owns is
// touched only from run.
type engine struct {
	tl     *timeline
	clock  Clock
	cmds   <-chan request
	out    *broadcaster
	log    *slog.Logger
	onTick func()
}

func (e *engine) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer e.out.close()

	interval := e.tl.cfg.TickInterval()
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	e.log.Debug("engine started", slog.Duration("tick_interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.log.Debug("engine exiting", slog.Any("reason", context.Cause(ctx)))
			return

		case <-ticker.C():
			if e.tl.tick(e.clock.Now()) {
				e.out.publish(e.tl.snapshot())
				if e.onTick != nil {
					e.onTick()
				}
			}

		case req := <-e.cmds:
			changed, err := e.tl.apply(req.cmd, e.clock.Now())
			if err != nil {
				e.log.Debug("command rejected",
					slog.String("command", CommandName(req.cmd)),
					slog.Any("error", err))
			}
			if changed {
				e.out.publish(e.tl.snapshot())
			}
			if d := e.tl.cfg.TickInterval(); d != interval {
				ticker.Reset(d)
				interval = d
				e.log.Debug("tick interval changed", slog.Duration("tick_interval", d))
			}
			req.reply <- err
		}
	}
}

