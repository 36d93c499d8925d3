package coll

import (
	"context"
	"fmt"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RunStreams replays a plan: one goroutine per stream, tasks of a stream in
// order. A Signal task posts its notify, a Wait task blocks until the notify
// is posted. Every other task goes to the engine.
func RunStreams(ctx context.Context, e Engine, p *Plan) error {
	notifies := make([]chan struct{}, p.Notifies)
	for i := range notifies {
		notifies[i] = make(chan struct{})
	}
	g, ctx := errgroup.WithContext(ctx)
	for i, tasks := range p.Streams {
		i, tasks := i, tasks
		g.Go(func() error {
			for j, t := range tasks {
				switch t.Kind {
				case TaskSignal:
					if t.Notify >= len(notifies) {
						return errors.Wrapf(base.ErrInternal, "stream %d task %d: notify %d out of %d", i, j, t.Notify, len(notifies))
					}
					close(notifies[t.Notify])
				case TaskWait:
					if t.Notify >= len(notifies) {
						return errors.Wrapf(base.ErrInternal, "stream %d task %d: notify %d out of %d", i, j, t.Notify, len(notifies))
					}
					select {
					case <-notifies[t.Notify]:
					case <-ctx.Done():
						return ctx.Err()
					}
				default:
					if err := e.Launch(ctx, i, t); err != nil {
						return errors.Wrap(err, fmt.Sprintf("stream %d task %d (%s)", i, j, t))
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}
