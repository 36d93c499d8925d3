package comm

import (
	"github.com/lsds/hcomm/srcs/go/coll"
	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/monitor"
	"github.com/pkg/errors"
)

// tagResource is what repeated calls with one tag share: the transports
// the plan asked for, the widest stream count seen and the scratch buffer.
type tagResource struct {
	tag        string
	executor   string
	transports []coll.TransportRequest
	streams    int
	scratch    hal.DeviceMem
	uses       int
}

type tagCache struct {
	adapter hal.Adapter
	entries map[string]*tagResource
}

func newTagCache(adapter hal.Adapter) *tagCache {
	return &tagCache{adapter: adapter, entries: make(map[string]*tagResource)}
}

// acquire returns the resource of a tag, growing its scratch buffer when
// the plan needs more than it holds.
func (c *tagCache) acquire(tag string, pl *coll.Plan) (*tagResource, error) {
	r, ok := c.entries[tag]
	if !ok {
		r = &tagResource{tag: tag}
		c.entries[tag] = r
		monitor.GetMonitor().TagCache(len(c.entries))
		log.Debugf("new resource for tag %s: %s", tag, pl.Executor)
	}
	r.executor = pl.Executor
	r.transports = pl.Transports
	r.streams = max(r.streams, len(pl.Streams))
	if pl.Scratch > r.scratch.Size {
		if !r.scratch.IsNil() {
			if err := c.adapter.Free(r.scratch); err != nil {
				return nil, err
			}
			r.scratch = hal.DeviceMem{}
		}
		m, err := c.adapter.Malloc(pl.Scratch)
		if err != nil {
			return nil, errors.Wrapf(base.ErrMemory, "scratch of tag %s: %v", tag, err)
		}
		r.scratch = m
	}
	r.uses++
	return r, nil
}

func (c *tagCache) get(tag string) (*tagResource, bool) {
	r, ok := c.entries[tag]
	return r, ok
}

func (c *tagCache) release(tag string) error {
	r, ok := c.entries[tag]
	if !ok {
		return errors.Wrapf(base.ErrNotFound, "tag %s", tag)
	}
	delete(c.entries, tag)
	monitor.GetMonitor().TagCache(len(c.entries))
	if !r.scratch.IsNil() {
		return c.adapter.Free(r.scratch)
	}
	return nil
}

func (c *tagCache) clear() []error {
	var errs []error
	for tag := range c.entries {
		if err := c.release(tag); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
