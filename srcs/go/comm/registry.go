package comm

import (
	"sync"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

// Registry maps device logical ids to the communicator currently attached
// to the device. Callers own it; nothing in this package keeps one.
type Registry struct {
	mu       sync.Mutex
	contexts map[int32]*Communicator
}

func NewRegistry() *Registry {
	return &Registry{contexts: make(map[int32]*Communicator)}
}

// Attach binds c to a device. A device holds one communicator at a time.
func (r *Registry) Attach(logicID int32, c *Communicator) error {
	if err := base.CheckNotNil(c != nil, "communicator"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.contexts[logicID]; ok {
		return errors.Wrapf(base.ErrPara, "device %d is attached to %s", logicID, cur.ID())
	}
	r.contexts[logicID] = c
	return nil
}

// Current returns the communicator attached to a device.
func (r *Registry) Current(logicID int32) (*Communicator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[logicID]
	return c, ok
}

// Detach unbinds a device and returns what was attached.
func (r *Registry) Detach(logicID int32) (*Communicator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[logicID]
	delete(r.contexts, logicID)
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}
