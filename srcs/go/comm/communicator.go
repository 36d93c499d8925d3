// Package comm is the object a caller holds: it owns the device buffers of
// one communicator and turns public collective calls into executed plans.
package comm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lsds/hcomm/srcs/go/coll"
	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/plan/ranktable"
	"github.com/lsds/hcomm/srcs/go/topo"
	"github.com/lsds/hcomm/srcs/go/utils"
	"github.com/pkg/errors"
)

// Options is what a Communicator is built from.
type Options struct {
	ID      string
	Topo    *plan.RankTopology
	Rank    uint32
	Adapter hal.Adapter
	// Config is the decoded comm config handle, defaults apply when nil.
	Config *config.CommConfig
	// Runtime is the environment configuration, defaults apply when nil.
	Runtime *config.Runtime
	// Engine executes the plans.
	Engine coll.Engine
}

const (
	gateOpen int32 = iota
	gateIniting
	gateReady
)

type Communicator struct {
	sync.Mutex // operator lock, taken by every public entry point

	// immutable
	id      string
	topo    *plan.RankTopology
	rank    uint32
	adapter hal.Adapter
	cfg     config.CommConfig
	runtime config.Runtime
	engine  coll.Engine

	gate int32

	// set by Init
	devType base.DevType
	attr    *topo.Attr
	planner *coll.Planner
	cclIn   hal.DeviceMem
	cclOut  hal.DeviceMem

	tags   *tagCache
	groups map[string]*Communicator
}

func New(opts Options) (*Communicator, error) {
	if err := base.CheckNotNil(opts.Topo != nil, "rank topology"); err != nil {
		return nil, err
	}
	if err := base.CheckNotNil(opts.Adapter != nil, "device adapter"); err != nil {
		return nil, err
	}
	if err := base.CheckNotNil(opts.Engine != nil, "engine"); err != nil {
		return nil, err
	}
	c := &Communicator{
		id:      opts.ID,
		topo:    opts.Topo,
		rank:    opts.Rank,
		adapter: opts.Adapter,
		cfg:     config.DefaultCommConfig(),
		runtime: config.Runtime{BufferSizeMB: config.CCLBufferDefaultMB},
		engine:  opts.Engine,
		groups:  make(map[string]*Communicator),
	}
	if opts.Config != nil {
		c.cfg = *opts.Config
	}
	if opts.Runtime != nil {
		c.runtime = *opts.Runtime
	}
	if len(c.id) == 0 {
		c.id = fmt.Sprintf("comm-%s", opts.Topo.CollectiveID)
	}
	return c, nil
}

func (c *Communicator) ID() string { return c.id }

func (c *Communicator) Rank() uint32 { return c.rank }

func (c *Communicator) RankSize() uint32 { return c.topo.RankNum }

func (c *Communicator) DevType() base.DevType { return c.devType }

func (c *Communicator) Topology() *plan.RankTopology { return c.topo }

// Attr returns the topology attributes of the local rank, nil before Init.
func (c *Communicator) Attr() *topo.Attr { return c.attr }

func (c *Communicator) String() string {
	return fmt.Sprintf("%s{rank=%d/%d,dev=%s,%s}", c.id, c.rank, c.topo.RankNum, c.devType, c.cfg)
}

// Init runs once. A failed Init leaves the communicator as if Init was
// never called, so that it can be retried.
func (c *Communicator) Init() error {
	if !atomic.CompareAndSwapInt32(&c.gate, gateOpen, gateIniting) {
		return errors.Wrapf(base.ErrInternal, "%s is already initialized", c.id)
	}
	if err := c.init(); err != nil {
		c.release()
		atomic.StoreInt32(&c.gate, gateOpen)
		return err
	}
	atomic.StoreInt32(&c.gate, gateReady)
	log.Infof("%s initialized: %s", c, c.attr)
	return nil
}

func (c *Communicator) init() error {
	devType, err := c.adapter.DeviceType()
	if err != nil {
		return err
	}
	c.devType = devType
	if c.rank >= c.topo.RankNum {
		return errors.Wrapf(base.ErrPara, "rank %d out of %d ranks", c.rank, c.topo.RankNum)
	}
	a, err := topo.New(c.topo, c.rank, c.adapter)
	if err != nil {
		return err
	}
	if c.attr, err = a.Attr(); err != nil {
		return err
	}
	rt := c.runtime
	rt.BufferSizeMB = c.cfg.BufferSizeMB
	rt.Deterministic = rt.Deterministic || c.cfg.Deterministic
	if c.planner, err = coll.NewPlanner(coll.Env{
		Topo:          c.topo,
		Attr:          c.attr,
		Profile:       config.ProfileOf(devType),
		Runtime:       &rt,
		CCLBufferSize: c.cfg.BufferSize(),
	}); err != nil {
		return err
	}
	if c.cclIn, err = c.adapter.Malloc(c.cfg.BufferSize()); err != nil {
		return errors.Wrapf(base.ErrMemory, "ccl input buffer: %v", err)
	}
	if c.cclOut, err = c.adapter.Malloc(c.cfg.BufferSize()); err != nil {
		return errors.Wrapf(base.ErrMemory, "ccl output buffer: %v", err)
	}
	c.tags = newTagCache(c.adapter)
	return nil
}

// release frees what init allocated.
func (c *Communicator) release() error {
	var errs []error
	if c.tags != nil {
		errs = append(errs, c.tags.clear()...)
		c.tags = nil
	}
	for _, m := range []*hal.DeviceMem{&c.cclIn, &c.cclOut} {
		if !m.IsNil() {
			if err := c.adapter.Free(*m); err != nil {
				errs = append(errs, err)
			}
			*m = hal.DeviceMem{}
		}
	}
	c.planner = nil
	return utils.MergeErrors(errs, "release")
}

func (c *Communicator) ready() error {
	if atomic.LoadInt32(&c.gate) != gateReady {
		return errors.Wrapf(base.ErrUnavail, "%s is not initialized", c.id)
	}
	return nil
}

// Destroy tears down the groups and frees the buffers.
func (c *Communicator) Destroy() error {
	c.Lock()
	defer c.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	var errs []error
	for name, g := range c.groups {
		if err := g.Destroy(); err != nil {
			errs = append(errs, err)
		}
		delete(c.groups, name)
	}
	if err := c.release(); err != nil {
		errs = append(errs, err)
	}
	atomic.StoreInt32(&c.gate, gateOpen)
	return utils.MergeErrors(errs, "destroy")
}

// CreateGroup carves a sub-communicator over the given global ranks, which
// must include the local rank. The group gets a fresh topology with ranks
// numbered in the given order.
func (c *Communicator) CreateGroup(name string, ranks []uint32) (*Communicator, error) {
	c.Lock()
	defer c.Unlock()
	if err := c.ready(); err != nil {
		return nil, err
	}
	if len(name) == 0 {
		return nil, errors.Wrap(base.ErrPara, "empty group name")
	}
	if _, ok := c.groups[name]; ok {
		return nil, errors.Wrapf(base.ErrPara, "group %s exists", name)
	}
	sub, err := c.topo.SubGroup(ranks)
	if err != nil {
		return nil, err
	}
	if err := ranktable.CheckRankListInfo(sub, ranktable.CheckOptions{SubGroup: true}); err != nil {
		return nil, err
	}
	sub.Freeze()
	me := -1
	for i, r := range ranks {
		if r == c.rank {
			me = i
		}
	}
	if me < 0 {
		return nil, errors.Wrapf(base.ErrPara, "rank %d is not in group %s", c.rank, name)
	}
	cfg, rt := c.cfg, c.runtime
	g, err := New(Options{
		ID:      c.id + "/" + name,
		Topo:    sub,
		Rank:    uint32(me),
		Adapter: c.adapter,
		Config:  &cfg,
		Runtime: &rt,
		Engine:  c.engine,
	})
	if err != nil {
		return nil, err
	}
	if err := g.Init(); err != nil {
		return nil, err
	}
	c.groups[name] = g
	return g, nil
}

// Group returns a group created by CreateGroup.
func (c *Communicator) Group(name string) (*Communicator, bool) {
	c.Lock()
	defer c.Unlock()
	g, ok := c.groups[name]
	return g, ok
}

func (c *Communicator) DestroyGroup(name string) error {
	c.Lock()
	defer c.Unlock()
	g, ok := c.groups[name]
	if !ok {
		return errors.Wrapf(base.ErrNotFound, "group %s", name)
	}
	delete(c.groups, name)
	return g.Destroy()
}

// ReleaseTag drops the resources cached for a tag.
func (c *Communicator) ReleaseTag(tag string) error {
	c.Lock()
	defer c.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	return c.tags.release(tag)
}

// Plan schedules a request without running it or touching the tag cache.
func (c *Communicator) Plan(p *coll.OpParam) (*coll.Plan, error) {
	c.Lock()
	defer c.Unlock()
	return c.plan(p)
}

func (c *Communicator) plan(p *coll.OpParam) (*coll.Plan, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if err := base.CheckNotNil(p != nil, "op param"); err != nil {
		return nil, err
	}
	if len(p.Tag) == 0 {
		return nil, errors.Wrapf(base.ErrPara, "%s with empty tag", p.Op)
	}
	return c.planner.Plan(p)
}

// Run plans and executes one request. Public collectives end up here.
func (c *Communicator) Run(ctx context.Context, p *coll.OpParam) error {
	c.Lock()
	defer c.Unlock()
	pl, err := c.plan(p)
	if err != nil {
		return err
	}
	res, err := c.tags.acquire(p.Tag, pl)
	if err != nil {
		return err
	}
	e := &boundEngine{
		inner: c.engine,
		mems: map[coll.MemType]hal.DeviceMem{
			coll.MemUserInput:  p.Input,
			coll.MemUserOutput: p.Output,
			coll.MemCCLInput:   c.cclIn,
			coll.MemCCLOutput:  c.cclOut,
			coll.MemScratch:    res.scratch,
		},
	}
	if err := c.planner.Run(ctx, e, pl); err != nil {
		return errors.Wrapf(err, "%s", pl)
	}
	return nil
}
