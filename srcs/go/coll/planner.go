package coll

import (
	"context"
	"fmt"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/monitor"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/topo"
	"github.com/pkg/errors"
)

// Env is what a planner knows about its communicator.
type Env struct {
	Topo    *plan.RankTopology
	Attr    *topo.Attr
	Profile config.HardwareProfile
	// Runtime may be nil, defaults apply.
	Runtime *config.Runtime
	// CCLBufferSize is the size of each of the CCL input and output buffers.
	CCLBufferSize uint64
}

var defaultRuntime = config.Runtime{BufferSizeMB: config.CCLBufferDefaultMB}

func (e *Env) runtime() *config.Runtime {
	if e.Runtime == nil {
		return &defaultRuntime
	}
	return e.Runtime
}

// Plan is the schedule of one collective call on one rank.
type Plan struct {
	Op         base.CollType
	Tag        string
	Executor   string
	Alg        base.AlgType
	Streams    [][]Task
	Notifies   int
	Transports []TransportRequest
	// Scratch is the scratch buffer size the plan needs, 0 if none.
	Scratch uint64
	Huge    bool
	Loops   int
}

func (p *Plan) Tasks() int {
	var n int
	for _, ts := range p.Streams {
		n += len(ts)
	}
	return n
}

func (p *Plan) String() string {
	return fmt.Sprintf("plan{%s tag=%s executor=%s alg=%s streams=%d tasks=%d loops=%d scratch=%d huge=%v}",
		p.Op, p.Tag, p.Executor, p.Alg, len(p.Streams), p.Tasks(), p.Loops, p.Scratch, p.Huge)
}

// Planner turns collective requests into plans for one rank.
type Planner struct {
	env    Env
	h      *hierarchy
	level0 base.AlgLevel0
}

func NewPlanner(env Env) (*Planner, error) {
	if err := base.CheckNotNil(env.Topo != nil, "topology"); err != nil {
		return nil, err
	}
	if err := base.CheckNotNil(env.Attr != nil, "topology attributes"); err != nil {
		return nil, err
	}
	if _, ok := env.Topo.Ranks.Rank(env.Attr.UserRank); !ok {
		return nil, errors.Wrapf(base.ErrPara, "rank %d not in %s", env.Attr.UserRank, env.Topo)
	}
	if env.CCLBufferSize == 0 {
		env.CCLBufferSize = uint64(env.runtime().BufferSizeMB) * config.MB
	}
	h := newHierarchy(env.Topo, env.Attr.UserRank)
	p := &Planner{
		env:    env,
		h:      h,
		level0: SelectLevel0(env.Attr, h.size[0], h.flat),
	}
	log.Debugf("planner of rank %d: grid=%v flat=%v level0=%s", env.Attr.UserRank, h.size, h.flat, p.level0)
	return p, nil
}

func (p *Planner) Level0() base.AlgLevel0 { return p.level0 }

// Plan runs the executor of the request through its four phases.
func (p *Planner) Plan(param *OpParam) (*Plan, error) {
	if err := base.CheckNotNil(param != nil, "op param"); err != nil {
		return nil, err
	}
	name, err := executorName(param.Op, p.level0, uint32(len(p.h.coord)))
	if err != nil {
		return nil, err
	}
	ctor, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(base.ErrNotSupport, "executor %s", name)
	}
	ex := ctor(&executorBase{name: name, env: &p.env, h: p.h, level0: p.level0})
	if err := ex.ParseParam(param); err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	streams := ex.CalcStreamNum()
	transports := ex.CalcCommInfo()
	e := ex.core()
	b := newBuilder(streams, param, p.env.runtime().Retry, e.scratch)
	if err := ex.KernelRun(b); err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	pl := &Plan{
		Op:         param.Op,
		Tag:        param.Tag,
		Executor:   name,
		Alg:        e.alg,
		Transports: transports,
		Huge:       e.huge,
		Loops:      e.loops,
	}
	if e.scratch {
		pl.Scratch = e.scratchSize
	}
	b.build(pl)
	monitor.GetMonitor().Planned(param.Op, name, pl.Tasks())
	log.Debugf("rank %d: %s", p.env.Attr.UserRank, pl)
	return pl, nil
}

// Run replays a plan on an engine.
func (p *Planner) Run(ctx context.Context, e Engine, pl *Plan) error {
	return RunStreams(ctx, e, pl)
}
