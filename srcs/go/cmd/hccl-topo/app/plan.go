package app

import (
	"io"

	"github.com/lsds/hcomm/srcs/go/coll"
	"github.com/lsds/hcomm/srcs/go/comm"
	"github.com/lsds/hcomm/srcs/go/hal"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/hccl/config"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type planFlags struct {
	rank    uint32
	op      string
	count   uint64
	dtype   base.DataType
	reduce  base.ReduceOp
	root    uint32
	peer    uint32
	devType base.DevType
	tasks   bool
	run     bool
	tag     string
}

func newPlanCmd(s *state) *cobra.Command {
	f := planFlags{dtype: base.F32, reduce: base.SUM, devType: base.Dev910B}
	cmd := &cobra.Command{
		Use:   "plan FILE",
		Short: "Print the schedule one rank runs for a collective over a rank table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := s.parseFile(args[0], nil)
			if err != nil {
				return err
			}
			t, err := p.GetClusterInfo()
			if err != nil {
				return err
			}
			return s.plan(cmd, t, &f)
		},
	}
	fs := cmd.Flags()
	fs.Uint32Var(&f.rank, "rank", 0, "rank to plan for")
	fs.StringVar(&f.op, "op", base.AllReduce.String(), "collective, e.g. AllReduce or AllToAllV")
	fs.Uint64Var(&f.count, "count", 1024, "element count, per peer for all-to-all")
	fs.Var(&f.dtype, "dtype", "element type")
	fs.Var(&f.reduce, "reduce", "sum, prod, max or min")
	fs.Uint32Var(&f.root, "root", 0, "root of rooted collectives")
	fs.Uint32Var(&f.peer, "peer", 0, "peer of point to point calls")
	fs.Var(&f.devType, "device-type", "simulated device generation")
	fs.BoolVar(&f.tasks, "tasks", false, "print every task")
	fs.BoolVar(&f.run, "run", false, "also replay the plan on a recording engine")
	fs.StringVar(&f.tag, "tag", "hccl-topo", "operation tag")
	return cmd
}

// simServer simulates the server hosting rank, with the physical ids the
// rank table gives it.
func simServer(t *plan.RankTopology, rank uint32, devType base.DevType) (*hal.Sim, error) {
	self, ok := t.Ranks.Rank(rank)
	if !ok {
		return nil, errors.Wrapf(base.ErrPara, "rank %d not in %s", rank, t)
	}
	var ids []int32
	for _, r := range t.Ranks.On(self.ServerID) {
		if !r.IsHost() {
			ids = append(ids, r.DevicePhyID)
		}
	}
	sim := hal.NewSim(devType, uint32(len(ids)))
	sim.SetPhysicalIDs(ids)
	return sim, nil
}

func (s *state) plan(cmd *cobra.Command, t *plan.RankTopology, f *planFlags) error {
	op, err := base.ParseCollType(f.op)
	if err != nil {
		return err
	}
	sim, err := simServer(t, f.rank, f.devType)
	if err != nil {
		return err
	}
	rec := coll.NewRecorder()
	cc := config.DefaultCommConfig()
	cc.BufferSizeMB = s.runtime.BufferSizeMB
	cc.Deterministic = s.runtime.Deterministic
	c, err := comm.New(comm.Options{
		Topo:    t,
		Rank:    f.rank,
		Adapter: sim,
		Config:  &cc,
		Runtime: s.runtime,
		Engine:  rec,
	})
	if err != nil {
		return err
	}
	if err := c.Init(); err != nil {
		return err
	}
	defer c.Destroy()

	n := uint64(t.RankNum)
	size := f.count * uint64(f.dtype.Size()) * n
	if size == 0 {
		return errors.Wrap(base.ErrPara, "empty buffers")
	}
	in, err := sim.Malloc(size)
	if err != nil {
		return err
	}
	defer sim.Free(in)
	out, err := sim.Malloc(size)
	if err != nil {
		return err
	}
	defer sim.Free(out)
	param := f.param(op, in, out, n)

	pl, err := c.Plan(param)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	printPlan(w, pl, f.tasks)
	if !f.run {
		return nil
	}
	d, err := utils.Measure(func() error { return c.Run(cmd.Context(), param) })
	if err != nil {
		return err
	}
	log.Debugf("replayed %s in %s", pl.Executor, d)
	for _, k := range []coll.TaskKind{coll.TaskSend, coll.TaskRecv, coll.TaskCopy, coll.TaskReduce} {
		printf(w, "launched %s: %d\n", k, rec.Count(k))
	}
	return nil
}

func (f *planFlags) param(op base.CollType, in, out hal.DeviceMem, n uint64) *coll.OpParam {
	p := &coll.OpParam{
		Op:       op,
		Tag:      f.tag,
		Input:    in,
		Output:   out,
		Count:    f.count,
		DataType: f.dtype,
		ReduceOp: f.reduce,
		Root:     f.root,
		Peer:     f.peer,
	}
	switch op {
	case base.AllToAllV:
		for i := uint64(0); i < n; i++ {
			p.SendCounts = append(p.SendCounts, f.count)
			p.SendDispls = append(p.SendDispls, i*f.count)
		}
		p.RecvCounts, p.RecvDispls = p.SendCounts, p.SendDispls
	case base.AllToAllVC:
		for i := uint64(0); i < n*n; i++ {
			p.SendCountMatrix = append(p.SendCountMatrix, f.count)
		}
	case base.BatchSendRecv:
		p.Items = []coll.SendRecvItem{
			{Send: true, Peer: f.peer, Buf: in, Count: f.count, DataType: f.dtype},
			{Peer: f.peer, Buf: out, Count: f.count, DataType: f.dtype},
		}
	}
	return p
}

func printPlan(w io.Writer, pl *coll.Plan, tasks bool) {
	printf(w, "%s\n", pl)
	if pl.Scratch > 0 {
		printf(w, "scratch: %s\n", utils.ShowSize(pl.Scratch))
	}
	for _, tr := range pl.Transports {
		printf(w, "level %d: %s over %s, ranks %v\n", tr.Level, tr.Pattern, tr.Mem, tr.Ranks)
	}
	for i, ts := range pl.Streams {
		printf(w, "stream %d: %s\n", i, utils.Pluralize(len(ts), "task", "tasks"))
		if tasks {
			for _, t := range ts {
				printf(w, "  %s\n", t)
			}
		}
	}
}
