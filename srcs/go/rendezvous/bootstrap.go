package rendezvous

import (
	"context"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"golang.org/x/sync/errgroup"
)

// Bootstrap runs the exchange for one rank. The root rank passes the
// server it listens on; Bootstrap runs it next to the rank's own agent and
// joins it before returning, closing the server either way.
func Bootstrap(ctx context.Context, srv *Server, cfg AgentConfig, local *plan.RankTopology) (*Result, error) {
	agent := NewAgent(cfg)
	if srv == nil {
		return agent.Exchange(ctx, local)
	}
	defer srv.Close()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := srv.Serve(ctx)
		return err
	})
	var res *Result
	g.Go(func() error {
		var err error
		res, err = agent.Exchange(ctx, local)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// LocalTopology wraps one rank into the descriptor an agent sends.
func LocalTopology(r plan.RankEntry) *plan.RankTopology {
	t := &plan.RankTopology{Mode: "rendezvous"}
	if len(r.DeviceIPs) > 0 {
		t.NicDeploy = base.NicDeployDevice
	}
	t.AddRank(r)
	t.AddServer(plan.ServerEntry{ServerID: r.ServerID})
	t.Recount()
	return t
}
