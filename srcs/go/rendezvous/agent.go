package rendezvous

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/monitor"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/plan/ranktable"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type AgentConfig struct {
	ServerAddr plan.NetAddr
	// RankSize is the number of agents taking part, this one included.
	RankSize uint32
	// Timeout bounds connect, send and receive together.
	Timeout time.Duration
	// ID defaults to a random uuid.
	ID string
	// Step is sent to the server; the reply must carry Step+1.
	Step uint32
}

// Result is what one agent learns from the exchange.
type Result struct {
	Topology *plan.RankTopology
	// Rank is the id of the agent's rank in Topology.
	Rank uint32
}

type Agent struct {
	cfg AgentConfig
}

func NewAgent(cfg AgentConfig) *Agent {
	if len(cfg.ID) == 0 {
		cfg.ID = uuid.NewString()
	}
	return &Agent{cfg: cfg}
}

func (a *Agent) ID() string { return a.cfg.ID }

// Exchange sends the local descriptor and waits for the merged topology.
// Local ranks left at plan.InvalidRankID are numbered by the server.
func (a *Agent) Exchange(ctx context.Context, local *plan.RankTopology) (*Result, error) {
	t0 := time.Now()
	res, err := a.exchange(ctx, local, t0.Add(a.cfg.Timeout))
	monitor.GetMonitor().Handshake("agent", time.Since(t0), err)
	return res, err
}

func (a *Agent) exchange(ctx context.Context, local *plan.RankTopology, deadline time.Time) (*Result, error) {
	if a.cfg.RankSize == 0 {
		return nil, errors.Wrap(base.ErrPara, "rank size is 0")
	}
	if len(local.Ranks) != 1 {
		return nil, errors.Wrapf(base.ErrPara, "%d local ranks, an agent exchanges exactly 1", len(local.Ranks))
	}
	assigned := local.Ranks[0].RankID == plan.InvalidRankID
	body, err := plan.Struct2JSON(local, a.cfg.Step)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	conn, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	hello := encodeHello(newAgentHeader(a.cfg.ID, a.cfg.RankSize), body)
	if err := writeFull(conn, hello, deadline); err != nil {
		return nil, err
	}
	monitor.GetMonitor().Egress(int64(len(hello)))

	fr := newReplyReader(assigned)
	if err := fr.ReadFrom(conn, deadline); err != nil {
		return nil, err
	}
	monitor.GetMonitor().Ingress(int64(lengthSize + len(fr.Body())))
	t, err := plan.JSON2Struct(fr.Body(), a.cfg.Step+1)
	if err != nil {
		return nil, err
	}
	if err := a.check(t); err != nil {
		return nil, err
	}
	t.Freeze()
	res := &Result{Topology: t, Rank: local.Ranks[0].RankID}
	if assigned {
		res.Rank = fr.Identity()
		if res.Rank >= t.RankNum {
			return nil, errors.Wrapf(base.ErrInternal, "assigned rank %d out of %d", res.Rank, t.RankNum)
		}
	}
	log.Debugf("agent %s got rank %d of %s", a.cfg.ID, res.Rank, t)
	return res, nil
}

func (a *Agent) connect(ctx context.Context) (net.Conn, error) {
	addr := a.cfg.ServerAddr.String()
	var conn net.Conn
	var trials int
	dial := func() error {
		trials++
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			log.Debugf("agent %s connect %s trial %d: %v", a.cfg.ID, addr, trials, err)
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	if err := backoff.Retry(dial, backoff.WithContext(b, ctx)); err != nil {
		log.ReportSink(log.Report{
			Code:  log.CodeSocketBuild,
			Cause: "agent failed to connect to the rendezvous server " + addr,
			Tip:   "Please check that the root rank is up and the address is reachable.",
		}, zap.Int("trials", trials), zap.Error(err))
		if ctx.Err() != nil {
			return nil, errors.Wrapf(base.ErrTimeout, "connect %s after %d trials: %v", addr, trials, err)
		}
		return nil, errors.Wrapf(base.ErrTCPConnect, "connect %s: %v", addr, err)
	}
	return conn, nil
}

// check validates the merged topology against what this agent knows.
func (a *Agent) check(t *plan.RankTopology) error {
	if t.RankNum != a.cfg.RankSize || uint32(len(t.Ranks)) != a.cfg.RankSize {
		return errors.Wrapf(base.ErrInternal, "received %d ranks (rank_num %d), dispatched %d", len(t.Ranks), t.RankNum, a.cfg.RankSize)
	}
	return ranktable.CheckRankListInfo(t, ranktable.CheckOptions{Heterogeneous: true})
}
