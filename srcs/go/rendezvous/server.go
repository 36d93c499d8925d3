package rendezvous

import (
	"bytes"
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/log"
	"github.com/lsds/hcomm/srcs/go/monitor"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/lsds/hcomm/srcs/go/plan/ranktable"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type ServerConfig struct {
	// ListenAddr with port 0 picks a free port.
	ListenAddr plan.NetAddr
	// Timeout bounds the whole exchange, from Serve to the last reply.
	Timeout time.Duration
	// Whitelist, when set, rejects peers it does not list.
	Whitelist *Whitelist
	// WorkerCapacity is the number of agents one dispatch worker serves.
	WorkerCapacity int
	// Step is the step agents must send; replies carry Step+1.
	Step uint32
}

type agentConn struct {
	id    string
	conn  net.Conn
	local *plan.RankTopology
}

func (a *agentConn) peer() string { return a.conn.RemoteAddr().String() }

// Server collects one descriptor per agent and replies with the merged
// topology. A Server serves one exchange.
type Server struct {
	cfg      ServerConfig
	listener *net.TCPListener

	mu       sync.Mutex
	agents   []*agentConn
	rankSize uint32
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.WorkerCapacity <= 0 {
		cfg.WorkerCapacity = DefaultWorkerCapacity
	}
	return &Server{cfg: cfg}
}

func (s *Server) Listen() error {
	ip := s.cfg.ListenAddr.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(s.cfg.ListenAddr.Port)))
	log.Debugf("rendezvous server listening: %s", addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.ReportSink(log.Report{
			Code:  log.CodeSocketBuild,
			Cause: "rendezvous server failed to listen on " + addr,
			Tip:   "Please check whether the port is in use or the ip is local.",
		}, zap.Error(err))
		return errors.Wrapf(base.ErrTCPConnect, "listen %s: %v", addr, err)
	}
	s.listener = ln.(*net.TCPListener)
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() plan.NetAddr {
	a := s.listener.Addr().(*net.TCPAddr)
	ip := a.IP
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return plan.NetAddr{IP: ip, Port: uint32(a.Port)}
}

// Serve accepts agents until the rank size the first agent announced is
// reached, then broadcasts the merged topology.
func (s *Server) Serve(ctx context.Context) (*plan.RankTopology, error) {
	if s.listener == nil {
		return nil, errors.Wrap(base.ErrInternal, "serve before listen")
	}
	t0 := time.Now()
	t, err := s.serve(ctx, t0.Add(s.cfg.Timeout))
	monitor.GetMonitor().Handshake("server", time.Since(t0), err)
	return t, err
}

func (s *Server) serve(ctx context.Context, deadline time.Time) (*plan.RankTopology, error) {
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() { s.listener.SetDeadline(time.Now()) })
	defer stop()
	if err := s.listener.SetDeadline(deadline); err != nil {
		return nil, errors.Wrapf(base.ErrSyscall, "set accept deadline: %v", err)
	}
	for !s.complete() {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrapf(base.ErrTimeout, "rendezvous cancelled: %v", ctx.Err())
			}
			if isTimeout(err) {
				return nil, s.timeout()
			}
			return nil, errors.Wrapf(base.ErrTCPConnect, "accept: %v", err)
		}
		if err := s.admit(conn, deadline); err != nil {
			if base.CodeOf(err) == base.ErrTimeout {
				return nil, s.timeout()
			}
			return nil, err
		}
	}
	merged, identities, err := s.merge()
	if err != nil {
		return nil, err
	}
	if err := s.broadcast(merged, identities, deadline); err != nil {
		return nil, err
	}
	log.Infof("rendezvous done: %s", merged)
	return merged, nil
}

func (s *Server) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rankSize > 0 && len(s.agents) == int(s.rankSize)
}

// admit reads the descriptor of a new connection. A rejected peer is closed
// and skipped; a malformed or inconsistent message fails the exchange.
func (s *Server) admit(conn net.Conn, deadline time.Time) error {
	peerIP := conn.RemoteAddr().(*net.TCPAddr).IP
	if wl := s.cfg.Whitelist; wl != nil && !wl.Allowed(peerIP) {
		reportRejected(peerIP)
		monitor.GetMonitor().Connection(false)
		conn.Close()
		return nil
	}
	monitor.GetMonitor().Connection(true)
	fr := newHelloReader()
	if err := fr.ReadFrom(conn, deadline); err != nil {
		conn.Close()
		return err
	}
	monitor.GetMonitor().Ingress(int64(helloSize + lengthSize + len(fr.Body())))
	hdr := fr.Header()
	local, err := plan.JSON2Struct(fr.Body(), s.cfg.Step)
	if err != nil {
		conn.Close()
		return errors.Wrapf(err, "agent %s from %s", hdr.ID(), conn.RemoteAddr())
	}
	if len(local.Ranks) != 1 {
		conn.Close()
		return errors.Wrapf(base.ErrInternal, "agent %s sent %d ranks, expect 1", hdr.ID(), len(local.Ranks))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if hdr.RankSize == 0 {
		conn.Close()
		return errors.Wrapf(base.ErrPara, "agent %s announced rank size 0", hdr.ID())
	}
	if s.rankSize == 0 {
		s.rankSize = hdr.RankSize
		log.Debugf("rendezvous expects %d agents", s.rankSize)
	} else if hdr.RankSize != s.rankSize {
		conn.Close()
		return errors.Wrapf(base.ErrPara, "agent %s announced rank size %d, expect %d", hdr.ID(), hdr.RankSize, s.rankSize)
	}
	for _, a := range s.agents {
		if a.id == hdr.ID() {
			conn.Close()
			return errors.Wrapf(base.ErrPara, "duplicated agent id %s", a.id)
		}
	}
	s.agents = append(s.agents, &agentConn{id: hdr.ID(), conn: conn, local: local})
	log.Debugf("agent %s joined from %s (%d/%d)", hdr.ID(), conn.RemoteAddr(), len(s.agents), s.rankSize)
	return nil
}

// timeout logs every agent that made it before failing the exchange.
func (s *Server) timeout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Errorf("rendezvous timed out after %s: %d of %d agents connected", s.cfg.Timeout, len(s.agents), s.rankSize)
	for _, a := range s.agents {
		for _, r := range a.local.Ranks {
			log.Errorf("connected agent %s from %s: %s host=%s", a.id, a.peer(), r, r.HostIP)
		}
	}
	log.ReportSink(log.Report{
		Code:  log.CodeSocketBuild,
		Cause: "topology exchange timed out waiting for agents",
		Tip:   "Please check that every rank started and can reach the root, or raise HCCL_LINK_TIMEOUT.",
	}, zap.Int("connected", len(s.agents)), zap.Uint32("expected", s.rankSize))
	return errors.Wrapf(base.ErrTimeout, "%d of %d agents connected", len(s.agents), s.rankSize)
}

type mergedRank struct {
	agent int
	rank  plan.RankEntry
}

// merge builds the global topology. When every agent left its rank id to
// the server, ranks are numbered by host ip then device physical id and the
// returned identities hold the id given to each agent.
func (s *Server) merge() (*plan.RankTopology, []uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []mergedRank
	var unassigned int
	for i, a := range s.agents {
		for _, r := range a.local.Ranks {
			if r.RankID == plan.InvalidRankID {
				unassigned++
			}
			all = append(all, mergedRank{agent: i, rank: r})
		}
	}
	assign := unassigned > 0
	if assign && unassigned != len(all) {
		return nil, nil, errors.Wrapf(base.ErrPara, "%d of %d ranks carry no rank id", unassigned, len(all))
	}
	if assign {
		sort.SliceStable(all, func(i, j int) bool {
			a, b := all[i].rank, all[j].rank
			if c := bytes.Compare(a.HostIP, b.HostIP); c != 0 {
				return c < 0
			}
			return a.DevicePhyID < b.DevicePhyID
		})
		for i := range all {
			all[i].rank.RankID = uint32(i)
		}
	} else {
		sort.SliceStable(all, func(i, j int) bool { return all[i].rank.RankID < all[j].rank.RankID })
	}

	first := s.agents[0].local
	t := &plan.RankTopology{
		Version:      first.Version,
		CollectiveID: first.CollectiveID,
		Mode:         first.Mode,
		NicDeploy:    first.NicDeploy,
	}
	identities := make([]uint32, len(s.agents))
	for i := range identities {
		identities[i] = plan.InvalidRankID
	}
	for _, m := range all {
		if err := t.AddRank(m.rank); err != nil {
			return nil, nil, err
		}
		if identities[m.agent] == plan.InvalidRankID {
			identities[m.agent] = m.rank.RankID
		}
	}
	seen := make(map[string]bool)
	for _, a := range s.agents {
		for _, sv := range a.local.Servers {
			if !seen[sv.ServerID] {
				seen[sv.ServerID] = true
				if err := t.AddServer(sv); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	for _, id := range t.Ranks.ServerIDs() {
		if !seen[id] {
			seen[id] = true
			if err := t.AddServer(plan.ServerEntry{ServerID: id}); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := t.AssignIndices(); err != nil {
		return nil, nil, err
	}
	if err := t.Recount(); err != nil {
		return nil, nil, err
	}
	if err := ranktable.CheckRankIDContinuous(t); err != nil {
		return nil, nil, err
	}
	t.Freeze()
	if !assign {
		identities = nil
	}
	return t, identities, nil
}

func (s *Server) broadcast(t *plan.RankTopology, identities []uint32, deadline time.Time) error {
	body, err := plan.Struct2JSON(t, s.cfg.Step+1)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conns := make(map[string]net.Conn, len(s.agents))
	data := make(map[string][]byte, len(s.agents))
	for i, a := range s.agents {
		conns[a.id] = a.conn
		if identities != nil {
			data[a.id] = encodeReply(body, &identities[i])
		} else {
			data[a.id] = encodeReply(body, nil)
		}
	}
	s.mu.Unlock()

	d := newDispatcher(DispatchWorkers(len(conns), s.cfg.WorkerCapacity))
	defer d.Close()
	return d.Broadcast(conns, data, deadline)
}

// RootInfo publishes this server under the given host ip.
func (s *Server) RootInfo(hostIP net.IP, devicePhyID int32, nic base.NicDeploy) RootInfo {
	return NewRootInfo(plan.NetAddr{IP: hostIP, Port: s.Addr().Port}, devicePhyID, nic, time.Now())
}

// Agents returns the ids of the connected agents in arrival order.
func (s *Server) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, a := range s.agents {
		ids = append(ids, a.id)
	}
	return ids
}

// Close releases the listener and every agent connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		a.conn.Close()
	}
	s.agents = nil
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
