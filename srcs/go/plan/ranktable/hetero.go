package ranktable

import (
	"net"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
)

type heteroRank struct {
	RankID   number `json:"rank_id"`
	DeviceID number `json:"device_id"`
	Port     number `json:"port"`
	RankIP   string `json:"rank_ip"`
}

type heteroNode struct {
	NodeAddr string       `json:"node_addr"`
	Ranks    []heteroRank `json:"ranks"`
}

type heteroTable struct {
	Version      string       `json:"version"`
	CollectiveID string       `json:"collective_id"`
	Mode         string       `json:"mode"`
	RankCount    number       `json:"rank_count"`
	NodeList     []heteroNode `json:"node_list"`
}

const maxPort = 65535

// heteroParser reads the 1.1 schema, where a node may mix host and device
// ranks and ports are either declared or assigned from the base port.
type heteroParser struct {
	parserBase
}

func (p *heteroParser) Init() error {
	var tab heteroTable
	if err := decode(p.text, &tab); err != nil {
		return p.fail(err)
	}
	t, err := p.build(&tab)
	if err != nil {
		return p.fail(err)
	}
	return p.finish(t, CheckOptions{Heterogeneous: true})
}

func (p *heteroParser) build(tab *heteroTable) (*plan.RankTopology, error) {
	if len(tab.CollectiveID) == 0 {
		return nil, errors.Wrap(base.ErrPara, "missing collective_id")
	}
	switch tab.Mode {
	case "":
		tab.Mode = "tcp"
	case "tcp", "rdma":
	default:
		return nil, errors.Wrapf(base.ErrPara, "invalid mode %q", tab.Mode)
	}
	if len(tab.NodeList) == 0 {
		return nil, errors.Wrap(base.ErrPara, "empty node_list")
	}
	t := &plan.RankTopology{
		Version:      tab.Version,
		CollectiveID: tab.CollectiveID,
		Mode:         tab.Mode,
		NicDeploy:    base.NicDeployHost,
	}
	var total int
	for _, node := range tab.NodeList {
		if err := p.pools.Insert(PoolNodeAddr, node.NodeAddr); err != nil {
			return nil, err
		}
		hostIP, err := plan.ParseIP(node.NodeAddr)
		if err != nil {
			return nil, err
		}
		if err := t.AddServer(plan.ServerEntry{ServerID: node.NodeAddr, HostNicIP: hostIP}); err != nil {
			return nil, err
		}
		ports, err := p.assignPorts(node)
		if err != nil {
			return nil, err
		}
		for i, hr := range node.Ranks {
			r := plan.NewRankEntry()
			if r.RankID, err = hr.RankID.required("rank_id"); err != nil {
				return nil, err
			}
			r.ServerID = node.NodeAddr
			r.NodeAddr = node.NodeAddr
			r.HostIP = hostIP
			r.HostPort = ports[i]
			if hr.DeviceID.set {
				r.DevicePhyID = hr.DeviceID.i32()
			}
			if len(hr.RankIP) > 0 {
				ip, err := plan.ParseIP(hr.RankIP)
				if err != nil {
					return nil, err
				}
				if err := p.pools.Insert(PoolDeviceIP, ip.String()); err != nil {
					return nil, err
				}
				r.DeviceIPs = []net.IP{ip}
			}
			if tab.Mode == "rdma" && !r.IsHost() && len(r.DeviceIPs) == 0 {
				return nil, errors.Wrapf(base.ErrPara, "rank %d needs rank_ip in rdma mode", r.RankID)
			}
			if err := t.AddRank(r); err != nil {
				return nil, err
			}
			total++
		}
	}
	if tab.RankCount.set && int(tab.RankCount.val) != total {
		return nil, errors.Wrapf(base.ErrPara, "rank_count %d does not match %d ranks", tab.RankCount.val, total)
	}
	return t, nil
}

// assignPorts returns the port of every rank of a node. Declared ports are
// claimed first; the others take BasePort + local index, moving upward past
// ports that are already claimed.
func (p *heteroParser) assignPorts(node heteroNode) ([]uint32, error) {
	claimed := make(map[uint32]struct{})
	for _, r := range node.Ranks {
		if r.Port.set {
			if _, ok := claimed[r.Port.u32()]; ok {
				return nil, errors.Wrapf(base.ErrPara, "port %d claimed twice on %s", r.Port.u32(), node.NodeAddr)
			}
			claimed[r.Port.u32()] = struct{}{}
		}
	}
	ports := make([]uint32, len(node.Ranks))
	for i, r := range node.Ranks {
		if r.Port.set {
			ports[i] = r.Port.u32()
			continue
		}
		port := p.opts.BasePort + uint32(i)
		for {
			if port > maxPort {
				return nil, errors.Wrapf(base.ErrPara, "no free port on %s from base port %d", node.NodeAddr, p.opts.BasePort)
			}
			if _, ok := claimed[port]; !ok {
				break
			}
			port++
		}
		claimed[port] = struct{}{}
		ports[i] = port
	}
	return ports, nil
}
