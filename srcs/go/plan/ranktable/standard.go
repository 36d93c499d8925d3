package ranktable

import (
	"net"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
)

type standardDevice struct {
	DeviceID number `json:"device_id"`
	DeviceIP string `json:"device_ip"`
}

type standardInstance struct {
	PodName  string           `json:"pod_name"`
	RankID   number           `json:"rank_id"`
	ServerID string           `json:"server_id"`
	Devices  []standardDevice `json:"devices"`
}

type standardGroup struct {
	GroupName     string             `json:"group_name"`
	DeviceCount   number             `json:"device_count"`
	InstanceCount number             `json:"instance_count"`
	InstanceList  []standardInstance `json:"instance_list"`
}

type standardNet struct {
	Name     string `json:"name"`
	IP       string `json:"ip"`
	DeviceIP string `json:"device_ip"`
}

type standardServer struct {
	ServerID  string        `json:"server_id"`
	HostNicIP string        `json:"host_nic_ip"`
	Net       []standardNet `json:"para_plane_info"`
}

type standardTable struct {
	Status     string           `json:"status"`
	GroupCount number           `json:"group_count"`
	GroupList  []standardGroup  `json:"group_list"`
	ServerList []standardServer `json:"server_list"`
}

// standardParser reads the legacy schema: groups of pod instances, each
// instance owning one device, plus a server list with NIC information.
type standardParser struct {
	parserBase
}

func (p *standardParser) Init() error {
	var tab standardTable
	if err := decode(p.text, &tab); err != nil {
		return p.fail(err)
	}
	t, err := p.build(&tab)
	if err != nil {
		return p.fail(err)
	}
	return p.finish(t, CheckOptions{})
}

func (p *standardParser) build(tab *standardTable) (*plan.RankTopology, error) {
	if tab.Status != "" && tab.Status != "completed" {
		return nil, errors.Wrapf(base.ErrPara, "rank table status is %q", tab.Status)
	}
	groupCount, err := tab.GroupCount.required("group_count")
	if err != nil {
		return nil, err
	}
	if groupCount != 1 || len(tab.GroupList) != 1 {
		return nil, errors.Wrapf(base.ErrPara, "exactly one group is supported, got group_count %d with %d groups", groupCount, len(tab.GroupList))
	}
	g := tab.GroupList[0]
	if err := p.pools.Insert(PoolGroupName, g.GroupName); err != nil {
		return nil, err
	}
	t := &plan.RankTopology{Version: "Standard", NicDeploy: base.NicDeployHost}
	if g.DeviceCount.set {
		t.DeviceNum = g.DeviceCount.u32()
	}
	if g.InstanceCount.set && int(g.InstanceCount.val) != len(g.InstanceList) {
		return nil, errors.Wrapf(base.ErrPara, "instance_count %d does not match %d instances", g.InstanceCount.val, len(g.InstanceList))
	}
	servers := make(map[string]*plan.ServerEntry)
	for _, s := range tab.ServerList {
		se, err := p.server(s)
		if err != nil {
			return nil, err
		}
		servers[s.ServerID] = se
	}
	added := make(map[string]struct{})
	for _, inst := range g.InstanceList {
		if err := p.pools.Insert(PoolPodName, inst.PodName); err != nil {
			return nil, err
		}
		if len(inst.Devices) != 1 {
			return nil, errors.Wrapf(base.ErrPara, "instance %s has %d devices, expect 1", inst.PodName, len(inst.Devices))
		}
		r := plan.NewRankEntry()
		if r.RankID, err = inst.RankID.required("rank_id"); err != nil {
			return nil, err
		}
		d := inst.Devices[0]
		devID, err := d.DeviceID.required("device_id")
		if err != nil {
			return nil, err
		}
		r.DevicePhyID = int32(devID)
		r.ServerID = inst.ServerID
		r.PodName = inst.PodName
		if ip, err := plan.ParseIP(inst.ServerID); err == nil {
			r.HostIP = ip
		}
		if len(d.DeviceIP) > 0 {
			ip, err := plan.ParseIP(d.DeviceIP)
			if err != nil {
				return nil, err
			}
			if err := p.pools.Insert(PoolDeviceIP, ip.String()); err != nil {
				return nil, err
			}
			r.DeviceIPs = []net.IP{ip}
			t.NicDeploy = base.NicDeployDevice
		}
		if _, ok := added[inst.ServerID]; !ok {
			se, ok := servers[inst.ServerID]
			if !ok && len(tab.ServerList) > 0 {
				return nil, errors.Wrapf(base.ErrPara, "server %s of instance %s is not in server_list", inst.ServerID, inst.PodName)
			}
			if !ok {
				se = &plan.ServerEntry{ServerID: inst.ServerID}
			}
			if err := t.AddServer(*se); err != nil {
				return nil, err
			}
			added[inst.ServerID] = struct{}{}
		}
		if err := t.AddRank(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (p *standardParser) server(s standardServer) (*plan.ServerEntry, error) {
	if err := p.pools.Insert(PoolServerID, s.ServerID); err != nil {
		return nil, err
	}
	se := &plan.ServerEntry{ServerID: s.ServerID}
	if len(s.HostNicIP) > 0 && s.HostNicIP != "reserve" {
		ip, err := plan.ParseIP(s.HostNicIP)
		if err != nil {
			return nil, err
		}
		se.HostNicIP = ip
	}
	for _, n := range s.Net {
		ni := plan.NetworkInfo{Name: n.Name}
		if len(n.IP) > 0 {
			ip, err := plan.ParseIP(n.IP)
			if err != nil {
				return nil, err
			}
			ni.IP = ip
		}
		if len(n.DeviceIP) > 0 {
			ip, err := plan.ParseIP(n.DeviceIP)
			if err != nil {
				return nil, err
			}
			ni.DeviceIP = ip
		}
		se.NetworkInfo = append(se.NetworkInfo, ni)
	}
	return se, nil
}
