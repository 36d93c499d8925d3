package ranktable

import (
	"net"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/lsds/hcomm/srcs/go/plan"
	"github.com/pkg/errors"
)

type conciseDevice struct {
	DeviceID       number   `json:"device_id"`
	RankID         number   `json:"rank_id"`
	DeviceIP       string   `json:"device_ip"`
	BackupDeviceIP string   `json:"backup_device_ip"`
	SuperDeviceID  number   `json:"super_device_id"`
	DeviceIPs      []string `json:"device_ips"`
}

type conciseServer struct {
	ServerID  string          `json:"server_id"`
	HostIP    string          `json:"host_ip"`
	HostNicIP string          `json:"host_nic_ip"`
	SuperPod  string          `json:"super_pod_id"`
	Devices   []conciseDevice `json:"device"`
}

type superPodServer struct {
	ServerID string `json:"server_id"`
}

type superPod struct {
	SuperPodID string           `json:"super_pod_id"`
	ServerList []superPodServer `json:"server_list"`
}

type conciseTable struct {
	Version      string          `json:"version"`
	Status       string          `json:"status"`
	ServerCount  number          `json:"server_count"`
	ServerList   []conciseServer `json:"server_list"`
	SuperPodList []superPod      `json:"super_pod_list"`
}

// conciseParser reads the 1.0 and 1.2 schemas: a server list with nested
// devices, plus an optional super pod list in 1.2.
type conciseParser struct {
	parserBase
}

func (p *conciseParser) Init() error {
	var tab conciseTable
	if err := decode(p.text, &tab); err != nil {
		return p.fail(err)
	}
	t, err := p.build(&tab)
	if err != nil {
		return p.fail(err)
	}
	return p.finish(t, CheckOptions{})
}

func (p *conciseParser) build(tab *conciseTable) (*plan.RankTopology, error) {
	if tab.Status != "" && tab.Status != "completed" {
		return nil, errors.Wrapf(base.ErrPara, "rank table status is %q", tab.Status)
	}
	serverCount, err := tab.ServerCount.required("server_count")
	if err != nil {
		return nil, err
	}
	if int(serverCount) != len(tab.ServerList) {
		return nil, errors.Wrapf(base.ErrPara, "server_count %d does not match %d servers in server_list", serverCount, len(tab.ServerList))
	}
	t := &plan.RankTopology{Version: tab.Version, ServerNum: serverCount}
	podOf, err := p.superPods(tab)
	if err != nil {
		return nil, err
	}
	deviceSide := false
	for _, s := range tab.ServerList {
		if err := p.pools.Insert(PoolServerID, s.ServerID); err != nil {
			return nil, err
		}
		if len(s.SuperPod) > 0 {
			if err := p.pools.Find(PoolSuperPodID, s.SuperPod); err != nil {
				return nil, errors.Wrapf(err, "server %s", s.ServerID)
			}
			if podOf[s.ServerID] != s.SuperPod {
				return nil, errors.Wrapf(base.ErrPara, "server %s declares super pod %s", s.ServerID, s.SuperPod)
			}
		}
		se := plan.ServerEntry{ServerID: s.ServerID}
		if ip, err := plan.ParseIP(s.HostNicIP); err == nil {
			se.HostNicIP = ip
		}
		if err := t.AddServer(se); err != nil {
			return nil, err
		}
		var hostIP net.IP
		if len(s.HostIP) > 0 {
			if hostIP, err = plan.ParseIP(s.HostIP); err != nil {
				return nil, err
			}
		} else if ip, err := plan.ParseIP(s.ServerID); err == nil {
			hostIP = ip
		}
		if len(s.Devices) == 0 {
			return nil, errors.Wrapf(base.ErrPara, "server %s has no device", s.ServerID)
		}
		for _, d := range s.Devices {
			r, err := p.rank(s.ServerID, d)
			if err != nil {
				return nil, err
			}
			r.HostIP = hostIP
			if pod, ok := podOf[s.ServerID]; ok {
				r.SuperPodID = pod
			} else if len(podOf) > 0 {
				return nil, errors.Wrapf(base.ErrPara, "server %s is not in super_pod_list", s.ServerID)
			}
			if len(r.DeviceIPs) > 0 {
				deviceSide = true
			}
			if err := t.AddRank(r); err != nil {
				return nil, err
			}
		}
	}
	if deviceSide {
		t.NicDeploy = base.NicDeployDevice
	} else {
		t.NicDeploy = base.NicDeployHost
	}
	return t, nil
}

func (p *conciseParser) rank(serverID string, d conciseDevice) (plan.RankEntry, error) {
	r := plan.NewRankEntry()
	r.ServerID = serverID
	rankID, err := d.RankID.required("rank_id")
	if err != nil {
		return r, err
	}
	devID, err := d.DeviceID.required("device_id")
	if err != nil {
		return r, err
	}
	r.RankID, r.DevicePhyID = rankID, int32(devID)
	if d.SuperDeviceID.set {
		r.SuperDeviceID = d.SuperDeviceID.u32()
	}
	ips := d.DeviceIPs
	if len(d.DeviceIP) > 0 {
		ips = append([]string{d.DeviceIP}, ips...)
	}
	for _, s := range ips {
		ip, err := plan.ParseIP(s)
		if err != nil {
			return r, err
		}
		if err := p.pools.Insert(PoolDeviceIP, ip.String()); err != nil {
			return r, err
		}
		r.DeviceIPs = append(r.DeviceIPs, ip)
	}
	if len(d.BackupDeviceIP) > 0 {
		ip, err := plan.ParseIP(d.BackupDeviceIP)
		if err != nil {
			return r, err
		}
		if err := p.pools.Insert(PoolDeviceIP, ip.String()); err != nil {
			return r, err
		}
		r.BackupDeviceIPs = append(r.BackupDeviceIPs, ip)
	}
	return r, nil
}

// superPods maps server ids to their super pod id. Server ids in the super
// pod list must refer to servers of the server list.
func (p *conciseParser) superPods(tab *conciseTable) (map[string]string, error) {
	podOf := make(map[string]string)
	if len(tab.SuperPodList) == 0 {
		return podOf, nil
	}
	known := newPools()
	for _, s := range tab.ServerList {
		known.Insert(PoolServerID, s.ServerID) // duplicates are reported by the server pass
	}
	for _, pod := range tab.SuperPodList {
		if err := p.pools.Insert(PoolSuperPodID, pod.SuperPodID); err != nil {
			return nil, err
		}
		for _, s := range pod.ServerList {
			if err := known.Find(PoolServerID, s.ServerID); err != nil {
				return nil, errors.Wrapf(err, "super pod %s", pod.SuperPodID)
			}
			if other, ok := podOf[s.ServerID]; ok {
				return nil, errors.Wrapf(base.ErrPara, "server %s is in super pod %s and %s", s.ServerID, other, pod.SuperPodID)
			}
			podOf[s.ServerID] = pod.SuperPodID
		}
	}
	return podOf, nil
}
