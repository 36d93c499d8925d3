package plan

import (
	"encoding/json"
	"net"

	"github.com/lsds/hcomm/srcs/go/hccl/base"
	"github.com/pkg/errors"
)

// The wire form of a RankTopology, exchanged during rendezvous.

type rankJSON struct {
	RankID          uint32   `json:"rank_id"`
	LocalRank       uint32   `json:"local_rank"`
	ServerID        string   `json:"server_id"`
	ServerIdx       uint32   `json:"server_idx"`
	SuperPodID      string   `json:"super_pod_id,omitempty"`
	SuperPodIdx     uint32   `json:"super_pod_idx"`
	SuperDeviceID   uint32   `json:"super_device_id"`
	DevicePhyID     int32    `json:"device_id"`
	DeviceIPs       []string `json:"device_ip,omitempty"`
	BackupDeviceIPs []string `json:"backup_device_ip,omitempty"`
	HostIP          string   `json:"host_ip"`
	HostPort        uint32   `json:"host_port"`
	PodName         string   `json:"pod_name,omitempty"`
	NodeAddr        string   `json:"node_addr,omitempty"`
}

type netJSON struct {
	Name     string `json:"name"`
	IP       string `json:"ip,omitempty"`
	DeviceIP string `json:"device_ip,omitempty"`
}

type serverJSON struct {
	ServerID  string    `json:"server_id"`
	HostNicIP string    `json:"host_nic_ip,omitempty"`
	Net       []netJSON `json:"net,omitempty"`
}

type topologyJSON struct {
	Step         uint32       `json:"step"`
	Version      string       `json:"version"`
	CollectiveID string       `json:"collective_id"`
	Mode         string       `json:"mode"`
	NicDeploy    int32        `json:"nic_deploy"`
	DeviceNum    uint32       `json:"device_num"`
	ServerNum    uint32       `json:"server_num"`
	SuperPodNum  uint32       `json:"super_pod_num"`
	RankNum      uint32       `json:"rank_num"`
	RankList     []rankJSON   `json:"rank_list"`
	ServerList   []serverJSON `json:"server_list"`
}

var requiredTopologyKeys = []string{
	"step", "nic_deploy", "device_num", "server_num", "rank_num", "rank_list", "server_list",
}

var requiredRankKeys = []string{
	"rank_id", "server_id", "device_id", "host_ip",
}

func formatIP(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func formatIPs(ips []net.IP) []string {
	var ss []string
	for _, ip := range ips {
		ss = append(ss, ip.String())
	}
	return ss
}

func parseIPs(ss []string) ([]net.IP, error) {
	var ips []net.IP
	for _, s := range ss {
		ip, err := ParseIP(s)
		if err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

// Struct2JSON encodes a topology with the sender's step counter.
func Struct2JSON(t *RankTopology, step uint32) ([]byte, error) {
	tj := topologyJSON{
		Step:         step,
		Version:      t.Version,
		CollectiveID: t.CollectiveID,
		Mode:         t.Mode,
		NicDeploy:    int32(t.NicDeploy),
		DeviceNum:    t.DeviceNum,
		ServerNum:    t.ServerNum,
		SuperPodNum:  t.SuperPodNum,
		RankNum:      t.RankNum,
		RankList:     []rankJSON{},
		ServerList:   []serverJSON{},
	}
	for _, r := range t.Ranks {
		tj.RankList = append(tj.RankList, rankJSON{
			RankID:          r.RankID,
			LocalRank:       r.LocalRank,
			ServerID:        r.ServerID,
			ServerIdx:       r.ServerIdx,
			SuperPodID:      r.SuperPodID,
			SuperPodIdx:     r.SuperPodIdx,
			SuperDeviceID:   r.SuperDeviceID,
			DevicePhyID:     r.DevicePhyID,
			DeviceIPs:       formatIPs(r.DeviceIPs),
			BackupDeviceIPs: formatIPs(r.BackupDeviceIPs),
			HostIP:          formatIP(r.HostIP),
			HostPort:        r.HostPort,
			PodName:         r.PodName,
			NodeAddr:        r.NodeAddr,
		})
	}
	for _, s := range t.Servers {
		sj := serverJSON{ServerID: s.ServerID, HostNicIP: formatIP(s.HostNicIP)}
		for _, n := range s.NetworkInfo {
			sj.Net = append(sj.Net, netJSON{Name: n.Name, IP: formatIP(n.IP), DeviceIP: formatIP(n.DeviceIP)})
		}
		tj.ServerList = append(tj.ServerList, sj)
	}
	bs, err := json.Marshal(&tj)
	if err != nil {
		return nil, errors.Wrapf(base.ErrInternal, "encode topology: %v", err)
	}
	return bs, nil
}

func checkKeys(raw map[string]json.RawMessage, keys []string, what string) error {
	for _, k := range keys {
		if _, ok := raw[k]; !ok {
			return errors.Wrapf(base.ErrInternal, "%s: missing property %q", what, k)
		}
	}
	return nil
}

// JSON2Struct decodes a topology and rejects it unless its step equals
// expectStep. Any malformed payload is an internal error.
func JSON2Struct(bs []byte, expectStep uint32) (*RankTopology, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bs, &raw); err != nil {
		return nil, errors.Wrapf(base.ErrInternal, "decode topology: %v", err)
	}
	if err := checkKeys(raw, requiredTopologyKeys, "topology"); err != nil {
		return nil, err
	}
	var rawRanks []map[string]json.RawMessage
	if err := json.Unmarshal(raw["rank_list"], &rawRanks); err != nil {
		return nil, errors.Wrapf(base.ErrInternal, "decode rank_list: %v", err)
	}
	for _, rr := range rawRanks {
		if err := checkKeys(rr, requiredRankKeys, "rank_list"); err != nil {
			return nil, err
		}
	}
	var tj topologyJSON
	if err := json.Unmarshal(bs, &tj); err != nil {
		return nil, errors.Wrapf(base.ErrInternal, "decode topology: %v", err)
	}
	if tj.Step != expectStep {
		return nil, errors.Wrapf(base.ErrInternal, "step mismatch: got %d, want %d", tj.Step, expectStep)
	}
	t := &RankTopology{
		Version:      tj.Version,
		CollectiveID: tj.CollectiveID,
		Mode:         tj.Mode,
		NicDeploy:    base.NicDeploy(tj.NicDeploy),
		DeviceNum:    tj.DeviceNum,
		ServerNum:    tj.ServerNum,
		SuperPodNum:  tj.SuperPodNum,
		RankNum:      tj.RankNum,
	}
	for _, rj := range tj.RankList {
		r := RankEntry{
			RankID:        rj.RankID,
			LocalRank:     rj.LocalRank,
			ServerID:      rj.ServerID,
			ServerIdx:     rj.ServerIdx,
			SuperPodID:    rj.SuperPodID,
			SuperPodIdx:   rj.SuperPodIdx,
			SuperDeviceID: rj.SuperDeviceID,
			DevicePhyID:   rj.DevicePhyID,
			HostPort:      rj.HostPort,
			PodName:       rj.PodName,
			NodeAddr:      rj.NodeAddr,
		}
		var err error
		if r.DeviceIPs, err = parseIPs(rj.DeviceIPs); err != nil {
			return nil, errors.Wrapf(base.ErrInternal, "rank %d: %v", rj.RankID, err)
		}
		if r.BackupDeviceIPs, err = parseIPs(rj.BackupDeviceIPs); err != nil {
			return nil, errors.Wrapf(base.ErrInternal, "rank %d: %v", rj.RankID, err)
		}
		if len(rj.HostIP) > 0 {
			if r.HostIP, err = ParseIP(rj.HostIP); err != nil {
				return nil, errors.Wrapf(base.ErrInternal, "rank %d: %v", rj.RankID, err)
			}
		}
		t.Ranks = append(t.Ranks, r)
	}
	for _, sj := range tj.ServerList {
		s := ServerEntry{ServerID: sj.ServerID}
		if len(sj.HostNicIP) > 0 {
			ip, err := ParseIP(sj.HostNicIP)
			if err != nil {
				return nil, errors.Wrapf(base.ErrInternal, "server %s: %v", sj.ServerID, err)
			}
			s.HostNicIP = ip
		}
		for _, nj := range sj.Net {
			n := NetworkInfo{Name: nj.Name}
			var err error
			if len(nj.IP) > 0 {
				if n.IP, err = ParseIP(nj.IP); err != nil {
					return nil, errors.Wrapf(base.ErrInternal, "server %s net %s: %v", sj.ServerID, nj.Name, err)
				}
			}
			if len(nj.DeviceIP) > 0 {
				if n.DeviceIP, err = ParseIP(nj.DeviceIP); err != nil {
					return nil, errors.Wrapf(base.ErrInternal, "server %s net %s: %v", sj.ServerID, nj.Name, err)
				}
			}
			s.NetworkInfo = append(s.NetworkInfo, n)
		}
		t.Servers = append(t.Servers, s)
	}
	return t, nil
}
