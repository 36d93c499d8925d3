package plan

import (
	"fmt"
	"net"
)

const (
	// HostDeviceID is the device id of a CPU-only participant.
	HostDeviceID int32 = -1
	// InvalidSuperDeviceID is the default super device id of a rank that
	// does not belong to any super pod.
	InvalidSuperDeviceID uint32 = 0xFFFFFFFF
	// InvalidRankID marks a rank whose id is assigned by the rendezvous server.
	InvalidRankID uint32 = 0xFFFFFFFF
)

// RankEntry is one participant of a collective domain.
type RankEntry struct {
	RankID          uint32
	LocalRank       uint32
	ServerID        string
	ServerIdx       uint32
	SuperPodID      string
	SuperPodIdx     uint32
	SuperDeviceID   uint32
	DevicePhyID     int32
	DeviceIPs       []net.IP
	BackupDeviceIPs []net.IP
	HostIP          net.IP
	HostPort        uint32
	PodName         string
	NodeAddr        string
}

// NewRankEntry returns an entry with the sentinel defaults set.
func NewRankEntry() RankEntry {
	return RankEntry{
		RankID:        InvalidRankID,
		SuperDeviceID: InvalidSuperDeviceID,
		DevicePhyID:   HostDeviceID,
	}
}

func (r RankEntry) IsHost() bool {
	return r.DevicePhyID == HostDeviceID
}

// Family returns the family of the first device ip, or of the host ip when
// the rank has no device ip.
func (r RankEntry) Family() Family {
	if len(r.DeviceIPs) > 0 {
		return FamilyOf(r.DeviceIPs[0])
	}
	return FamilyOf(r.HostIP)
}

func (r RankEntry) HostAddr() NetAddr {
	return NetAddr{IP: r.HostIP, Port: r.HostPort}
}

func (r RankEntry) String() string {
	return fmt.Sprintf("rank[%d]{server=%s,dev=%d,local=%d,pod=%s,sdid=%d}",
		r.RankID, r.ServerID, r.DevicePhyID, r.LocalRank, r.SuperPodID, r.SuperDeviceID)
}

func (r RankEntry) clone() RankEntry {
	c := r
	c.DeviceIPs = cloneIPs(r.DeviceIPs)
	c.BackupDeviceIPs = cloneIPs(r.BackupDeviceIPs)
	if r.HostIP != nil {
		c.HostIP = append(net.IP(nil), r.HostIP...)
	}
	return c
}

func cloneIPs(ips []net.IP) []net.IP {
	if ips == nil {
		return nil
	}
	out := make([]net.IP, len(ips))
	for i, ip := range ips {
		out[i] = append(net.IP(nil), ip...)
	}
	return out
}

// NetworkInfo is a legacy per-server interface description.
type NetworkInfo struct {
	Name     string
	IP       net.IP
	DeviceIP net.IP
}

// ServerEntry is one physical server.
type ServerEntry struct {
	ServerID    string
	HostNicIP   net.IP
	NetworkInfo []NetworkInfo
}

func (s ServerEntry) clone() ServerEntry {
	c := s
	c.NetworkInfo = append([]NetworkInfo(nil), s.NetworkInfo...)
	return c
}
